package stateservice

import (
	"sync"
	"testing"
	"time"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }

type outboundRecorder struct {
	mu      sync.Mutex
	updates []types.OutboundUpdate
}

func (r *outboundRecorder) record(u types.OutboundUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *outboundRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *outboundRecorder) last() types.OutboundUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func newTestService(t *testing.T, debounce time.Duration) (*Service, *eventbus.Bus, *outboundRecorder) {
	t.Helper()
	bus := eventbus.New(nil)
	rec := &outboundRecorder{}
	svc := New(bus, rec.record, debounce, nil, nil)
	return svc, bus, rec
}

func seedWindow(svc *Service, windowID types.WindowId, tabID types.TabId, url string) {
	svc.SetState(windowID, types.WindowState{
		Tabs:        []types.TabState{{ID: tabID, WindowID: windowID, URL: url}},
		ActiveTabID: tabID,
		FreezeState: types.Active(),
	}, true)
}

func TestUpdateTabProgressMonotonicity(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)
	seedWindow(svc, "w1", "t1", "https://example.com/")

	if err := svc.UpdateTab("w1", "t1", TabPatch{LoadingProgress: intPtr(ProgressDidNavigate)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	// An out-of-order lower progress value must not regress the floor.
	if err := svc.UpdateTab("w1", "t1", TabPatch{LoadingProgress: intPtr(ProgressStartLoading)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	win, _ := svc.GetState("w1")
	if got := win.Tabs[0].LoadingProgress; got != ProgressDidNavigate {
		t.Fatalf("expected progress to stay at floor %d, got %d", ProgressDidNavigate, got)
	}

	// Changing the URL resets the floor to 0.
	if err := svc.UpdateTab("w1", "t1", TabPatch{URL: strPtr("https://example.org/")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	win, _ = svc.GetState("w1")
	if win.Tabs[0].LoadingProgress != 0 {
		t.Fatalf("expected progress reset to 0 after url change, got %d", win.Tabs[0].LoadingProgress)
	}
	if err := svc.UpdateTab("w1", "t1", TabPatch{LoadingProgress: intPtr(ProgressStartLoading)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	win, _ = svc.GetState("w1")
	if win.Tabs[0].LoadingProgress != ProgressStartLoading {
		t.Fatalf("expected progress %d after reset, got %d", ProgressStartLoading, win.Tabs[0].LoadingProgress)
	}
}

func TestUpdateTabNavigationRelevance(t *testing.T) {
	svc, bus, _ := newTestService(t, time.Hour)
	seedWindow(svc, "w1", "t1", "https://example.com/")

	var events []eventbus.StateChangedEvent
	bus.Subscribe(eventbus.StateChanged, func(payload any) {
		events = append(events, payload.(eventbus.StateChangedEvent))
	})

	// Title-only change: not navigation relevant.
	_ = svc.UpdateTab("w1", "t1", TabPatch{Title: strPtr("New Title")})
	if len(events) == 0 || events[len(events)-1].IsNavigationRelevant {
		t.Fatalf("expected a title-only change to not be navigation relevant")
	}

	// isLoading change: navigation relevant.
	_ = svc.UpdateTab("w1", "t1", TabPatch{IsLoading: boolPtr(true)})
	if !events[len(events)-1].IsNavigationRelevant {
		t.Fatalf("expected an isLoading change to be navigation relevant")
	}
}

func TestSetBoundsIsNotNavigationRelevant(t *testing.T) {
	svc, bus, _ := newTestService(t, time.Hour)
	seedWindow(svc, "w1", "t1", "https://example.com/")

	var last eventbus.StateChangedEvent
	bus.Subscribe(eventbus.StateChanged, func(payload any) {
		last = payload.(eventbus.StateChangedEvent)
	})

	if err := svc.SetBounds("w1", types.Bounds{Width: 100, Height: 100}); err != nil {
		t.Fatalf("set bounds: %v", err)
	}
	if last.IsNavigationRelevant {
		t.Fatalf("expected setBounds to not be navigation relevant")
	}
}

func TestCloseLastTabReplacementWiredThroughAddThenRemove(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)
	seedWindow(svc, "w1", "t1", "https://example.com/")

	if err := svc.AddTab("w1", types.NewTab("t2", "w1", "about:blank", false)); err != nil {
		t.Fatalf("add tab: %v", err)
	}
	if err := svc.RemoveTab("w1", "t1"); err != nil {
		t.Fatalf("remove tab: %v", err)
	}
	win, _ := svc.GetState("w1")
	if len(win.Tabs) != 1 || win.Tabs[0].ID != "t2" {
		t.Fatalf("expected only t2 to remain, got %+v", win.Tabs)
	}
}

func TestOutboundDebounceCoalescesRapidUpdates(t *testing.T) {
	svc, _, rec := newTestService(t, 30*time.Millisecond)
	seedWindow(svc, "w1", "t1", "https://example.com/")
	initialCount := rec.count()

	for i := 0; i < 5; i++ {
		_ = svc.UpdateTab("w1", "t1", TabPatch{LoadingProgress: intPtr(ProgressStartLoading + i)})
	}

	time.Sleep(80 * time.Millisecond)

	if got := rec.count() - initialCount; got != 1 {
		t.Fatalf("expected exactly one coalesced outbound notification, got %d", got)
	}
	if rec.last().WindowID != "w1" {
		t.Fatalf("expected outbound notification for w1, got %s", rec.last().WindowID)
	}
}

func TestRemoveStateCancelsPendingDebounce(t *testing.T) {
	svc, _, rec := newTestService(t, 30*time.Millisecond)
	seedWindow(svc, "w1", "t1", "https://example.com/")
	initialCount := rec.count()

	_ = svc.UpdateTab("w1", "t1", TabPatch{Title: strPtr("x")})
	svc.RemoveState("w1")

	time.Sleep(80 * time.Millisecond)

	if got := rec.count() - initialCount; got != 0 {
		t.Fatalf("expected no outbound notification after state removal, got %d", got)
	}
}

func TestSetFreezeStateFreezesThenUnfreezes(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)
	seedWindow(svc, "w1", "t1", "https://example.com/")

	if err := svc.SetFreezeState("w1", types.Frozen("data:image/png;base64,AAA")); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	win, _ := svc.GetState("w1")
	if win.FreezeState.Kind != types.FreezeFrozen {
		t.Fatalf("expected FROZEN")
	}

	if err := svc.SetFreezeState("w1", types.Active()); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	win, _ = svc.GetState("w1")
	if win.FreezeState.Kind != types.FreezeActive {
		t.Fatalf("expected ACTIVE")
	}
}
