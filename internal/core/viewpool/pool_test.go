package viewpool

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

type fakeRenderer struct {
	mu       sync.Mutex
	tabID    types.TabId
	windowID types.WindowId
	url      string
	closed   bool
}

func newFakeRenderer(tabID types.TabId, windowID types.WindowId, resumeURL string) (Renderer, error) {
	return &fakeRenderer{tabID: tabID, windowID: windowID, url: resumeURL}, nil
}

func (f *fakeRenderer) TabID() types.TabId    { return f.tabID }
func (f *fakeRenderer) WindowID() types.WindowId {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windowID
}
func (f *fakeRenderer) Rebind(w types.WindowId) {
	f.mu.Lock()
	f.windowID = w
	f.mu.Unlock()
}
func (f *fakeRenderer) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}
func (f *fakeRenderer) Load(ctx context.Context, url string) error {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
	return nil
}
func (f *fakeRenderer) GoBack(ctx context.Context) error    { return nil }
func (f *fakeRenderer) GoForward(ctx context.Context) error { return nil }
func (f *fakeRenderer) Reload(ctx context.Context) error    { return nil }
func (f *fakeRenderer) Stop(ctx context.Context) error      { return nil }
func (f *fakeRenderer) CapturePage(ctx context.Context) (string, error) {
	return "data:image/png;base64,fake", nil
}
func (f *fakeRenderer) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}
func (f *fakeRenderer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newTestPool(t *testing.T, maxSize int) (*Pool, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	return New(Config{MaxPoolSize: maxSize}, newFakeRenderer, bus, nil), bus
}

func TestAcquireCreatesExactlyOneRendererPerTab(t *testing.T) {
	pool, _ := newTestPool(t, 5)

	r1, err := pool.Acquire("tab-1", "win-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r2, err := pool.Acquire("tab-1", "win-1")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("expected the same renderer instance on re-acquire of a resident tab")
	}
	if pool.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", pool.Size())
	}
}

func TestAcquireEvictsLRUWhenAtCapacity(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	r1, _ := pool.Acquire("tab-1", "win-1")
	_, _ = pool.Acquire("tab-2", "win-1")

	// touch tab-1 again so it becomes MRU, leaving tab-2 as LRU
	if _, err := pool.Acquire("tab-1", "win-1"); err != nil {
		t.Fatalf("re-acquire tab-1: %v", err)
	}

	if _, err := pool.Acquire("tab-3", "win-1"); err != nil {
		t.Fatalf("acquire tab-3: %v", err)
	}

	if pool.Size() != 2 {
		t.Fatalf("expected pool size to stay at capacity 2, got %d", pool.Size())
	}
	if pool.Get("tab-2") != nil {
		t.Fatalf("expected tab-2 (the LRU entry) to have been evicted")
	}
	if pool.Get("tab-1") == nil {
		t.Fatalf("expected tab-1 (recently touched) to still be resident")
	}
	if r1.(*fakeRenderer).closed {
		t.Fatalf("tab-1's renderer should not have been closed")
	}
}

func TestEvictionEmitsBeforeEvictionEventWithWorkingCapture(t *testing.T) {
	pool, bus := newTestPool(t, 1)

	var captured string
	var gotTopic bool
	bus.Subscribe(eventbus.TabBeforeEviction, func(payload any) {
		gotTopic = true
		ev := payload.(eventbus.EvictionEvent)
		if ev.TabID != "tab-1" {
			t.Errorf("expected eviction event for tab-1, got %s", ev.TabID)
		}
		img, err := ev.Capture(context.Background())
		if err != nil {
			t.Errorf("capture: %v", err)
		}
		captured = img
	})

	_, _ = pool.Acquire("tab-1", "win-1")
	_, _ = pool.Acquire("tab-2", "win-1") // evicts tab-1

	if !gotTopic {
		t.Fatalf("expected tab:before-eviction to fire")
	}
	if captured == "" {
		t.Fatalf("expected a non-empty captured snapshot from the evicted renderer")
	}
}

func TestReleasePreservesLastKnownURL(t *testing.T) {
	pool, _ := newTestPool(t, 5)

	r, _ := pool.Acquire("tab-1", "win-1")
	_ = r.Load(context.Background(), "https://example.com/resume")

	pool.Release("tab-1")
	if pool.Get("tab-1") != nil {
		t.Fatalf("expected tab-1 to no longer be resident after release")
	}
	if got := pool.LastKnownURL("tab-1"); got != "https://example.com/resume" {
		t.Fatalf("expected preserved url, got %q", got)
	}

	r2, err := pool.Acquire("tab-1", "win-1")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	if r2.CurrentURL() != "https://example.com/resume" {
		t.Fatalf("expected reacquired renderer to resume at preserved url, got %q", r2.CurrentURL())
	}
}

func TestMigrateRebindsWithoutRecreating(t *testing.T) {
	pool, _ := newTestPool(t, 5)

	r, _ := pool.Acquire("tab-1", "win-1")
	pool.Migrate("tab-1", "win-2")

	if r.WindowID() != "win-2" {
		t.Fatalf("expected renderer rebound to win-2, got %s", r.WindowID())
	}
	if got := pool.Get("tab-1"); got != r {
		t.Fatalf("expected migrate to keep the same renderer instance")
	}
}

func TestCleanupWindowMappingsRemovesOnlyMatchingWindow(t *testing.T) {
	pool, _ := newTestPool(t, 5)

	_, _ = pool.Acquire("tab-1", "win-1")
	_, _ = pool.Acquire("tab-2", "win-2")

	pool.CleanupWindowMappings("win-1")

	pool.mu.Lock()
	_, tab1Mapped := pool.windowOf["tab-1"]
	tab2Window := pool.windowOf["tab-2"]
	pool.mu.Unlock()
	if tab1Mapped {
		t.Fatalf("expected tab-1's window mapping to be dropped")
	}
	if tab2Window != "win-2" {
		t.Fatalf("expected tab-2's mapping to win-2 to survive, got %q", tab2Window)
	}

	// The renderers themselves stay resident and rebindable.
	pool.Migrate("tab-1", "win-3")
	if r := pool.Get("tab-1"); r == nil || r.WindowID() != "win-3" {
		t.Fatalf("expected tab-1 still resident and rebindable after its window mapping was cleaned up")
	}
	if r := pool.Get("tab-2"); r == nil || r.WindowID() != "win-2" {
		t.Fatalf("expected tab-2 unaffected by cleanup of a different window")
	}
}

func TestCleanupClosesEveryResidentRenderer(t *testing.T) {
	pool, _ := newTestPool(t, 5)

	var renderers []*fakeRenderer
	for i := 0; i < 3; i++ {
		r, _ := pool.Acquire(types.TabId(fmt.Sprintf("tab-%d", i)), "win-1")
		renderers = append(renderers, r.(*fakeRenderer))
	}

	pool.Cleanup()

	for i, r := range renderers {
		if !r.closed {
			t.Errorf("expected renderer %d to be closed after cleanup", i)
		}
	}
	if pool.Size() != 0 {
		t.Fatalf("expected pool to be empty after cleanup")
	}
	if _, err := pool.Acquire("tab-new", "win-1"); err == nil {
		t.Fatalf("expected acquire on a closed pool to fail")
	}
}
