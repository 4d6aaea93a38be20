package snapshotstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

type stubRenderer struct {
	tabID  types.TabId
	url    string
	dataURL string
	failCapture bool
}

func (r *stubRenderer) TabID() types.TabId              { return r.tabID }
func (r *stubRenderer) WindowID() types.WindowId         { return "" }
func (r *stubRenderer) Rebind(types.WindowId)            {}
func (r *stubRenderer) CurrentURL() string               { return r.url }
func (r *stubRenderer) Load(context.Context, string) error { return nil }
func (r *stubRenderer) GoBack(context.Context) error      { return nil }
func (r *stubRenderer) GoForward(context.Context) error   { return nil }
func (r *stubRenderer) Reload(context.Context) error      { return nil }
func (r *stubRenderer) Stop(context.Context) error        { return nil }
func (r *stubRenderer) IsAlive() bool                     { return true }
func (r *stubRenderer) Close() error                      { return nil }
func (r *stubRenderer) CapturePage(context.Context) (string, error) {
	if r.failCapture {
		return "", errCaptureStub
	}
	return r.dataURL, nil
}

var errCaptureStub = fmt.Errorf("stub capture failure")

type stubPool struct {
	residents map[types.TabId]viewpool.Renderer
}

func (p *stubPool) Get(tabID types.TabId) viewpool.Renderer {
	return p.residents[tabID]
}

type stubState struct {
	windows map[types.WindowId]types.WindowState
}

func (s *stubState) GetState(windowID types.WindowId) (types.WindowState, bool) {
	w, ok := s.windows[windowID]
	return w, ok
}

func (s *stubState) SetFreezeState(windowID types.WindowId, freeze types.FreezeState) error {
	w := s.windows[windowID]
	w.FreezeState = freeze
	s.windows[windowID] = w
	return nil
}

func newTestStore(t *testing.T, maxSnapshots int) (*Store, *eventbus.Bus, *stubPool, *stubState) {
	t.Helper()
	bus := eventbus.New(nil)
	pool := &stubPool{residents: make(map[types.TabId]viewpool.Renderer)}
	state := &stubState{windows: make(map[types.WindowId]types.WindowState)}
	store := New(Config{MaxSnapshots: maxSnapshots}, bus, pool, state, nil)
	return store, bus, pool, state
}

func activeWindow(windowID types.WindowId, tabID types.TabId, url string) types.WindowState {
	return types.WindowState{
		WindowID:    windowID,
		Tabs:        []types.TabState{{ID: tabID, WindowID: windowID, URL: url}},
		ActiveTabID: tabID,
		FreezeState: types.Active(),
	}
}

func TestCaptureSnapshotStoresAndReturnsFreshCapture(t *testing.T) {
	store, _, pool, state := newTestStore(t, 10)
	state.windows["w1"] = activeWindow("w1", "t1", "https://example.com/")
	pool.residents["t1"] = &stubRenderer{tabID: "t1", url: "https://example.com/", dataURL: "data:image/png;base64,AAA"}

	snap, ok := store.CaptureSnapshot(context.Background(), "w1")
	if !ok {
		t.Fatalf("expected capture to succeed")
	}
	if snap.DataURL != "data:image/png;base64,AAA" {
		t.Fatalf("unexpected snapshot payload: %q", snap.DataURL)
	}

	cached, ok := store.GetTabSnapshot("w1", "t1")
	if !ok || cached.DataURL != snap.DataURL {
		t.Fatalf("expected the fresh capture to be cached")
	}
}

func TestCaptureSnapshotSkipsSensitiveURL(t *testing.T) {
	store, _, pool, state := newTestStore(t, 10)
	state.windows["w1"] = activeWindow("w1", "t1", "https://accounts.google.com/o/oauth2/auth")
	pool.residents["t1"] = &stubRenderer{tabID: "t1", url: "https://accounts.google.com/o/oauth2/auth", dataURL: "data:image/png;base64,SECRET"}

	_, ok := store.CaptureSnapshot(context.Background(), "w1")
	if ok {
		t.Fatalf("expected no snapshot for a sensitive auth URL with nothing cached")
	}
	if store.Size() != 0 {
		t.Fatalf("expected nothing written to the cache for a sensitive URL")
	}
}

func TestCaptureSnapshotReturnsCachedWhenNoResidentRenderer(t *testing.T) {
	store, _, _, state := newTestStore(t, 10)
	state.windows["w1"] = activeWindow("w1", "t1", "https://example.com/")
	store.put("w1", "t1", Snapshot{URL: "https://example.com/", DataURL: "data:image/png;base64,OLD"})

	snap, ok := store.CaptureSnapshot(context.Background(), "w1")
	if !ok {
		t.Fatalf("expected the cached snapshot to be returned")
	}
	if snap.DataURL != "data:image/png;base64,OLD" {
		t.Fatalf("expected cached payload, got %q", snap.DataURL)
	}
}

func TestEvictionCaptureIsStoredViaEventBus(t *testing.T) {
	store, bus, _, _ := newTestStore(t, 10)

	bus.Emit(eventbus.TabBeforeEviction, eventbus.EvictionEvent{
		WindowID: "w1",
		TabID:    "t1",
		URL:      "https://example.com/",
		Capture: func(ctx context.Context) (string, error) {
			return "data:image/png;base64,EVICTED", nil
		},
	})

	snap, ok := store.GetTabSnapshot("w1", "t1")
	if !ok {
		t.Fatalf("expected the before-eviction capture to be stored")
	}
	if snap.DataURL != "data:image/png;base64,EVICTED" {
		t.Fatalf("unexpected stored snapshot: %q", snap.DataURL)
	}
}

func TestEvictionCaptureSkipsSensitiveURL(t *testing.T) {
	store, bus, _, _ := newTestStore(t, 10)

	called := false
	bus.Emit(eventbus.TabBeforeEviction, eventbus.EvictionEvent{
		WindowID: "w1",
		TabID:    "t1",
		URL:      "https://login.microsoftonline.com/common/oauth2/authorize",
		Capture: func(ctx context.Context) (string, error) {
			called = true
			return "data:image/png;base64,SHOULDNOTHAPPEN", nil
		},
	})

	if called {
		t.Fatalf("expected capture to be skipped for a sensitive URL")
	}
	if store.Size() != 0 {
		t.Fatalf("expected nothing cached for a sensitive eviction URL")
	}
}

func TestFreezeAndUnfreezeWindow(t *testing.T) {
	store, _, pool, state := newTestStore(t, 10)
	state.windows["w1"] = activeWindow("w1", "t1", "https://example.com/")
	pool.residents["t1"] = &stubRenderer{tabID: "t1", url: "https://example.com/", dataURL: "data:image/png;base64,FRZ"}

	if err := store.FreezeWindow(context.Background(), "w1"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	win, _ := state.GetState("w1")
	if win.FreezeState.Kind != types.FreezeFrozen {
		t.Fatalf("expected FROZEN, got %s", win.FreezeState.Kind)
	}
	if win.FreezeState.SnapshotURL != "data:image/png;base64,FRZ" {
		t.Fatalf("unexpected frozen snapshot url: %q", win.FreezeState.SnapshotURL)
	}

	if err := store.UnfreezeWindow("w1"); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	win, _ = state.GetState("w1")
	if win.FreezeState.Kind != types.FreezeActive {
		t.Fatalf("expected ACTIVE after unfreeze, got %s", win.FreezeState.Kind)
	}

	// Unfreeze must not clear the cache.
	if _, ok := store.GetTabSnapshot("w1", "t1"); !ok {
		t.Fatalf("expected snapshot cache to persist across unfreeze")
	}
}

func TestFreezeWindowFailsWithoutACapturableSnapshot(t *testing.T) {
	store, _, _, state := newTestStore(t, 10)
	state.windows["w1"] = activeWindow("w1", "t1", "https://example.com/")

	if err := store.FreezeWindow(context.Background(), "w1"); err == nil {
		t.Fatalf("expected freeze to fail when no renderer is resident and nothing is cached")
	}
}

func TestClearSnapshotRemovesOnlyThatWindow(t *testing.T) {
	store, _, _, _ := newTestStore(t, 10)
	store.put("w1", "t1", Snapshot{DataURL: "a"})
	store.put("w2", "t2", Snapshot{DataURL: "b"})

	store.ClearSnapshot("w1")

	if _, ok := store.GetTabSnapshot("w1", "t1"); ok {
		t.Fatalf("expected w1's snapshot to be cleared")
	}
	if _, ok := store.GetTabSnapshot("w2", "t2"); !ok {
		t.Fatalf("expected w2's snapshot to survive")
	}
}

func TestLRUEvictsOldestOnOverflow(t *testing.T) {
	store, _, _, _ := newTestStore(t, 2)
	store.put("w1", "t1", Snapshot{DataURL: "a"})
	store.put("w1", "t2", Snapshot{DataURL: "b"})
	store.put("w1", "t3", Snapshot{DataURL: "c"})

	if store.Size() != 2 {
		t.Fatalf("expected size capped at 2, got %d", store.Size())
	}
	if _, ok := store.GetTabSnapshot("w1", "t1"); ok {
		t.Fatalf("expected the oldest entry (t1) to have been evicted")
	}
}
