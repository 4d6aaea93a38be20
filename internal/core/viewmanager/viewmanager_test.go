package viewmanager

import (
	"context"
	"testing"
	"time"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/navigationservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/stateservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

type fakeRenderer struct {
	tabID types.TabId
	url   string
}

func (f *fakeRenderer) TabID() types.TabId                            { return f.tabID }
func (f *fakeRenderer) WindowID() types.WindowId                      { return "" }
func (f *fakeRenderer) Rebind(types.WindowId)                        {}
func (f *fakeRenderer) CurrentURL() string                           { return f.url }
func (f *fakeRenderer) Load(ctx context.Context, url string) error   { f.url = url; return nil }
func (f *fakeRenderer) GoBack(context.Context) error                  { return nil }
func (f *fakeRenderer) GoForward(context.Context) error               { return nil }
func (f *fakeRenderer) Reload(context.Context) error                  { return nil }
func (f *fakeRenderer) Stop(context.Context) error                    { return nil }
func (f *fakeRenderer) CapturePage(context.Context) (string, error)  { return "data:image/png;base64,x", nil }
func (f *fakeRenderer) IsAlive() bool                                 { return true }
func (f *fakeRenderer) Close() error                                  { return nil }

type sceneCall struct {
	op       string
	windowID types.WindowId
	visible  bool
}

type fakeScene struct {
	calls []sceneCall
}

func (s *fakeScene) Attach(windowID types.WindowId, r viewpool.Renderer, bounds types.Bounds) {
	s.calls = append(s.calls, sceneCall{op: "attach", windowID: windowID})
}
func (s *fakeScene) Detach(windowID types.WindowId, r viewpool.Renderer) {
	s.calls = append(s.calls, sceneCall{op: "detach", windowID: windowID})
}
func (s *fakeScene) SetVisible(windowID types.WindowId, r viewpool.Renderer, visible bool) {
	s.calls = append(s.calls, sceneCall{op: "set-visible", windowID: windowID, visible: visible})
}
func (s *fakeScene) BringToTop(windowID types.WindowId, r viewpool.Renderer) {
	s.calls = append(s.calls, sceneCall{op: "bring-to-top", windowID: windowID})
}

func (s *fakeScene) lastOp() string {
	if len(s.calls) == 0 {
		return ""
	}
	return s.calls[len(s.calls)-1].op
}

func newHarness(t *testing.T) (*Manager, *fakeScene, *viewpool.Pool, *stateservice.Service) {
	t.Helper()
	bus := eventbus.New(nil)
	factory := func(tabID types.TabId, windowID types.WindowId, resumeURL string) (viewpool.Renderer, error) {
		return &fakeRenderer{tabID: tabID, url: resumeURL}, nil
	}
	pool := viewpool.New(viewpool.Config{MaxPoolSize: 5}, factory, bus, nil)
	state := stateservice.New(bus, nil, time.Hour, nil, nil)
	nav := navigationservice.New(pool, state, nil)
	scene := &fakeScene{}
	mgr := New(scene, pool, nav, nil)
	return mgr, scene, pool, state
}

func TestReconcileActiveAcquiresAndAttachesOnTabSwitch(t *testing.T) {
	mgr, scene, pool, _ := newHarness(t)
	next := types.WindowState{
		WindowID:    "w1",
		Tabs:        []types.TabState{{ID: "t1", URL: "https://example.com/"}},
		ActiveTabID: "t1",
		FreezeState: types.Active(),
	}

	mgr.OnStateChanged(context.Background(), "w1", types.WindowState{}, next, true)

	if pool.Get("t1") == nil {
		t.Fatalf("expected the active tab's renderer to have been acquired")
	}
	if scene.lastOp() != "attach" {
		t.Fatalf("expected an attach call, got %q", scene.lastOp())
	}
}

func TestReconcileActiveNavigatesBlankRendererOnTabSwitch(t *testing.T) {
	mgr, _, pool, _ := newHarness(t)
	next := types.WindowState{
		WindowID:    "w1",
		Tabs:        []types.TabState{{ID: "t1", URL: "https://example.com/"}},
		ActiveTabID: "t1",
		FreezeState: types.Active(),
	}

	mgr.OnStateChanged(context.Background(), "w1", types.WindowState{}, next, true)

	renderer := pool.Get("t1").(*fakeRenderer)
	if renderer.url != "https://example.com/" {
		t.Fatalf("expected blank renderer to be navigated to the tab's url, got %q", renderer.url)
	}
}

func TestReconcileActiveDoesNotRenavigateSameTab(t *testing.T) {
	mgr, _, pool, _ := newHarness(t)
	prev := types.WindowState{
		WindowID:    "w1",
		Tabs:        []types.TabState{{ID: "t1", URL: "https://example.com/"}},
		ActiveTabID: "t1",
		FreezeState: types.Active(),
	}
	mgr.OnStateChanged(context.Background(), "w1", types.WindowState{}, prev, true)
	renderer := pool.Get("t1").(*fakeRenderer)
	renderer.url = "https://example.com/"

	next := prev
	next.Bounds = types.Bounds{Width: 10, Height: 10}
	mgr.OnStateChanged(context.Background(), "w1", prev, next, false)

	if renderer.url != "https://example.com/" {
		t.Fatalf("expected no re-navigation for a bounds-only change, got %q", renderer.url)
	}
}

func TestFreezeHidesAndUnfreezeRestoresVisibility(t *testing.T) {
	mgr, scene, _, _ := newHarness(t)
	base := types.WindowState{
		WindowID:    "w1",
		Tabs:        []types.TabState{{ID: "t1", URL: "https://example.com/"}},
		ActiveTabID: "t1",
		FreezeState: types.Active(),
	}
	mgr.OnStateChanged(context.Background(), "w1", types.WindowState{}, base, true)

	frozen := base
	frozen.FreezeState = types.Frozen("data:image/png;base64,AAA")
	mgr.OnStateChanged(context.Background(), "w1", base, frozen, false)

	found := false
	for _, c := range scene.calls {
		if c.op == "set-visible" && !c.visible {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected freeze to hide the active view")
	}

	unfrozen := base
	mgr.OnStateChanged(context.Background(), "w1", frozen, unfrozen, false)

	found = false
	for _, c := range scene.calls {
		if c.op == "set-visible" && c.visible {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unfreeze to restore visibility")
	}
}

func TestReapRemovedTabsReleasesFromPool(t *testing.T) {
	mgr, _, pool, _ := newHarness(t)
	prev := types.WindowState{
		WindowID:    "w1",
		Tabs:        []types.TabState{{ID: "t1"}, {ID: "t2"}},
		ActiveTabID: "t1",
		FreezeState: types.Active(),
	}
	mgr.OnStateChanged(context.Background(), "w1", types.WindowState{}, prev, true)
	_, _ = pool.Acquire("t2", "w1")

	next := prev
	next.Tabs = []types.TabState{{ID: "t1"}}
	mgr.OnStateChanged(context.Background(), "w1", prev, next, true)

	if pool.Get("t2") != nil {
		t.Fatalf("expected t2's renderer to be released once its tab was removed")
	}
}

func TestOnFocusChangedBringsActiveViewToTop(t *testing.T) {
	mgr, scene, _, _ := newHarness(t)
	base := types.WindowState{
		WindowID:    "w1",
		Tabs:        []types.TabState{{ID: "t1", URL: "https://example.com/"}},
		ActiveTabID: "t1",
		FreezeState: types.Active(),
	}
	mgr.OnStateChanged(context.Background(), "w1", types.WindowState{}, base, true)

	mgr.OnFocusChanged("w1", true)
	if scene.lastOp() != "bring-to-top" {
		t.Fatalf("expected focus to bring the view to top, got %q", scene.lastOp())
	}
}
