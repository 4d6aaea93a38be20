package navigationservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/stateservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

type fakeRenderer struct {
	mu          sync.Mutex
	tabID       types.TabId
	windowID    types.WindowId
	url         string
	loadErr     error
	backCalled  bool
	fwdCalled   bool
	reloadCalled bool
	stopCalled  bool
}

func (f *fakeRenderer) TabID() types.TabId       { return f.tabID }
func (f *fakeRenderer) WindowID() types.WindowId { return f.windowID }
func (f *fakeRenderer) Rebind(w types.WindowId)  { f.windowID = w }
func (f *fakeRenderer) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}
func (f *fakeRenderer) Load(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.url = url
	return nil
}
func (f *fakeRenderer) GoBack(ctx context.Context) error    { f.backCalled = true; return nil }
func (f *fakeRenderer) GoForward(ctx context.Context) error { f.fwdCalled = true; return nil }
func (f *fakeRenderer) Reload(ctx context.Context) error    { f.reloadCalled = true; return nil }
func (f *fakeRenderer) Stop(ctx context.Context) error      { f.stopCalled = true; return nil }
func (f *fakeRenderer) CapturePage(ctx context.Context) (string, error) {
	return "data:image/png;base64,x", nil
}
func (f *fakeRenderer) IsAlive() bool { return true }
func (f *fakeRenderer) Close() error  { return nil }

func newHarness(t *testing.T) (*Service, *viewpool.Pool, *stateservice.Service) {
	t.Helper()
	bus := eventbus.New(nil)
	factory := func(tabID types.TabId, windowID types.WindowId, resumeURL string) (viewpool.Renderer, error) {
		return &fakeRenderer{tabID: tabID, windowID: windowID, url: resumeURL}, nil
	}
	pool := viewpool.New(viewpool.Config{MaxPoolSize: 5}, factory, bus, nil)
	state := stateservice.New(bus, nil, time.Hour, nil, nil)
	svc := New(pool, state, nil)
	return svc, pool, state
}

func seed(t *testing.T, state *stateservice.Service, windowID types.WindowId, tabID types.TabId) {
	t.Helper()
	state.SetState(windowID, types.WindowState{
		Tabs:        []types.TabState{{ID: tabID, WindowID: windowID}},
		ActiveTabID: tabID,
		FreezeState: types.Active(),
	}, true)
}

func TestLoadURLRejectsDisallowedScheme(t *testing.T) {
	svc, _, state := newHarness(t)
	seed(t, state, "w1", "t1")

	if err := svc.LoadURL(context.Background(), "w1", "file:///etc/passwd"); err == nil {
		t.Fatalf("expected file:// scheme to be rejected")
	}
	if err := svc.LoadURL(context.Background(), "w1", "javascript:alert(1)"); err == nil {
		t.Fatalf("expected javascript: scheme to be rejected")
	}
}

func TestLoadURLAcquiresAndUpdatesStateEagerly(t *testing.T) {
	svc, pool, state := newHarness(t)
	seed(t, state, "w1", "t1")

	if err := svc.LoadURL(context.Background(), "w1", "https://example.com/"); err != nil {
		t.Fatalf("load url: %v", err)
	}

	renderer := pool.Get("t1")
	if renderer == nil {
		t.Fatalf("expected loadUrl to acquire a renderer for the active tab")
	}
	if renderer.CurrentURL() != "https://example.com/" {
		t.Fatalf("expected renderer to have navigated, got %q", renderer.CurrentURL())
	}

	win, _ := state.GetState("w1")
	if win.Tabs[0].URL != "https://example.com/" {
		t.Fatalf("expected state url updated eagerly, got %q", win.Tabs[0].URL)
	}
}

func TestNavigationNoOpsWithoutResidentRenderer(t *testing.T) {
	svc, _, state := newHarness(t)
	seed(t, state, "w1", "t1")

	if err := svc.GoBack(context.Background(), "w1"); err != nil {
		t.Fatalf("expected goBack no-op, got %v", err)
	}
	if err := svc.Reload(context.Background(), "w1"); err != nil {
		t.Fatalf("expected reload no-op, got %v", err)
	}
}

func TestExecuteContextMenuActionDelegatesNavigation(t *testing.T) {
	svc, pool, state := newHarness(t)
	seed(t, state, "w1", "t1")
	_, err := pool.Acquire("t1", "w1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := svc.ExecuteContextMenuAction(context.Background(), "w1", ActionNavigateReload, nil); err != nil {
		t.Fatalf("execute reload: %v", err)
	}
	r := pool.Get("t1").(*fakeRenderer)
	if !r.reloadCalled {
		t.Fatalf("expected reload to be forwarded to the renderer")
	}
}

func TestExecuteContextMenuActionAcceptsCanonicalNonNavigationActions(t *testing.T) {
	svc, _, state := newHarness(t)
	seed(t, state, "w1", "t1")

	for _, action := range []Action{ActionLinkCopy, ActionEditCopy, ActionPageCopyURL, ActionDevInspect, Action("search:google")} {
		if err := svc.ExecuteContextMenuAction(context.Background(), "w1", action, nil); err != nil {
			t.Fatalf("expected canonical action %q to be accepted, got %v", action, err)
		}
	}
}

func TestExecuteContextMenuActionRejectsUnknownAction(t *testing.T) {
	svc, _, state := newHarness(t)
	seed(t, state, "w1", "t1")

	if err := svc.ExecuteContextMenuAction(context.Background(), "w1", Action("bogus:action"), nil); err == nil {
		t.Fatalf("expected an unknown action to be rejected")
	}
}
