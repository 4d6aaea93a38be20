// Package facade assembles ViewPool, SnapshotStore, StateService, TabService,
// NavigationService, and ViewManager into the single composition root spec.md
// §9 requires: the three components with cyclic-looking dependencies
// (SnapshotStore, ViewManager, StateService) are all owned here and never
// hold a direct handle to one another, communicating only through the
// EventBus and StateService.
//
// Service runs its own single goroutine pulling from one unbuffered command
// channel, grounded on cmd/vgbot's single dispatch-loop shape, so every
// component method in a command executes atomically with respect to every
// other command.
package facade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/coreerrors"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/navigationservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/snapshotstore"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/stateservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/tabservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewmanager"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

// captureBudget is the implicit per-capture deadline from spec.md §5.
const captureBudget = 5 * time.Second

// NavigateDirection is the navigate(back|forward|reload|stop) command
// argument from spec.md §6.
type NavigateDirection string

const (
	NavigateBack    NavigateDirection = "back"
	NavigateForward NavigateDirection = "forward"
	NavigateReload  NavigateDirection = "reload"
	NavigateStop    NavigateDirection = "stop"
)

// Service is the ClassicBrowserService facade: the only exported surface for
// everything in internal/core.
type Service struct {
	bus       *eventbus.Bus
	pool      *viewpool.Pool
	snapshots *snapshotstore.Store
	state     *stateservice.Service
	nav       *navigationservice.Service
	views     *viewmanager.Manager
	idGen     tabservice.IDGenerator
	log       *zap.Logger

	cmds chan func()
	stop chan struct{}
	wg   sync.WaitGroup

	captureMu sync.Mutex
	capturing map[types.WindowId]bool

	lastDescriptors map[types.WindowId]lastDescriptor

	unsubscribe func()
}

// New constructs a Service and starts its command-dispatch goroutine.
func New(
	bus *eventbus.Bus,
	pool *viewpool.Pool,
	snapshots *snapshotstore.Store,
	state *stateservice.Service,
	nav *navigationservice.Service,
	views *viewmanager.Manager,
	idGen tabservice.IDGenerator,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		bus:       bus,
		pool:      pool,
		snapshots: snapshots,
		state:     state,
		nav:       nav,
		views:     views,
		idGen:     idGen,
		log:       log,
		cmds:            make(chan func()),
		stop:            make(chan struct{}),
		capturing:       make(map[types.WindowId]bool),
		lastDescriptors: make(map[types.WindowId]lastDescriptor),
	}
	unsubViews := viewmanager.SubscribeAll(bus, views)
	unsubOpen := s.bus.Subscribe(eventbus.ViewWindowOpenRequest, s.onWindowOpenRequest)
	s.unsubscribe = func() {
		unsubViews()
		unsubOpen()
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// Close stops the dispatch goroutine and detaches every bus subscription.
func (s *Service) Close() {
	close(s.stop)
	s.wg.Wait()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.stop:
			return
		}
	}
}

// do serializes fn through the command goroutine and blocks for its result.
func (s *Service) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case s.cmds <- func() { result <- fn() }:
	case <-s.stop:
		return fmt.Errorf("facade closed: %w", coreerrors.ErrPoolClosed)
	}
	select {
	case err := <-result:
		return err
	case <-s.stop:
		return fmt.Errorf("facade closed: %w", coreerrors.ErrPoolClosed)
	}
}

// CreateBrowserView implements spec.md §6's createBrowserView command: a
// window is born with the caller-supplied initial tab set, always
// navigation-relevant since every field is new.
func (s *Service) CreateBrowserView(windowID types.WindowId, bounds types.Bounds, initial types.WindowState) error {
	return s.do(func() error {
		initial.WindowID = windowID
		initial.Bounds = bounds
		s.state.SetState(windowID, initial, true)
		return nil
	})
}

// DestroyBrowserView tears down every resource a window owns: resident
// renderers, cached snapshots, pool tab->window mappings, scene membership,
// and the authoritative state itself.
func (s *Service) DestroyBrowserView(windowID types.WindowId) error {
	return s.do(func() error {
		win, ok := s.state.GetState(windowID)
		if !ok {
			return fmt.Errorf("destroy browser view: %w", coreerrors.ErrWindowNotFound)
		}
		for _, tab := range win.Tabs {
			s.pool.Release(tab.ID)
		}
		s.pool.CleanupWindowMappings(windowID)
		s.snapshots.ClearSnapshot(windowID)
		s.views.CleanupWindow(windowID)
		s.state.RemoveState(windowID)

		s.captureMu.Lock()
		delete(s.capturing, windowID)
		s.captureMu.Unlock()
		return nil
	})
}

// DestroyAllBrowserViews tears down every window currently known to
// StateService. A window that fails to tear down is logged and skipped; the
// returned error is always nil.
func (s *Service) DestroyAllBrowserViews() error {
	for windowID := range s.state.GetAllStates() {
		if err := s.DestroyBrowserView(windowID); err != nil {
			s.log.Warn("destroy all browser views: failed to destroy one window", zap.String("windowId", string(windowID)), zap.Error(err))
		}
	}
	return nil
}

// CreateTab implements spec.md §4.5's create policy.
func (s *Service) CreateTab(windowID types.WindowId, url string, makeActive bool) (types.TabId, error) {
	var newTab types.TabState
	err := s.do(func() error {
		newTab = tabservice.NewTab(s.idGen, windowID, url, makeActive)
		if err := s.state.AddTab(windowID, newTab); err != nil {
			return fmt.Errorf("create tab: %w", err)
		}
		if makeActive {
			if err := s.state.SetActiveTab(windowID, newTab.ID); err != nil {
				return fmt.Errorf("create tab: %w", err)
			}
		}
		return nil
	})
	return newTab.ID, err
}

// SwitchTab implements spec.md §4.5's switch policy.
func (s *Service) SwitchTab(windowID types.WindowId, tabID types.TabId) error {
	return s.do(func() error {
		return s.state.SetActiveTab(windowID, tabID)
	})
}

// CloseTab implements spec.md §4.5's close policy: replace-when-last, set
// the new active tab before removal, "neighbour on the right, else left".
func (s *Service) CloseTab(windowID types.WindowId, tabID types.TabId) error {
	return s.do(func() error {
		win, ok := s.state.GetState(windowID)
		if !ok {
			return fmt.Errorf("close tab: %w", coreerrors.ErrWindowNotFound)
		}
		result, err := tabservice.Close(win, tabID)
		if err != nil {
			return err
		}
		if result.NeedsReplacement {
			replacement := tabservice.NewTab(s.idGen, windowID, "", true)
			if err := s.state.AddTab(windowID, replacement); err != nil {
				return fmt.Errorf("close tab: %w", err)
			}
			if err := s.state.SetActiveTab(windowID, replacement.ID); err != nil {
				return fmt.Errorf("close tab: %w", err)
			}
		} else if result.NewActiveTabID != "" {
			if err := s.state.SetActiveTab(windowID, result.NewActiveTabID); err != nil {
				return fmt.Errorf("close tab: %w", err)
			}
		}
		if err := s.state.RemoveTab(windowID, tabID); err != nil {
			return fmt.Errorf("close tab: %w", err)
		}
		s.pool.Release(tabID)
		return nil
	})
}

// LoadURL implements spec.md §6's loadUrl command.
func (s *Service) LoadURL(ctx context.Context, windowID types.WindowId, url string) error {
	return s.do(func() error {
		return s.nav.LoadURL(ctx, windowID, url)
	})
}

// Navigate implements spec.md §6's navigate(back|forward|reload|stop) command.
func (s *Service) Navigate(ctx context.Context, windowID types.WindowId, direction NavigateDirection) error {
	return s.do(func() error {
		switch direction {
		case NavigateBack:
			return s.nav.GoBack(ctx, windowID)
		case NavigateForward:
			return s.nav.GoForward(ctx, windowID)
		case NavigateReload:
			return s.nav.Reload(ctx, windowID)
		case NavigateStop:
			return s.nav.Stop(ctx, windowID)
		default:
			return fmt.Errorf("navigate %q: %w", direction, coreerrors.ErrInvariantBroken)
		}
	})
}

// SetBounds implements spec.md §6's setBounds command.
func (s *Service) SetBounds(windowID types.WindowId, bounds types.Bounds) error {
	return s.do(func() error {
		return s.state.SetBounds(windowID, bounds)
	})
}

// SetBackgroundColor is a host/chrome cosmetic concern spec.md places out of
// scope (§1's "UI shell ... window chrome"); the Core accepts the command so
// the caller gets a uniform contract but performs no state mutation.
func (s *Service) SetBackgroundColor(windowID types.WindowId, _ string) error {
	return s.do(func() error {
		if _, ok := s.state.GetState(windowID); !ok {
			return fmt.Errorf("set background color: %w", coreerrors.ErrWindowNotFound)
		}
		return nil
	})
}

// SetVisibility implements spec.md §6's setVisibility command by routing
// through ViewManager's minimize/restore cohorts, the only visibility
// primitive the Core's scene model exposes.
func (s *Service) SetVisibility(ctx context.Context, windowID types.WindowId, visible bool) error {
	return s.do(func() error {
		win, ok := s.state.GetState(windowID)
		if !ok {
			return fmt.Errorf("set visibility: %w", coreerrors.ErrWindowNotFound)
		}
		if visible {
			s.views.OnRestored(ctx, windowID, win)
		} else {
			s.views.OnMinimized(windowID)
		}
		return nil
	})
}

// CaptureSnapshot implements spec.md §6's captureSnapshot command, enforcing
// §5's at-most-one-capture-in-flight-per-window rule: a CAPTURING request
// that arrives while one is already in flight is dropped.
func (s *Service) CaptureSnapshot(ctx context.Context, windowID types.WindowId) (snapshotstore.Snapshot, bool, error) {
	if !s.beginCapture(windowID) {
		return snapshotstore.Snapshot{}, false, nil
	}
	defer s.endCapture(windowID)

	var (
		snap snapshotstore.Snapshot
		ok   bool
	)
	err := s.do(func() error {
		captureCtx, cancel := context.WithTimeout(ctx, captureBudget)
		defer cancel()
		snap, ok = s.snapshots.CaptureSnapshot(captureCtx, windowID)
		return nil
	})
	return snap, ok, err
}

// FreezeWindow implements spec.md §6's freezeWindow command and §7's
// CaptureFailed recovery: on failure the window is left ACTIVE.
func (s *Service) FreezeWindow(ctx context.Context, windowID types.WindowId) error {
	if !s.beginCapture(windowID) {
		return nil
	}
	defer s.endCapture(windowID)

	return s.do(func() error {
		captureCtx, cancel := context.WithTimeout(ctx, captureBudget)
		defer cancel()
		if err := s.snapshots.FreezeWindow(captureCtx, windowID); err != nil {
			s.log.Debug("freeze window failed, leaving window active", zap.String("windowId", string(windowID)), zap.Error(err))
			return nil
		}
		return nil
	})
}

// UnfreezeWindow implements spec.md §6's unfreezeWindow command.
func (s *Service) UnfreezeWindow(windowID types.WindowId) error {
	return s.do(func() error {
		return s.snapshots.UnfreezeWindow(windowID)
	})
}

func (s *Service) beginCapture(windowID types.WindowId) bool {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if s.capturing[windowID] {
		return false
	}
	s.capturing[windowID] = true
	return true
}

func (s *Service) endCapture(windowID types.WindowId) {
	s.captureMu.Lock()
	delete(s.capturing, windowID)
	s.captureMu.Unlock()
}

// GetBrowserState implements spec.md §6's getBrowserState command. Reads are
// free per spec.md §5's shared-resource policy, so this bypasses the command
// goroutine.
func (s *Service) GetBrowserState(windowID types.WindowId) (types.WindowState, bool) {
	return s.state.GetState(windowID)
}

// UpdateTabBookmarkStatus implements spec.md §6's updateTabBookmarkStatus
// command. Bookmark status is opaque to the Core (spec.md §3); StateService
// stores it as a pass-through field only.
func (s *Service) UpdateTabBookmarkStatus(windowID types.WindowId, tabID types.TabId, bookmarked bool) error {
	return s.do(func() error {
		return s.state.UpdateTab(windowID, tabID, stateservice.TabPatch{IsBookmarked: &bookmarked})
	})
}

// RefreshTabState implements spec.md §6's refreshTabState command: re-sends
// the current state as a debounced outbound notification without altering
// anything, for a caller that suspects it missed one.
func (s *Service) RefreshTabState(windowID types.WindowId) error {
	return s.do(func() error {
		win, ok := s.state.GetState(windowID)
		if !ok {
			return fmt.Errorf("refresh tab state: %w", coreerrors.ErrWindowNotFound)
		}
		s.state.SetState(windowID, win, false)
		return nil
	})
}

// HideContextMenuOverlay implements spec.md §6's hideContextMenuOverlay
// command. The overlay itself is host-shell chrome (§1 Non-goals); the Core
// only needs to accept the command so the caller's contract is uniform.
func (s *Service) HideContextMenuOverlay(windowID types.WindowId) error {
	return s.do(func() error {
		if _, ok := s.state.GetState(windowID); !ok {
			return fmt.Errorf("hide context menu overlay: %w", coreerrors.ErrWindowNotFound)
		}
		return nil
	})
}

// SyncViewStackingOrder implements spec.md §6's syncViewStackingOrder command.
func (s *Service) SyncViewStackingOrder(orderedWindows []types.WindowId) error {
	return s.do(func() error {
		s.views.OnZOrderUpdate(orderedWindows)
		return nil
	})
}

// ShowAndFocusView implements spec.md §6's showAndFocusView command: restore
// from any detached cohort, then bring to the top of the scene graph.
func (s *Service) ShowAndFocusView(ctx context.Context, windowID types.WindowId) error {
	return s.do(func() error {
		win, ok := s.state.GetState(windowID)
		if !ok {
			return fmt.Errorf("show and focus view: %w", coreerrors.ErrWindowNotFound)
		}
		s.views.OnRestored(ctx, windowID, win)
		s.views.OnFocusChanged(windowID, true)
		s.bus.Emit(eventbus.WindowFocusChanged, eventbus.WindowFocusEvent{WindowID: windowID, Focused: true})
		return nil
	})
}

// ExecuteContextMenuAction implements spec.md §6's canonical context-menu
// action set. link:open-new-tab / link:open-background are facade-level
// concerns (they create tabs) that NavigationService's narrower contract
// doesn't cover; every other action delegates to NavigationService.
func (s *Service) ExecuteContextMenuAction(ctx context.Context, windowID types.WindowId, action navigationservice.Action, data map[string]any) error {
	switch action {
	case navigationservice.ActionLinkOpenNewTab, navigationservice.ActionLinkOpenBackground:
		url, _ := data["url"].(string)
		_, err := s.CreateTab(windowID, url, action == navigationservice.ActionLinkOpenNewTab)
		return err
	}
	return s.do(func() error {
		return s.nav.ExecuteContextMenuAction(ctx, windowID, action, data)
	})
}

// onWindowOpenRequest converts a denied-popup-turned-event (spec.md §4.2's
// window-open policy) into a foreground or background tab on the requesting
// window, per spec.md §9's "the facade turns view:window-open-request into
// foreground/background tabs" resolution of that cyclic concern.
func (s *Service) onWindowOpenRequest(payload any) {
	ev, ok := payload.(eventbus.WindowOpenEvent)
	if !ok {
		return
	}
	makeActive := ev.Disposition != eventbus.DispositionBackgroundTab
	if _, err := s.CreateTab(ev.WindowID, ev.URL, makeActive); err != nil {
		s.log.Warn("failed to open tab for window-open-request", zap.String("windowId", string(ev.WindowID)), zap.Error(err))
	}
}
