// Package viewmanager reconciles StateService's authoritative WindowState
// with the host's scene graph: which renderers are attached, visible, and
// in what z-order. It is the only component that touches the scene,
// per spec.md §3's ownership rules.
package viewmanager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/navigationservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/urlutil"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

// antiLoopWindow is the minimum time between two programmatic navigations
// on the same view, per spec.md §4.7's ensureViewNavigatedToTab.
const antiLoopWindow = 1000 * time.Millisecond

// Scene is the host's presentation surface. Attach/Detach/SetVisible/
// BringToTop are the only primitives ViewManager uses; each must be
// idempotent against the scene's actual membership, per spec.md §4.7.
// cmd/classicbrowsercore wires a no-op/logging Scene for standalone
// operation and a websocket-driven Scene for a real host.
type Scene interface {
	Attach(windowID types.WindowId, renderer viewpool.Renderer, bounds types.Bounds)
	Detach(windowID types.WindowId, renderer viewpool.Renderer)
	SetVisible(windowID types.WindowId, renderer viewpool.Renderer, visible bool)
	BringToTop(windowID types.WindowId, renderer viewpool.Renderer)
}

type cohort int

const (
	cohortNone cohort = iota
	cohortActive
	cohortDetached
	cohortFrozen
)

// Manager is the ViewManager component.
type Manager struct {
	scene Scene
	pool  *viewpool.Pool
	nav   *navigationservice.Service
	log   *zap.Logger

	// viewOf maps WindowId to the renderer currently occupying that
	// window's view slot, partitioned across three cohorts by viewCohort.
	viewOf     map[types.WindowId]viewpool.Renderer
	viewCohort map[types.WindowId]cohort

	// tabOf is the Renderer -> TabId map spec.md §4.7 calls out as the
	// only correct way to determine which tab a renderer represents.
	tabOf map[viewpool.Renderer]types.TabId

	lastProgrammaticNav map[types.WindowId]time.Time
}

// New constructs a Manager.
func New(scene Scene, pool *viewpool.Pool, nav *navigationservice.Service, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		scene:               scene,
		pool:                pool,
		nav:                 nav,
		log:                 log,
		viewOf:              make(map[types.WindowId]viewpool.Renderer),
		viewCohort:          make(map[types.WindowId]cohort),
		tabOf:               make(map[viewpool.Renderer]types.TabId),
		lastProgrammaticNav: make(map[types.WindowId]time.Time),
	}
}

// OnStateChanged runs the reconciliation algorithm from spec.md §4.7. ctx
// bounds the navigation suspension point (ensureViewNavigatedToTab).
func (m *Manager) OnStateChanged(ctx context.Context, windowID types.WindowId, prev, next types.WindowState, isNavigationRelevant bool) {
	m.reapRemovedTabs(prev, next)

	wasFrozen := prev.FreezeState.Kind == types.FreezeFrozen || prev.FreezeState.Kind == types.FreezeAwaitingRender
	isFrozen := next.FreezeState.Kind == types.FreezeFrozen

	if isFrozen && !wasFrozen {
		m.freezeView(windowID)
		return
	}
	if wasFrozen && next.FreezeState.Kind == types.FreezeActive {
		m.unfreezeView(ctx, windowID, next)
		return
	}
	if isFrozen {
		// Still frozen; nothing to reconcile against the hidden renderer.
		return
	}

	m.reconcileActive(ctx, windowID, next, isNavigationRelevant)
}

// reapRemovedTabs releases pool residency for every tab present in prev but
// absent from next.
func (m *Manager) reapRemovedTabs(prev, next types.WindowState) {
	for _, tab := range prev.Tabs {
		if next.IndexOfTab(tab.ID) < 0 {
			m.pool.Release(tab.ID)
		}
	}
}

func (m *Manager) freezeView(windowID types.WindowId) {
	renderer, cohortNow := m.viewOf[windowID], m.viewCohort[windowID]
	if renderer == nil {
		return
	}
	m.scene.SetVisible(windowID, renderer, false)
	if cohortNow != cohortFrozen {
		m.viewCohort[windowID] = cohortFrozen
	}
}

func (m *Manager) unfreezeView(ctx context.Context, windowID types.WindowId, next types.WindowState) {
	renderer := m.viewOf[windowID]
	if renderer == nil {
		return
	}
	m.viewCohort[windowID] = cohortActive
	m.scene.SetVisible(windowID, renderer, true)
	m.scene.Attach(windowID, renderer, next.Bounds)

	active := next.ActiveTab()
	if active != nil {
		m.ensureViewNavigatedToTab(ctx, windowID, renderer, *active)
	}
}

// reconcileActive implements spec.md §4.7 step 4.
func (m *Manager) reconcileActive(ctx context.Context, windowID types.WindowId, next types.WindowState, isNavigationRelevant bool) {
	active := next.ActiveTab()
	if active == nil {
		return
	}

	current, hasView := m.viewOf[windowID]
	currentTabID, hasMapping := types.TabId(""), false
	if hasView {
		currentTabID, hasMapping = m.tabOf[current]
	}

	if hasView && hasMapping && currentTabID == active.ID {
		m.scene.Attach(windowID, current, next.Bounds)
		if isNavigationRelevant {
			m.ensureViewNavigatedToTab(ctx, windowID, current, *active)
		}
		return
	}

	// Tab switch: detach the current view, acquire the new tab's renderer.
	if hasView {
		m.scene.Detach(windowID, current)
		delete(m.tabOf, current)
	}

	renderer, err := m.pool.Acquire(active.ID, windowID)
	if err != nil {
		m.log.Warn("failed to acquire renderer for tab switch", zap.String("tabId", string(active.ID)), zap.Error(err))
		return
	}
	m.viewOf[windowID] = renderer
	m.viewCohort[windowID] = cohortActive
	m.tabOf[renderer] = active.ID
	m.scene.Attach(windowID, renderer, next.Bounds)

	// Only trigger ensureViewNavigatedToTab if the renderer is blank — the
	// reload-storm mitigation from spec.md §4.7.
	if urlutil.IsBlank(renderer.CurrentURL()) {
		m.ensureViewNavigatedToTab(ctx, windowID, renderer, *active)
	}
}

// ensureViewNavigatedToTab implements spec.md §4.7's navigation gate:
// skip if the target is blank, if already equivalent, if already loading
// it, or if within the anti-loop window since the last programmatic nav.
func (m *Manager) ensureViewNavigatedToTab(ctx context.Context, windowID types.WindowId, renderer viewpool.Renderer, tab types.TabState) {
	if urlutil.IsBlank(tab.URL) {
		return
	}
	if urlutil.Equivalent(renderer.CurrentURL(), tab.URL) {
		return
	}
	// NavigationService sets tab.URL eagerly before a load commits, so a
	// tab still marked loading is already headed toward tab.URL.
	if tab.IsLoading {
		return
	}
	if last, ok := m.lastProgrammaticNav[windowID]; ok && time.Since(last) < antiLoopWindow {
		return
	}

	if err := navigationservice.ValidateURL(tab.URL); err != nil {
		m.log.Debug("skipping navigation to insecure url", zap.String("url", tab.URL), zap.Error(err))
		return
	}

	m.lastProgrammaticNav[windowID] = time.Now()
	if err := renderer.Load(ctx, tab.URL); err != nil {
		m.log.Warn("ensureViewNavigatedToTab load failed", zap.String("url", tab.URL), zap.Error(err))
	}
}

// OnFocusChanged brings the active view to the top of the scene graph.
func (m *Manager) OnFocusChanged(windowID types.WindowId, focused bool) {
	if !focused {
		return
	}
	if renderer, ok := m.viewOf[windowID]; ok {
		m.scene.BringToTop(windowID, renderer)
	}
}

// OnMinimized detaches the active view into the detached cohort.
func (m *Manager) OnMinimized(windowID types.WindowId) {
	renderer, ok := m.viewOf[windowID]
	if !ok {
		return
	}
	m.viewCohort[windowID] = cohortDetached
	m.scene.Detach(windowID, renderer)
}

// OnRestored re-attaches the view with current bounds and navigates to the
// active tab's URL if needed.
func (m *Manager) OnRestored(ctx context.Context, windowID types.WindowId, state types.WindowState) {
	renderer, ok := m.viewOf[windowID]
	if !ok {
		return
	}
	m.viewCohort[windowID] = cohortActive
	m.scene.Attach(windowID, renderer, state.Bounds)
	if active := state.ActiveTab(); active != nil {
		m.ensureViewNavigatedToTab(ctx, windowID, renderer, *active)
	}
}

// OnZOrderUpdate iterates non-minimized windows in ascending z-index and
// re-attaches each to the scene's top. Frozen views participate so their
// on-screen snapshot layering is correct.
func (m *Manager) OnZOrderUpdate(orderedWindows []types.WindowId) {
	for _, windowID := range orderedWindows {
		renderer, ok := m.viewOf[windowID]
		if !ok || m.viewCohort[windowID] == cohortDetached {
			continue
		}
		m.scene.BringToTop(windowID, renderer)
	}
}

// SubscribeAll wires the Manager's handlers to the bus's state-changed and
// window-level topics. Returns an unsubscribe function for every topic.
func SubscribeAll(bus *eventbus.Bus, m *Manager) func() {
	unsubs := []func(){
		bus.Subscribe(eventbus.StateChanged, func(payload any) {
			ev, ok := payload.(eventbus.StateChangedEvent)
			if !ok {
				return
			}
			m.OnStateChanged(context.Background(), ev.WindowID, ev.PreviousState, ev.NewState, ev.IsNavigationRelevant)
		}),
		bus.Subscribe(eventbus.WindowFocusChanged, func(payload any) {
			ev, ok := payload.(eventbus.WindowFocusEvent)
			if !ok {
				return
			}
			m.OnFocusChanged(ev.WindowID, ev.Focused)
		}),
		bus.Subscribe(eventbus.WindowMinimized, func(payload any) {
			ev, ok := payload.(eventbus.WindowLifecycleEvent)
			if !ok {
				return
			}
			m.OnMinimized(ev.WindowID)
		}),
		bus.Subscribe(eventbus.WindowZOrderUpdate, func(payload any) {
			ev, ok := payload.(eventbus.ZOrderEvent)
			if !ok {
				return
			}
			m.OnZOrderUpdate(ev.OrderedWindows)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// CleanupWindow removes a destroyed window's view bookkeeping.
func (m *Manager) CleanupWindow(windowID types.WindowId) {
	renderer, ok := m.viewOf[windowID]
	if !ok {
		return
	}
	m.scene.Detach(windowID, renderer)
	delete(m.tabOf, renderer)
	delete(m.viewOf, windowID)
	delete(m.viewCohort, windowID)
	delete(m.lastProgrammaticNav, windowID)
}
