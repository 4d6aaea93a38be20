// Package stateservice is the single authoritative writer of WindowState
// (spec.md §3/§4.4). Every other component reads state through it and
// mutates it only by calling its methods; it is the sole source of the
// synchronous `state-changed` event and the debounced outbound
// notification the host shell consumes.
package stateservice

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/coreerrors"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// DefaultDebounceInterval mirrors spec.md §4.4's 50ms outbound quiescence
// window.
const DefaultDebounceInterval = 50 * time.Millisecond

// Progress milestones from spec.md §4.4. UpdateTab floors LoadingProgress
// against whatever value a caller supplies; nothing in this module maps
// engine load events onto these constants, so a tab's progress changes only
// when a caller passes an explicit LoadingProgress.
const (
	ProgressStartLoading     = 5
	ProgressDidNavigate      = 35
	ProgressDOMReady         = 60
	ProgressFrameFinishLoad  = 85
	ProgressStopLoading      = 100
)

// Metrics receives the outbound/coalesce counters SPEC_FULL's expansion
// wires to prometheus. Nil-safe: Service checks before calling.
type Metrics interface {
	ObserveOutboundNotification(windowID types.WindowId)
	ObserveDebounceCoalesced(windowID types.WindowId)
}

// Outbound is called with the debounced per-window notification payload,
// at most once per DebounceInterval per WindowId.
type Outbound func(update types.OutboundUpdate)

// TabPatch is a partial update to one TabState; nil fields are left
// unchanged. Used by UpdateTab.
type TabPatch struct {
	URL             *string
	Title           *string
	FaviconURL      *string
	IsLoading       *bool
	LoadingProgress *int
	CanGoBack       *bool
	CanGoForward    *bool
	Error           *string
	PoolState       *types.PoolState
	IsBookmarked    *bool
}

type debounceTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Service is the StateService component.
type Service struct {
	mu      sync.RWMutex
	windows map[types.WindowId]types.WindowState

	progressFloor map[progressKey]int

	bus      *eventbus.Bus
	outbound Outbound
	debounce time.Duration
	metrics  Metrics
	log      *zap.Logger

	timersMu sync.Mutex
	timers   map[types.WindowId]*debounceTimer
}

type progressKey struct {
	windowID types.WindowId
	tabID    types.TabId
}

// New constructs a Service. outbound may be nil (debounce fires are then a
// no-op), useful for tests that only assert on the synchronous bus events.
func New(bus *eventbus.Bus, outbound Outbound, debounceInterval time.Duration, metrics Metrics, log *zap.Logger) *Service {
	if debounceInterval <= 0 {
		debounceInterval = DefaultDebounceInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		windows:       make(map[types.WindowId]types.WindowState),
		progressFloor: make(map[progressKey]int),
		bus:           bus,
		outbound:      outbound,
		debounce:      debounceInterval,
		metrics:       metrics,
		log:           log,
		timers:        make(map[types.WindowId]*debounceTimer),
	}
}

// GetState returns a defensive copy of windowID's state.
func (s *Service) GetState(windowID types.WindowId) (types.WindowState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[windowID]
	if !ok {
		return types.WindowState{}, false
	}
	return w.Clone(), true
}

// GetAllStates returns a defensive copy of every window's state.
func (s *Service) GetAllStates() map[types.WindowId]types.WindowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.WindowId]types.WindowState, len(s.windows))
	for id, w := range s.windows {
		out[id] = w.Clone()
	}
	return out
}

// SetState replaces windowID's entire state. forceNavigationCheck, when
// true, treats the change as navigation-relevant regardless of the diff
// (used by callers that already know a relevant change occurred, e.g.
// construction of a brand-new window).
func (s *Service) SetState(windowID types.WindowId, newState types.WindowState, forceNavigationCheck bool) {
	s.mu.Lock()
	prev := s.windows[windowID]
	newState.WindowID = windowID
	s.windows[windowID] = newState
	s.mu.Unlock()

	relevant := forceNavigationCheck || navigationRelevant(prev, newState)
	s.commit(windowID, prev, newState, relevant)
}

// RemoveState deletes windowID's state and cancels any pending debounce.
func (s *Service) RemoveState(windowID types.WindowId) {
	s.mu.Lock()
	for k := range s.progressFloor {
		if k.windowID == windowID {
			delete(s.progressFloor, k)
		}
	}
	delete(s.windows, windowID)
	s.mu.Unlock()

	s.timersMu.Lock()
	if dt, ok := s.timers[windowID]; ok {
		dt.mu.Lock()
		if dt.timer != nil {
			dt.timer.Stop()
		}
		dt.mu.Unlock()
		delete(s.timers, windowID)
	}
	s.timersMu.Unlock()
}

// AddTab appends tab to windowID's tab sequence. Always navigation-relevant.
func (s *Service) AddTab(windowID types.WindowId, tab types.TabState) error {
	s.mu.Lock()
	win, ok := s.windows[windowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("add tab: %w", coreerrors.ErrWindowNotFound)
	}
	prev := win.Clone()
	win.Tabs = append(win.Tabs, tab)
	s.windows[windowID] = win
	s.mu.Unlock()

	s.commit(windowID, prev, win, true)
	return nil
}

// RemoveTab removes tabID from windowID's tab sequence. Always
// navigation-relevant. Callers are responsible for invariant 1 (keeping at
// least one tab); TabService enforces the replacement-tab policy before
// calling this.
func (s *Service) RemoveTab(windowID types.WindowId, tabID types.TabId) error {
	s.mu.Lock()
	win, ok := s.windows[windowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove tab: %w", coreerrors.ErrWindowNotFound)
	}
	idx := win.IndexOfTab(tabID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remove tab: %w", coreerrors.ErrTabNotFound)
	}
	prev := win.Clone()
	win.Tabs = append(win.Tabs[:idx:idx], win.Tabs[idx+1:]...)
	s.windows[windowID] = win
	delete(s.progressFloor, progressKey{windowID: windowID, tabID: tabID})
	s.mu.Unlock()

	s.commit(windowID, prev, win, true)
	return nil
}

// UpdateTab applies a partial update with progress monotonicity: progress
// never regresses unless the URL changed, which resets the floor to 0.
// Navigation-relevance is set iff url or isLoading changed.
func (s *Service) UpdateTab(windowID types.WindowId, tabID types.TabId, patch TabPatch) error {
	s.mu.Lock()
	win, ok := s.windows[windowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update tab: %w", coreerrors.ErrWindowNotFound)
	}
	idx := win.IndexOfTab(tabID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("update tab: %w", coreerrors.ErrTabNotFound)
	}
	prev := win.Clone()
	tab := &win.Tabs[idx]
	key := progressKey{windowID: windowID, tabID: tabID}

	relevant := false
	if patch.URL != nil && *patch.URL != tab.URL {
		tab.URL = *patch.URL
		tab.LoadingProgress = 0
		s.progressFloor[key] = 0
		relevant = true
	}
	if patch.Title != nil {
		tab.Title = *patch.Title
	}
	if patch.FaviconURL != nil {
		tab.FaviconURL = *patch.FaviconURL
	}
	if patch.IsLoading != nil && *patch.IsLoading != tab.IsLoading {
		tab.IsLoading = *patch.IsLoading
		relevant = true
	}
	if patch.LoadingProgress != nil {
		floor := s.progressFloor[key]
		next := *patch.LoadingProgress
		if next < floor {
			next = floor
		}
		tab.LoadingProgress = next
		s.progressFloor[key] = next
	}
	if patch.CanGoBack != nil {
		tab.CanGoBack = *patch.CanGoBack
	}
	if patch.CanGoForward != nil {
		tab.CanGoForward = *patch.CanGoForward
	}
	if patch.Error != nil {
		tab.Error = *patch.Error
	}
	if patch.PoolState != nil {
		tab.PoolState = *patch.PoolState
	}
	if patch.IsBookmarked != nil {
		tab.IsBookmarked = *patch.IsBookmarked
	}
	tab.LastAccessed = time.Now()
	s.windows[windowID] = win
	s.mu.Unlock()

	s.commit(windowID, prev, win, relevant)
	return nil
}

// SetActiveTab sets windowID's active tab. Always navigation-relevant.
func (s *Service) SetActiveTab(windowID types.WindowId, tabID types.TabId) error {
	s.mu.Lock()
	win, ok := s.windows[windowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set active tab: %w", coreerrors.ErrWindowNotFound)
	}
	if win.IndexOfTab(tabID) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("set active tab: %w", coreerrors.ErrTabNotFound)
	}
	prev := win.Clone()
	win.ActiveTabID = tabID
	s.windows[windowID] = win
	s.mu.Unlock()

	s.commit(windowID, prev, win, true)
	return nil
}

// SetBounds updates windowID's screen bounds. Not navigation-relevant.
func (s *Service) SetBounds(windowID types.WindowId, bounds types.Bounds) error {
	s.mu.Lock()
	win, ok := s.windows[windowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set bounds: %w", coreerrors.ErrWindowNotFound)
	}
	prev := win.Clone()
	win.Bounds = bounds
	s.windows[windowID] = win
	s.mu.Unlock()

	s.commit(windowID, prev, win, false)
	return nil
}

// SetFreezeState transitions windowID's freeze state machine. Satisfies
// snapshotstore.StateWriter.
func (s *Service) SetFreezeState(windowID types.WindowId, freeze types.FreezeState) error {
	s.mu.Lock()
	win, ok := s.windows[windowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set freeze state: %w", coreerrors.ErrWindowNotFound)
	}
	prev := win.Clone()
	win.FreezeState = freeze
	s.windows[windowID] = win
	s.mu.Unlock()

	s.commit(windowID, prev, win, false)
	return nil
}

// navigationRelevant implements spec.md §4.4's diff: different activeTabId,
// different tab count, a new tab identity, or any tab whose url or
// isLoading changed.
func navigationRelevant(prev, next types.WindowState) bool {
	if prev.ActiveTabID != next.ActiveTabID {
		return true
	}
	if len(prev.Tabs) != len(next.Tabs) {
		return true
	}
	for i := range next.Tabs {
		if i >= len(prev.Tabs) {
			return true
		}
		if prev.Tabs[i].ID != next.Tabs[i].ID {
			return true
		}
		if prev.Tabs[i].URL != next.Tabs[i].URL {
			return true
		}
		if prev.Tabs[i].IsLoading != next.Tabs[i].IsLoading {
			return true
		}
	}
	return false
}

// commit emits state-changed synchronously and schedules the debounced
// outbound notification.
func (s *Service) commit(windowID types.WindowId, prev, next types.WindowState, relevant bool) {
	if s.bus != nil {
		s.bus.Emit(eventbus.StateChanged, eventbus.StateChangedEvent{
			WindowID:             windowID,
			NewState:             next,
			PreviousState:        prev,
			IsNavigationRelevant: relevant,
		})
	}
	s.scheduleOutbound(windowID)
}

// scheduleOutbound restarts windowID's debounce timer, grounded on
// pkg/config.Reloader.triggerReload's time.AfterFunc-based debounce
// (dedicated timer mutex distinct from the state mutex).
func (s *Service) scheduleOutbound(windowID types.WindowId) {
	if s.outbound == nil {
		return
	}

	s.timersMu.Lock()
	dt, ok := s.timers[windowID]
	if !ok {
		dt = &debounceTimer{}
		s.timers[windowID] = dt
	}
	s.timersMu.Unlock()

	dt.mu.Lock()
	defer dt.mu.Unlock()
	if dt.timer != nil {
		if dt.timer.Stop() && s.metrics != nil {
			s.metrics.ObserveDebounceCoalesced(windowID)
		}
	}
	dt.timer = time.AfterFunc(s.debounce, func() { s.fireOutbound(windowID) })
}

func (s *Service) fireOutbound(windowID types.WindowId) {
	win, ok := s.GetState(windowID)
	if !ok {
		return
	}
	update := types.OutboundUpdate{
		WindowID:      windowID,
		Tabs:          win.Tabs,
		ActiveTabID:   win.ActiveTabID,
		TabGroupTitle: win.TabGroupTitle,
		FreezeState:   win.FreezeState,
	}
	s.outbound(update)
	if s.metrics != nil {
		s.metrics.ObserveOutboundNotification(windowID)
	}
}
