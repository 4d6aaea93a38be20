// Package types holds the data model shared by every Classic Browser Core
// component: window/tab identity, per-tab state, and the freeze state
// machine that drives the live-renderer/snapshot illusion.
package types

import "time"

// WindowId identifies a logical browser window for the lifetime of the host
// session. It is opaque to the Core beyond equality comparison.
type WindowId string

// TabId identifies a logical browsing context across every window for the
// lifetime of the ViewPool. A TabId appears in at most one window's tab
// sequence at a time (invariant 4).
type TabId string

// PoolState is advisory residence bookkeeping mirrored onto TabState; the
// ViewPool remains the authority on actual residence.
type PoolState int

const (
	PoolStateInactive PoolState = iota
	PoolStateLoading
	PoolStateResident
)

func (s PoolState) String() string {
	switch s {
	case PoolStateInactive:
		return "INACTIVE"
	case PoolStateLoading:
		return "LOADING"
	case PoolStateResident:
		return "RESIDENT"
	default:
		return "UNKNOWN"
	}
}

// TabState is the per-tab slice of WindowState.
type TabState struct {
	ID       TabId
	WindowID WindowId

	URL        string
	Title      string
	FaviconURL string

	IsLoading       bool
	LoadingProgress int

	CanGoBack    bool
	CanGoForward bool

	Error string

	PoolState PoolState

	LastAccessed time.Time

	IsBookmarked bool
}

// NewTab builds a TabState with the defaults spec.md names for a freshly
// created tab: title "New Tab", blank favicon, zero progress.
func NewTab(id TabId, windowID WindowId, url string, active bool) TabState {
	state := PoolStateInactive
	if active {
		state = PoolStateLoading
	}
	return TabState{
		ID:              id,
		WindowID:        windowID,
		URL:             url,
		Title:           "New Tab",
		IsLoading:       active,
		LoadingProgress: 0,
		PoolState:       state,
		LastAccessed:    time.Now(),
	}
}

// Clone returns a value copy; TabState has no reference fields today but
// callers that mutate in place should copy-then-replace to keep
// WindowState's tab slice free of aliasing surprises.
func (t TabState) Clone() TabState { return t }

// FreezeKind tags the FreezeState variant.
type FreezeKind int

const (
	FreezeActive FreezeKind = iota
	FreezeCapturing
	FreezeAwaitingRender
	FreezeFrozen
)

func (k FreezeKind) String() string {
	switch k {
	case FreezeActive:
		return "ACTIVE"
	case FreezeCapturing:
		return "CAPTURING"
	case FreezeAwaitingRender:
		return "AWAITING_RENDER"
	case FreezeFrozen:
		return "FROZEN"
	default:
		return "UNKNOWN"
	}
}

// FreezeState is the tagged variant from spec.md §3. SnapshotURL is only
// meaningful for AWAITING_RENDER and FROZEN.
type FreezeState struct {
	Kind       FreezeKind
	SnapshotURL string
}

func Active() FreezeState        { return FreezeState{Kind: FreezeActive} }
func Capturing() FreezeState      { return FreezeState{Kind: FreezeCapturing} }
func AwaitingRender(url string) FreezeState {
	return FreezeState{Kind: FreezeAwaitingRender, SnapshotURL: url}
}
func Frozen(url string) FreezeState { return FreezeState{Kind: FreezeFrozen, SnapshotURL: url} }

// Bounds is a screen-relative integer pixel rectangle.
type Bounds struct {
	X, Y, Width, Height int
}

// Equal reports whether two bounds describe the same rectangle.
func (b Bounds) Equal(o Bounds) bool {
	return b.X == o.X && b.Y == o.Y && b.Width == o.Width && b.Height == o.Height
}

// WindowState is the authoritative per-window model StateService owns.
type WindowState struct {
	WindowID WindowId

	Tabs        []TabState
	ActiveTabID TabId

	Bounds Bounds

	FreezeState FreezeState

	TabGroupID    string
	TabGroupTitle string
}

// IndexOfTab returns the index of tabID in Tabs, or -1.
func (w *WindowState) IndexOfTab(tabID TabId) int {
	for i := range w.Tabs {
		if w.Tabs[i].ID == tabID {
			return i
		}
	}
	return -1
}

// Tab returns a pointer to the tab with the given id, or nil.
func (w *WindowState) Tab(tabID TabId) *TabState {
	idx := w.IndexOfTab(tabID)
	if idx < 0 {
		return nil
	}
	return &w.Tabs[idx]
}

// ActiveTab returns a pointer to the active tab, or nil if none is set.
func (w *WindowState) ActiveTab() *TabState {
	return w.Tab(w.ActiveTabID)
}

// Clone deep-copies the tab slice so callers can hand out WindowState
// snapshots without aliasing StateService's authoritative copy.
func (w *WindowState) Clone() WindowState {
	clone := *w
	clone.Tabs = make([]TabState, len(w.Tabs))
	copy(clone.Tabs, w.Tabs)
	return clone
}

// OutboundUpdate is the per-window payload spec.md §6 describes for the
// debounced outbound notification.
type OutboundUpdate struct {
	WindowID      WindowId      `json:"windowId"`
	Tabs          []TabState    `json:"tabs"`
	ActiveTabID   TabId         `json:"activeTabId"`
	TabGroupTitle string        `json:"tabGroupTitle,omitempty"`
	FreezeState   FreezeState   `json:"freezeState"`
}
