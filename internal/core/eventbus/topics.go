package eventbus

import (
	"context"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// Topics emitted by the ViewPool from renderer-side engine events, and by
// the facade/ViewManager for window-level presentation events. Payload
// shapes are the exported structs below; a subscriber type-asserts the
// payload to the struct documented on the same line as the topic constant.
const (
	ViewDidStartLoading     Topic = "view:did-start-loading"     // LoadProgressEvent
	ViewDidStopLoading      Topic = "view:did-stop-loading"       // LoadProgressEvent
	ViewDidNavigate         Topic = "view:did-navigate"           // NavigateEvent
	ViewDidNavigateInPage   Topic = "view:did-navigate-in-page"   // NavigateEvent
	ViewDOMReady            Topic = "view:dom-ready"              // FrameEvent
	ViewDidFrameFinishLoad  Topic = "view:did-frame-finish-load"  // FrameEvent
	ViewDidFailLoad         Topic = "view:did-fail-load"          // FailLoadEvent
	ViewPageTitleUpdated    Topic = "view:page-title-updated"     // TitleEvent
	ViewPageFaviconUpdated  Topic = "view:page-favicon-updated"   // FaviconEvent
	ViewContextMenuRequested Topic = "view:context-menu-requested" // ContextMenuEvent
	ViewWindowOpenRequest   Topic = "view:window-open-request"    // WindowOpenEvent

	WindowFocusChanged Topic = "window:focus-changed"   // WindowFocusEvent
	WindowMinimized    Topic = "window:minimized"        // WindowLifecycleEvent
	WindowRestored     Topic = "window:restored"         // WindowLifecycleEvent
	WindowZOrderUpdate Topic = "window:z-order-update"   // ZOrderEvent

	TabBeforeEviction  Topic = "tab:before-eviction"    // EvictionEvent
	TabSnapshotCaptured Topic = "tab:snapshot-captured" // SnapshotCapturedEvent

	StateChanged Topic = "state-changed" // StateChangedEvent
)

// LoadProgressEvent accompanies ViewDidStartLoading / ViewDidStopLoading.
type LoadProgressEvent struct {
	WindowID     types.WindowId
	TabID        types.TabId
	URL          string
	Title        string
	CanGoBack    bool
	CanGoForward bool
}

// NavigateEvent accompanies ViewDidNavigate / ViewDidNavigateInPage.
type NavigateEvent struct {
	WindowID types.WindowId
	TabID    types.TabId
	URL      string
	Title    string
}

// FrameEvent accompanies ViewDOMReady / ViewDidFrameFinishLoad.
type FrameEvent struct {
	WindowID   types.WindowId
	TabID      types.TabId
	URL        string
	Title      string
	IsMainFrame bool
}

// FailLoadEvent accompanies ViewDidFailLoad.
type FailLoadEvent struct {
	WindowID        types.WindowId
	TabID           types.TabId
	ErrorCode       int64
	ErrorDescription string
	URL             string
	IsMainFrame     bool
}

// TitleEvent accompanies ViewPageTitleUpdated.
type TitleEvent struct {
	WindowID types.WindowId
	TabID    types.TabId
	Title    string
}

// FaviconEvent accompanies ViewPageFaviconUpdated.
type FaviconEvent struct {
	WindowID   types.WindowId
	TabID      types.TabId
	FaviconURL string
}

// ContextMenuEvent accompanies ViewContextMenuRequested.
type ContextMenuEvent struct {
	WindowID   types.WindowId
	Params     map[string]any
	ViewBounds types.Bounds
}

// WindowOpenDisposition enumerates how a window-open request wants to be
// handled; the facade turns the request into a foreground or background
// tab accordingly.
type WindowOpenDisposition string

const (
	DispositionForegroundTab WindowOpenDisposition = "foreground-tab"
	DispositionBackgroundTab WindowOpenDisposition = "background-tab"
	DispositionNewWindow     WindowOpenDisposition = "new-window"
)

// WindowOpenEvent accompanies ViewWindowOpenRequest.
type WindowOpenEvent struct {
	WindowID types.WindowId
	URL      string
	Disposition WindowOpenDisposition
}

// WindowFocusEvent accompanies WindowFocusChanged.
type WindowFocusEvent struct {
	WindowID types.WindowId
	Focused  bool
}

// WindowLifecycleEvent accompanies WindowMinimized / WindowRestored.
type WindowLifecycleEvent struct {
	WindowID types.WindowId
}

// ZOrderEvent accompanies WindowZOrderUpdate; OrderedWindows is ascending by
// z-index (bottom to top).
type ZOrderEvent struct {
	OrderedWindows []types.WindowId
}

// EvictionEvent accompanies TabBeforeEviction, emitted before the renderer
// is destroyed. Capture is bound to the about-to-be-destroyed renderer's
// CapturePage method, letting SnapshotStore take a final bitmap without
// ViewPool exposing the renderer itself (which would cycle-import back from
// eventbus to viewpool).
type EvictionEvent struct {
	WindowID types.WindowId
	TabID    types.TabId
	URL      string
	Capture  func(ctx context.Context) (string, error)
}

// SnapshotCapturedEvent accompanies TabSnapshotCaptured.
type SnapshotCapturedEvent struct {
	WindowID types.WindowId
	TabID    types.TabId
	Snapshot string
}

// StateChangedEvent accompanies StateChanged, StateService's synchronous
// intra-Core broadcast of every state transition.
type StateChangedEvent struct {
	WindowID            types.WindowId
	NewState            types.WindowState
	PreviousState        types.WindowState
	IsNavigationRelevant bool
}
