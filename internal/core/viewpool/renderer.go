package viewpool

import (
	"context"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// Renderer is the Core's view of one heavyweight web-content renderer: the
// only surface ViewPool, ViewManager, and NavigationService ever touch. The
// embedded engine's internals (chromedp/cdproto in this implementation)
// never leak past this interface, so every other component in the module
// is testable against fakeRenderer without a real browser process.
type Renderer interface {
	TabID() types.TabId
	WindowID() types.WindowId

	// Rebind updates the (tabId, windowId) context captured by the
	// renderer's event handlers without destroying or recreating anything.
	// Used by migrate() when a tab's owning window changes.
	Rebind(windowID types.WindowId)

	// CurrentURL returns the last committed navigation target, or the
	// empty string for a renderer that has never navigated.
	CurrentURL() string

	Load(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error
	Stop(ctx context.Context) error

	// CapturePage returns the current frame as a data URL.
	CapturePage(ctx context.Context) (string, error)

	// IsAlive reports whether the underlying engine process/target is
	// still usable.
	IsAlive() bool

	// Close stops any in-flight activity and releases the underlying
	// engine resources. Idempotent.
	Close() error
}

// Factory creates a new Renderer bound to tabID/windowID, optionally
// resuming at resumeURL (the last known URL preserved across a prior
// eviction). Implementations must destroy any partially constructed
// renderer and return a non-nil error on failure, per spec.md §4.2's
// "any failure during initialization" clause.
type Factory func(tabID types.TabId, windowID types.WindowId, resumeURL string) (Renderer, error)
