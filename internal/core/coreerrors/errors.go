// Package coreerrors declares the sentinel error kinds from spec.md §7.
// Components wrap these with fmt.Errorf("...: %w", ErrX) the way the
// teacher's pkg/browser and pkg/config wrap their own errors, rather than
// building a bespoke error-code type — no example repo in the retrieval
// pack reaches for a structured-errors library for this, so plain sentinel
// wrapping is the grounded, idiomatic choice (see DESIGN.md).
package coreerrors

import "errors"

var (
	// ErrRendererCreationFailed: ViewPool.acquire failed mid-initialization.
	ErrRendererCreationFailed = errors.New("renderer creation failed")

	// ErrNavigationFailed: the engine reported did-fail-load on the main frame.
	ErrNavigationFailed = errors.New("navigation failed")

	// ErrCaptureFailed: a snapshot capture could not produce a bitmap.
	ErrCaptureFailed = errors.New("snapshot capture failed")

	// ErrInvariantBroken: a defensive check found inconsistent internal state.
	ErrInvariantBroken = errors.New("invariant broken")

	// ErrInsecureURL: a navigation target violates the scheme allow-list.
	ErrInsecureURL = errors.New("insecure url")

	// ErrWindowNotFound: a command referenced a WindowId with no state.
	ErrWindowNotFound = errors.New("window not found")

	// ErrTabNotFound: a command referenced a TabId absent from its window.
	ErrTabNotFound = errors.New("tab not found")

	// ErrPoolClosed: an operation was attempted after ViewPool.cleanup.
	ErrPoolClosed = errors.New("view pool closed")
)
