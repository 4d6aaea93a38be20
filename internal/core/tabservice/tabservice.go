// Package tabservice implements the pure tab create/switch/close policy
// from spec.md §4.5. It computes the StateService mutations a command
// requires without performing them itself, so the policy is fully testable
// without a running Service.
package tabservice

import (
	"fmt"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/coreerrors"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// IDGenerator mints fresh TabIds. The facade wires this to a
// crypto/rand-backed generator (grounded on
// internal/session.generateSessionID); tests supply a deterministic stub.
type IDGenerator func() types.TabId

// NewTab builds the TabState a create command appends, per spec.md §4.5:
// title "New Tab", blank favicon, isLoading/poolState driven by makeActive,
// zero progress.
func NewTab(gen IDGenerator, windowID types.WindowId, url string, makeActive bool) types.TabState {
	return types.NewTab(gen(), windowID, url, makeActive)
}

// CloseResult describes the StateService mutations Close requires: the new
// active tab to set (if the closed tab was active) and whether a
// replacement blank tab must be created first because tabs would otherwise
// go empty.
type CloseResult struct {
	// NeedsReplacement is true when win.Tabs has exactly one tab; the
	// caller must AddTab a fresh blank tab before RemoveTab, per invariant
	// 1 (tabs.length >= 1 while the window exists).
	NeedsReplacement bool

	// NewActiveTabID is the tab to make active before removal, when the
	// closed tab was the active one. Empty if the closed tab was not
	// active (removal doesn't change which tab is active).
	NewActiveTabID types.TabId
}

// Close computes the close policy for closing tabID in win, per spec.md
// §4.5: replace-when-last, and "neighbour on the right, else left" when
// there's more than one tab and the closed tab is active. The caller is
// responsible for performing AddTab (if NeedsReplacement)/SetActiveTab (if
// NewActiveTabID is set)/RemoveTab in that order, matching the "set new
// active tab *before* removal" requirement.
func Close(win types.WindowState, tabID types.TabId) (CloseResult, error) {
	idx := win.IndexOfTab(tabID)
	if idx < 0 {
		return CloseResult{}, fmt.Errorf("close tab: %w", coreerrors.ErrTabNotFound)
	}

	if len(win.Tabs) == 1 {
		return CloseResult{NeedsReplacement: true}, nil
	}

	if win.ActiveTabID != tabID {
		return CloseResult{}, nil
	}

	// Neighbour on the right, else left.
	var neighbour types.TabId
	if idx+1 < len(win.Tabs) {
		neighbour = win.Tabs[idx+1].ID
	} else {
		neighbour = win.Tabs[idx-1].ID
	}
	return CloseResult{NewActiveTabID: neighbour}, nil
}
