package facade

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// classicBrowserWindowType is the only descriptor type spec.md §6 asks the
// Core to retain from an inbound WINDOW_STATE_UPDATE snapshot; every other
// logical-window type belongs to a different subsystem of the host shell.
const classicBrowserWindowType = "classic-browser"

// WindowDescriptor is one entry of an inbound WINDOW_STATE_UPDATE snapshot.
type WindowDescriptor struct {
	ID          types.WindowId
	Type        string
	ZIndex      int
	IsFocused   bool
	IsMinimized bool
	Payload     WindowDescriptorPayload
}

// WindowDescriptorPayload is the classic-browser-specific slice of a
// descriptor's payload.
type WindowDescriptorPayload struct {
	FreezeState types.FreezeKind
}

// lastDescriptor is what HandleWindowStateUpdate diffs the next snapshot
// against.
type lastDescriptor struct {
	zIndex      int
	isFocused   bool
	isMinimized bool
	freezeKind  types.FreezeKind
}

// HandleWindowStateUpdate implements spec.md §6's inbound WINDOW_STATE_UPDATE
// diff: a stateless comparison against the previous snapshot that turns
// focus/minimize/freeze-transition/z-order changes into EventBus emissions
// and freeze-state-machine transitions. Non-classic-browser descriptors are
// dropped before diffing, per spec.md §6.
func (s *Service) HandleWindowStateUpdate(ctx context.Context, descriptors []WindowDescriptor) {
	seen := make(map[types.WindowId]struct{}, len(descriptors))
	var ordered []types.WindowId

	for _, d := range descriptors {
		if d.Type != classicBrowserWindowType {
			continue
		}
		seen[d.ID] = struct{}{}
		if !d.IsMinimized {
			ordered = append(ordered, d.ID)
		}

		prev, existed := s.lastDescriptors[d.ID]
		next := lastDescriptor{
			zIndex:      d.ZIndex,
			isFocused:   d.IsFocused,
			isMinimized: d.IsMinimized,
			freezeKind:  d.Payload.FreezeState,
		}

		if !existed || prev.isFocused != next.isFocused {
			s.bus.Emit(eventbus.WindowFocusChanged, eventbus.WindowFocusEvent{WindowID: d.ID, Focused: d.IsFocused})
		}

		if !existed && d.IsMinimized {
			s.bus.Emit(eventbus.WindowMinimized, eventbus.WindowLifecycleEvent{WindowID: d.ID})
		} else if existed && prev.isMinimized != next.isMinimized {
			if d.IsMinimized {
				s.bus.Emit(eventbus.WindowMinimized, eventbus.WindowLifecycleEvent{WindowID: d.ID})
			} else {
				s.bus.Emit(eventbus.WindowRestored, eventbus.WindowLifecycleEvent{WindowID: d.ID})
			}
		}

		if existed && prev.freezeKind != next.freezeKind {
			s.driveFreezeTransition(ctx, d.ID, next.freezeKind)
		}

		s.lastDescriptors[d.ID] = next
	}

	for windowID := range s.lastDescriptors {
		if _, stillPresent := seen[windowID]; !stillPresent {
			delete(s.lastDescriptors, windowID)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return s.lastDescriptors[ordered[i]].zIndex < s.lastDescriptors[ordered[j]].zIndex
	})
	s.bus.Emit(eventbus.WindowZOrderUpdate, eventbus.ZOrderEvent{OrderedWindows: ordered})
}

// driveFreezeTransition maps an inbound freeze-kind change onto the
// FreezeWindow/UnfreezeWindow commands, per spec.md §4.3's state machine and
// §5's back-pressure rule: a CAPTURING arriving while one is already in
// flight is dropped by beginCapture. A capture that succeeds always commits
// FROZEN; an ACTIVE that follows it is applied afterwards by UnfreezeWindow,
// which returns the window to ACTIVE, so the capture's result is overwritten
// rather than discarded.
func (s *Service) driveFreezeTransition(ctx context.Context, windowID types.WindowId, kind types.FreezeKind) {
	switch kind {
	case types.FreezeCapturing:
		if err := s.FreezeWindow(ctx, windowID); err != nil {
			s.log.Warn("freeze transition failed", zap.String("windowId", string(windowID)), zap.Error(err))
		}
	case types.FreezeActive:
		if err := s.UnfreezeWindow(windowID); err != nil {
			s.log.Debug("unfreeze transition failed", zap.String("windowId", string(windowID)), zap.Error(err))
		}
	default:
		// AWAITING_RENDER (and FROZEN) arrive as the terminal state of a
		// capture this service itself drove via FreezeWindow; there is no
		// inbound command for them to trigger here, so log and no-op rather
		// than silently drop.
		s.log.Debug("inbound freeze-state transition has no driven action", zap.String("windowId", string(windowID)), zap.Stringer("freezeKind", kind))
	}
}
