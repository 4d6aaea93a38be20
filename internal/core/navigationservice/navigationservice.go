// Package navigationservice maps user-initiated navigation intents onto the
// active tab's renderer, per spec.md §4.6.
package navigationservice

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/coreerrors"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/stateservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/urlutil"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

// Action is one member of the canonical context-menu action set from
// spec.md §6.
type Action string

const (
	ActionLinkOpenNewTab    Action = "link:open-new-tab"
	ActionLinkOpenBackground Action = "link:open-background"
	ActionLinkCopy          Action = "link:copy"
	ActionImageOpenNewTab   Action = "image:open-new-tab"
	ActionImageCopyURL      Action = "image:copy-url"
	ActionImageSave         Action = "image:save"
	ActionEditCopy          Action = "edit:copy"
	ActionEditCut           Action = "edit:cut"
	ActionEditPaste         Action = "edit:paste"
	ActionEditUndo          Action = "edit:undo"
	ActionEditRedo          Action = "edit:redo"
	ActionEditSelectAll     Action = "edit:select-all"
	ActionNavigateBack      Action = "navigate:back"
	ActionNavigateForward   Action = "navigate:forward"
	ActionNavigateReload    Action = "navigate:reload"
	ActionPageCopyURL       Action = "page:copy-url"
	ActionDevViewSource     Action = "dev:view-source"
	ActionDevInspect        Action = "dev:inspect"
)

const searchActionPrefix = "search:"

func isCanonicalAction(a Action) bool {
	if strings.HasPrefix(string(a), searchActionPrefix) {
		return true
	}
	switch a {
	case ActionLinkOpenNewTab, ActionLinkOpenBackground, ActionLinkCopy,
		ActionImageOpenNewTab, ActionImageCopyURL, ActionImageSave,
		ActionEditCopy, ActionEditCut, ActionEditPaste, ActionEditUndo, ActionEditRedo, ActionEditSelectAll,
		ActionNavigateBack, ActionNavigateForward, ActionNavigateReload,
		ActionPageCopyURL, ActionDevViewSource, ActionDevInspect:
		return true
	default:
		return false
	}
}

// allowedSchemes is the scheme allow-list spec.md §4.6 requires for
// loadUrl's security validation. file:// is deliberately absent: local-file
// access from an untrusted navigation target is the exact case the spec
// calls out to reject.
var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"about": {},
	"data":  {},
}

// Service is the NavigationService component.
type Service struct {
	pool  *viewpool.Pool
	state *stateservice.Service
	log   *zap.Logger
}

// New constructs a Service.
func New(pool *viewpool.Pool, state *stateservice.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{pool: pool, state: state, log: log}
}

// ValidateURL applies the scheme allow-list. Exported so ViewManager can
// apply the same check before its own programmatic navigations.
func ValidateURL(raw string) error {
	scheme, _, ok := strings.Cut(raw, ":")
	if !ok {
		return fmt.Errorf("load url %q: %w", raw, coreerrors.ErrInsecureURL)
	}
	if _, ok := allowedSchemes[strings.ToLower(scheme)]; !ok {
		return fmt.Errorf("load url %q: %w", raw, coreerrors.ErrInsecureURL)
	}
	return nil
}

// LoadURL security-validates rawURL, acquires the active tab's renderer if
// it isn't resident, instructs it to load, and updates state eagerly so
// ViewManager's reload-suppression sees the new URL immediately.
func (s *Service) LoadURL(ctx context.Context, windowID types.WindowId, rawURL string) error {
	if err := ValidateURL(rawURL); err != nil {
		return err
	}

	win, ok := s.state.GetState(windowID)
	if !ok {
		return fmt.Errorf("load url: %w", coreerrors.ErrWindowNotFound)
	}
	active := win.ActiveTab()
	if active == nil {
		return fmt.Errorf("load url: %w", coreerrors.ErrTabNotFound)
	}

	renderer, err := s.pool.Acquire(active.ID, windowID)
	if err != nil {
		return fmt.Errorf("load url: %w", err)
	}

	if uerr := s.state.UpdateTab(windowID, active.ID, stateservice.TabPatch{URL: &rawURL}); uerr != nil {
		s.log.Debug("failed to eagerly update tab url", zap.Error(uerr))
	}

	if err := renderer.Load(ctx, rawURL); err != nil {
		s.logLoadFailure(rawURL, err)
		if strings.Contains(err.Error(), "ERR_ABORTED") && urlutil.IsAuthenticationURL(rawURL) {
			// An aborted intermediate OAuth redirect is expected, not a failure.
			return nil
		}
		return fmt.Errorf("load url: %w", err)
	}
	return nil
}

// logLoadFailure applies spec.md §4.6's failure-severity split: ERR_ABORTED
// on an authentication URL is expected (OAuth flows frequently abort
// intermediate redirects) and logged at debug; anything else is a warning.
func (s *Service) logLoadFailure(rawURL string, err error) {
	if strings.Contains(err.Error(), "ERR_ABORTED") && urlutil.IsAuthenticationURL(rawURL) {
		s.log.Debug("load aborted on authentication url", zap.String("url", rawURL), zap.Error(err))
		return
	}
	s.log.Warn("load failed", zap.String("url", rawURL), zap.Error(err))
}

func (s *Service) activeRenderer(windowID types.WindowId) (viewpool.Renderer, types.TabId, bool) {
	win, ok := s.state.GetState(windowID)
	if !ok {
		return nil, "", false
	}
	active := win.ActiveTab()
	if active == nil {
		return nil, "", false
	}
	renderer := s.pool.Get(active.ID)
	if renderer == nil {
		return nil, active.ID, false
	}
	return renderer, active.ID, true
}

// GoBack forwards to the active tab's renderer; a no-op if it isn't resident.
func (s *Service) GoBack(ctx context.Context, windowID types.WindowId) error {
	renderer, _, ok := s.activeRenderer(windowID)
	if !ok {
		return nil
	}
	return renderer.GoBack(ctx)
}

// GoForward forwards to the active tab's renderer; a no-op if it isn't resident.
func (s *Service) GoForward(ctx context.Context, windowID types.WindowId) error {
	renderer, _, ok := s.activeRenderer(windowID)
	if !ok {
		return nil
	}
	return renderer.GoForward(ctx)
}

// Reload forwards to the active tab's renderer; a no-op if it isn't resident.
func (s *Service) Reload(ctx context.Context, windowID types.WindowId) error {
	renderer, _, ok := s.activeRenderer(windowID)
	if !ok {
		return nil
	}
	return renderer.Reload(ctx)
}

// Stop forwards to the active tab's renderer; a no-op if it isn't resident.
func (s *Service) Stop(ctx context.Context, windowID types.WindowId) error {
	renderer, _, ok := s.activeRenderer(windowID)
	if !ok {
		return nil
	}
	return renderer.Stop(ctx)
}

// ExecuteContextMenuAction executes the canonical action set from spec.md
// §6. navigate:* actions delegate to the corresponding renderer method;
// page/link/image/edit/search actions carry no renderer-side effect in the
// Core (clipboard, new-tab creation, and dev-tools panels are host/facade
// concerns) and are accepted as validated no-ops so the facade's caller
// gets a uniform success/failure contract.
func (s *Service) ExecuteContextMenuAction(ctx context.Context, windowID types.WindowId, action Action, data map[string]any) error {
	switch action {
	case ActionNavigateBack:
		return s.GoBack(ctx, windowID)
	case ActionNavigateForward:
		return s.GoForward(ctx, windowID)
	case ActionNavigateReload:
		return s.Reload(ctx, windowID)
	}

	if !isCanonicalAction(action) {
		return fmt.Errorf("execute context menu action %q: %w", action, coreerrors.ErrInvariantBroken)
	}
	return nil
}
