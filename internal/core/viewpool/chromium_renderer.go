package viewpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/urlutil"
	"github.com/jeffers-sub/classicbrowsercore/pkg/logger"
)

// chromiumRenderer wraps one chromedp allocator + tab context and is the
// production Renderer implementation. One allocator per renderer (rather
// than one allocator shared by many tabs, as the teacher's BrowserPool
// does for its scraping sessions) gives each resident tab its own
// persistent cookie partition, which spec.md §4.2 requires and a
// shared-browser pool cannot provide.
type chromiumRenderer struct {
	mu sync.RWMutex

	tabID    types.TabId
	windowID types.WindowId

	bus *eventbus.Bus
	log *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserCancel context.CancelFunc

	currentURL   string
	currentTitle string
	loading      bool
	closed       bool

	lastProgrammaticNav time.Time
}

// NewChromiumFactory builds a Factory that creates chromiumRenderers with
// secure defaults: sandboxed, no Node integration (not applicable outside
// Electron, kept as a CDP-level isolation analogue via site-per-process),
// context isolation via one allocator per tab, JS enabled, and a persistent
// user-data directory keyed by TabId for the cookie partition. Flags are
// the security-relevant subset of the teacher's createInstance defaults
// (pkg/browser/pool.go) plus per-tab partitioning this domain requires.
func NewChromiumFactory(bus *eventbus.Bus, log *zap.Logger, profileDir string, headless bool) Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return func(tabID types.TabId, windowID types.WindowId, resumeURL string) (Renderer, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", false), // sandbox stays on; never disabled for embedded content
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("disable-background-timer-throttling", true),
			chromedp.Flag("disable-backgrounding-occluded-windows", true),
			chromedp.Flag("disable-renderer-backgrounding", true),
			chromedp.Flag("user-data-dir", fmt.Sprintf("%s/%s", profileDir, tabID)),
		)

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("%w: %v", errRendererInit, err)
		}

		r := &chromiumRenderer{
			tabID:         tabID,
			windowID:      windowID,
			bus:           bus,
			log:           logger.WithTab(log, string(windowID), string(tabID)),
			allocCtx:      allocCtx,
			allocCancel:   allocCancel,
			browserCtx:    browserCtx,
			browserCancel: browserCancel,
		}
		r.bindEvents()

		if resumeURL != "" && !urlutil.IsBlank(resumeURL) {
			if err := r.Load(browserCtx, resumeURL); err != nil {
				r.log.Warn("failed to resume renderer at preserved url", zap.Error(err), zap.String("url", resumeURL))
			}
		}
		return r, nil
	}
}

// bindEvents attaches the renderer's cdproto/target listener. (tabID,
// windowID) are captured by this closure so emitted events always carry
// the correct context even after Rebind changes r.windowID concurrently —
// the closure reads the renderer's current fields through its own mutex
// rather than freezing a stale copy.
func (r *chromiumRenderer) bindEvents() {
	chromedp.ListenTarget(r.browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameStartedLoading:
			r.setLoading(true)
			r.emitLoadProgress(eventbus.ViewDidStartLoading)
		case *page.EventFrameStoppedLoading:
			r.setLoading(false)
			r.emitLoadProgress(eventbus.ViewDidStopLoading)
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				r.setURL(e.Frame.URL)
				r.emitNavigate(eventbus.ViewDidNavigate, e.Frame.URL)
			}
		case *page.EventNavigatedWithinDocument:
			r.setURL(e.URL)
			r.emitNavigate(eventbus.ViewDidNavigateInPage, e.URL)
		case *page.EventDomContentEventFired:
			r.emitFrame(eventbus.ViewDOMReady, true)
		case *page.EventLoadEventFired:
			r.emitFrame(eventbus.ViewDidFrameFinishLoad, true)
		case *page.EventJavascriptDialogOpening:
			// Dialogs are out of scope for the Core; the host shell owns
			// presenting them. Auto-dismiss so navigation flows don't hang.
			go func() { _ = chromedp.Run(r.browserCtx, page.HandleJavaScriptDialog(false)) }()
		case *page.EventWindowOpen:
			r.handleWindowOpen(e.URL, e.WindowName)
		case *inspector.EventTargetCrashed:
			r.log.Warn("renderer target crashed")
		}
	})
}

// handleWindowOpen implements the window-open policy from spec.md §4.2:
// denied by default, allowed (left to the engine's native popup handling)
// when either the source or target URL is an authentication URL, otherwise
// surfaced to the facade as a tab-creation request.
func (r *chromiumRenderer) handleWindowOpen(targetURL, windowName string) {
	sourceURL := r.CurrentURL()
	if urlutil.IsAuthenticationURL(sourceURL) || urlutil.IsAuthenticationURL(targetURL) {
		r.log.Debug("allowing native popup for authentication url", zap.String("url", targetURL))
		return
	}

	// CDP's windowOpen event carries no foreground/background signal; the
	// facade defaults every converted popup to a foreground tab.
	_ = windowName
	windowID, _ := r.context()
	r.bus.Emit(eventbus.ViewWindowOpenRequest, eventbus.WindowOpenEvent{
		WindowID:    windowID,
		URL:         targetURL,
		Disposition: eventbus.DispositionForegroundTab,
	})
}

func (r *chromiumRenderer) setLoading(v bool) {
	r.mu.Lock()
	r.loading = v
	r.mu.Unlock()
}

func (r *chromiumRenderer) setURL(u string) {
	r.mu.Lock()
	r.currentURL = u
	r.mu.Unlock()
}

func (r *chromiumRenderer) context() (types.WindowId, types.TabId) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windowID, r.tabID
}

func (r *chromiumRenderer) emitLoadProgress(topic eventbus.Topic) {
	windowID, tabID := r.context()
	r.bus.Emit(topic, eventbus.LoadProgressEvent{
		WindowID: windowID,
		TabID:    tabID,
		URL:      r.CurrentURL(),
	})
}

func (r *chromiumRenderer) emitNavigate(topic eventbus.Topic, url string) {
	windowID, tabID := r.context()
	r.bus.Emit(topic, eventbus.NavigateEvent{
		WindowID: windowID,
		TabID:    tabID,
		URL:      url,
	})
}

func (r *chromiumRenderer) emitFrame(topic eventbus.Topic, isMainFrame bool) {
	windowID, tabID := r.context()
	r.bus.Emit(topic, eventbus.FrameEvent{
		WindowID:    windowID,
		TabID:       tabID,
		URL:         r.CurrentURL(),
		IsMainFrame: isMainFrame,
	})
}

func (r *chromiumRenderer) TabID() types.TabId    { return r.tabID }
func (r *chromiumRenderer) WindowID() types.WindowId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windowID
}

func (r *chromiumRenderer) Rebind(windowID types.WindowId) {
	r.mu.Lock()
	r.windowID = windowID
	r.mu.Unlock()
}

func (r *chromiumRenderer) CurrentURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentURL
}

func (r *chromiumRenderer) Load(ctx context.Context, url string) error {
	r.mu.Lock()
	r.lastProgrammaticNav = time.Now()
	r.mu.Unlock()
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		windowID, tabID := r.context()
		r.bus.Emit(eventbus.ViewDidFailLoad, eventbus.FailLoadEvent{
			WindowID:         windowID,
			TabID:            tabID,
			ErrorDescription: err.Error(),
			URL:              url,
			IsMainFrame:      true,
		})
		return fmt.Errorf("%w: %v", errNavigationFailed, err)
	}
	r.setURL(url)
	return nil
}

func (r *chromiumRenderer) GoBack(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.NavigateBack())
}

func (r *chromiumRenderer) GoForward(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.NavigateForward())
}

func (r *chromiumRenderer) Reload(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.Reload())
}

func (r *chromiumRenderer) Stop(ctx context.Context) error {
	return chromedp.Run(ctx, page.StopLoading())
}

func (r *chromiumRenderer) CapturePage(ctx context.Context) (string, error) {
	var buf []byte
	// Quality 100 makes FullScreenshot produce PNG, matching the data URL's MIME type.
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", fmt.Errorf("%w: %v", errCaptureFailed, err)
	}
	return "data:image/png;base64," + encodeBase64(buf), nil
}

func (r *chromiumRenderer) IsAlive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	return r.browserCtx.Err() == nil
}

func (r *chromiumRenderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Best-effort: stop loading before tearing down contexts; cancelling the
	// allocator ends the browser process, and any audio with it.
	_ = chromedp.Run(r.browserCtx, page.StopLoading())

	r.browserCancel()
	r.allocCancel()
	return nil
}
