// Package viewpool implements the bounded, LRU-evicting pool of
// heavyweight web-content renderers described in spec.md §4.2. It is the
// only component that creates or destroys renderers (invariant 5's
// counterpart on the code side).
package viewpool

import (
	"container/list"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/coreerrors"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// DefaultMaxPoolSize mirrors spec.md §3 invariant 8.
const DefaultMaxPoolSize = 5

// Config tunes the pool. Zero values are replaced with defaults, grounded
// on pkg/browser.DefaultPoolConfig's apply-defaults-on-construct idiom.
type Config struct {
	MaxPoolSize int
}

func (c Config) withDefaults() Config {
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = DefaultMaxPoolSize
	}
	return c
}

type entry struct {
	tabID    types.TabId
	renderer Renderer
	elem     *list.Element
}

// Pool is the bounded LRU renderer pool. LRU order is the order of last
// acquire, per spec.md §3 invariant 8; the list's front is LRU, back is MRU.
type Pool struct {
	mu sync.Mutex

	cfg     Config
	factory Factory
	bus     *eventbus.Bus
	log     *zap.Logger

	entries map[types.TabId]*entry
	lru     *list.List

	// lastKnownURL preserves the last committed URL for a tab across
	// eviction/release so a future acquire resumes where it left off.
	lastKnownURL map[types.TabId]string

	// windowOf is the tab->window mapping used by migrate and
	// cleanupWindowMappings, independent of renderer residence.
	windowOf map[types.TabId]types.WindowId

	closed bool
}

// New constructs a Pool. factory is called to create renderers on a pool
// miss; bus receives the tab:before-eviction event this package emits before
// closing an evicted renderer.
func New(cfg Config, factory Factory, bus *eventbus.Bus, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		cfg:          cfg.withDefaults(),
		factory:      factory,
		bus:          bus,
		log:          log,
		entries:      make(map[types.TabId]*entry),
		lru:          list.New(),
		lastKnownURL: make(map[types.TabId]string),
		windowOf:     make(map[types.TabId]types.WindowId),
	}
}

// Acquire returns the renderer for tabID, creating one (evicting the LRU
// entry first if at capacity) if none is resident. Re-acquiring an already
// resident tab refreshes its LRU position and rebinds its event handlers to
// windowID without destroying anything.
func (p *Pool) Acquire(tabID types.TabId, windowID types.WindowId) (Renderer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, coreerrors.ErrPoolClosed
	}

	p.windowOf[tabID] = windowID

	if e, ok := p.entries[tabID]; ok {
		p.lru.MoveToBack(e.elem)
		p.mu.Unlock()
		e.renderer.Rebind(windowID)
		return e.renderer, nil
	}

	var victim *entry
	if len(p.entries) >= p.cfg.MaxPoolSize {
		front := p.lru.Front()
		if front != nil {
			victim = front.Value.(*entry)
			p.lru.Remove(front)
			delete(p.entries, victim.tabID)
		}
	}
	resumeURL := p.lastKnownURL[tabID]
	p.mu.Unlock()

	if victim != nil {
		p.evict(victim)
	}

	renderer, err := p.factory(tabID, windowID, resumeURL)
	if err != nil {
		return nil, fmt.Errorf("viewpool: acquire %s: %w", tabID, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = renderer.Close()
		return nil, coreerrors.ErrPoolClosed
	}
	e := &entry{tabID: tabID, renderer: renderer}
	e.elem = p.lru.PushBack(e)
	p.entries[tabID] = e
	p.mu.Unlock()

	return renderer, nil
}

// evict runs the three-step eviction protocol from spec.md §4.2: emit
// tab:before-eviction (synchronous dispatch means SnapshotStore's
// subscriber has already captured by the time Emit returns), then release.
func (p *Pool) evict(victim *entry) {
	windowID := p.windowOf[victim.tabID]
	if p.bus != nil {
		p.bus.Emit(eventbus.TabBeforeEviction, eventbus.EvictionEvent{
			WindowID: windowID,
			TabID:    victim.tabID,
			URL:      victim.renderer.CurrentURL(),
			Capture:  victim.renderer.CapturePage,
		})
	}
	p.preserveURL(victim)
	if err := victim.renderer.Close(); err != nil {
		p.log.Debug("renderer close on eviction failed", zap.String("tabId", string(victim.tabID)), zap.Error(err))
	}
}

func (p *Pool) preserveURL(e *entry) {
	url := e.renderer.CurrentURL()
	p.mu.Lock()
	p.lastKnownURL[e.tabID] = url
	p.mu.Unlock()
}

// Release removes tabID from the pool and destroys its renderer. Idempotent.
func (p *Pool) Release(tabID types.TabId) {
	p.mu.Lock()
	e, ok := p.entries[tabID]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.lru.Remove(e.elem)
	delete(p.entries, tabID)
	p.mu.Unlock()

	p.preserveURL(e)
	if err := e.renderer.Close(); err != nil {
		p.log.Debug("renderer close on release failed", zap.String("tabId", string(tabID)), zap.Error(err))
	}
}

// Get returns the resident renderer for tabID without touching LRU order,
// or nil if the tab has no resident renderer.
func (p *Pool) Get(tabID types.TabId) Renderer {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[tabID]
	if !ok {
		return nil
	}
	return e.renderer
}

// Migrate rebinds tabID's event handlers to newWindowID without destroying
// or recreating the renderer. A no-op if the tab has no resident renderer.
func (p *Pool) Migrate(tabID types.TabId, newWindowID types.WindowId) {
	p.mu.Lock()
	p.windowOf[tabID] = newWindowID
	e, ok := p.entries[tabID]
	p.mu.Unlock()
	if ok {
		e.renderer.Rebind(newWindowID)
	}
}

// CleanupWindowMappings drops the tab->window mapping for every tab
// currently attributed to windowID, without touching pool residence. Called
// when a window is destroyed.
func (p *Pool) CleanupWindowMappings(windowID types.WindowId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for tabID, w := range p.windowOf {
		if w == windowID {
			delete(p.windowOf, tabID)
		}
	}
}

// Size returns the number of resident renderers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// LastKnownURL returns the preserved URL for tabID, if any. Acquire reads
// the same map directly to resume a tab after eviction or release.
func (p *Pool) LastKnownURL(tabID types.TabId) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastKnownURL[tabID]
}

// Cleanup releases every resident renderer, aggregating every close failure
// into a single multierr-combined error for the caller instead of only
// logging each one individually.
func (p *Pool) Cleanup() error {
	p.mu.Lock()
	all := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		all = append(all, e)
	}
	p.entries = make(map[types.TabId]*entry)
	p.lru = list.New()
	p.closed = true
	p.mu.Unlock()

	var errs error
	for _, e := range all {
		if err := e.renderer.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("viewpool: close %s: %w", e.tabID, err))
		}
	}
	return errs
}
