// Package snapshotstore is the only component that stores rendered bitmaps
// (invariant from spec.md §3). It maintains an LRU cache of data-URL
// snapshots keyed by (WindowId, TabId) and implements the freeze/unfreeze
// semantics layered on top of StateService.
package snapshotstore

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/coreerrors"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/urlutil"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

// DefaultMaxSnapshots mirrors spec.md §3 invariant 7.
const DefaultMaxSnapshots = 10

// Config tunes the store. Zero MaxSnapshots is replaced with the default.
type Config struct {
	MaxSnapshots int
}

func (c Config) withDefaults() Config {
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = DefaultMaxSnapshots
	}
	return c
}

// Snapshot is a captured bitmap and the URL it was captured from.
type Snapshot struct {
	URL     string
	DataURL string
}

// RendererLookup is the narrow slice of viewpool.Pool that SnapshotStore
// needs: resident-only, no-LRU-touch lookup by TabId. *viewpool.Pool
// satisfies this directly; tests substitute a stub.
type RendererLookup interface {
	Get(tabID types.TabId) viewpool.Renderer
}

// StateReader is the subset of stateservice.Service SnapshotStore reads.
type StateReader interface {
	GetState(windowID types.WindowId) (types.WindowState, bool)
}

// StateWriter is the subset of stateservice.Service SnapshotStore mutates
// to drive the freeze state machine.
type StateWriter interface {
	SetFreezeState(windowID types.WindowId, freeze types.FreezeState) error
}

type key struct {
	windowID types.WindowId
	tabID    types.TabId
}

type cacheEntry struct {
	key      key
	snapshot Snapshot
	elem     *list.Element
}

// CaptureMetrics receives capture-failure counts. Nil-safe: Store checks
// before calling. Satisfied by pkg/metrics.Collector.
type CaptureMetrics interface {
	ObserveCaptureFailure()
}

// Store is the LRU snapshot cache plus freeze/unfreeze orchestration.
type Store struct {
	mu sync.Mutex

	cfg   Config
	bus   *eventbus.Bus
	pool  RendererLookup
	state interface {
		StateReader
		StateWriter
	}
	log *zap.Logger

	// Metrics is set by the composition root after construction; left nil
	// in tests that don't care about capture-failure counts.
	Metrics CaptureMetrics

	entries map[key]*cacheEntry
	lru     *list.List

	unsubscribe func()
}

// New constructs a Store and subscribes it to tab:before-eviction so the
// pool's eviction protocol (spec.md §4.2 step 2) has somewhere to deliver
// its opportunistic capture.
func New(cfg Config, bus *eventbus.Bus, pool RendererLookup, state interface {
	StateReader
	StateWriter
}, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		cfg:     cfg.withDefaults(),
		bus:     bus,
		pool:    pool,
		state:   state,
		log:     log,
		entries: make(map[key]*cacheEntry),
		lru:     list.New(),
	}
	if bus != nil {
		s.unsubscribe = bus.Subscribe(eventbus.TabBeforeEviction, s.onBeforeEviction)
	}
	return s
}

// Close detaches the store's eventbus subscription.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Store) onBeforeEviction(payload any) {
	ev, ok := payload.(eventbus.EvictionEvent)
	if !ok {
		return
	}
	s.CaptureBeforeEviction(context.Background(), ev.WindowID, ev.TabID, ev.URL, ev.Capture)
}

// CaptureBeforeEviction is the direct synchronous entry point spec.md §9
// additionally allows alongside the event subscription; the pool could call
// it directly instead of relying on the bus, though ViewPool here only uses
// the event path. Silent on failure, per spec.md §4.2/§4.3.
func (s *Store) CaptureBeforeEviction(ctx context.Context, windowID types.WindowId, tabID types.TabId, url string, capture func(context.Context) (string, error)) {
	if capture == nil || urlutil.IsAuthenticationURL(url) {
		return
	}
	dataURL, err := capture(ctx)
	if err != nil {
		s.log.Debug("capture-before-eviction failed", zap.String("tabId", string(tabID)), zap.Error(err))
		if s.Metrics != nil {
			s.Metrics.ObserveCaptureFailure()
		}
		return
	}
	s.put(windowID, tabID, Snapshot{URL: url, DataURL: dataURL})
	if s.bus != nil {
		s.bus.Emit(eventbus.TabSnapshotCaptured, eventbus.SnapshotCapturedEvent{
			WindowID: windowID,
			TabID:    tabID,
			Snapshot: dataURL,
		})
	}
}

// CaptureSnapshot captures the active tab of windowID. It returns the
// existing cached snapshot (ok=true) without capturing when the tab has no
// resident renderer or the URL is sensitive; it returns ok=false only when
// there is neither a fresh capture nor anything cached.
func (s *Store) CaptureSnapshot(ctx context.Context, windowID types.WindowId) (Snapshot, bool) {
	win, ok := s.state.GetState(windowID)
	if !ok {
		return Snapshot{}, false
	}
	active := win.ActiveTab()
	if active == nil {
		return Snapshot{}, false
	}

	renderer := s.pool.Get(active.ID)
	if renderer == nil {
		return s.getTabSnapshot(windowID, active.ID)
	}

	url := renderer.CurrentURL()
	if urlutil.IsAuthenticationURL(url) {
		return s.getTabSnapshot(windowID, active.ID)
	}

	dataURL, err := renderer.CapturePage(ctx)
	if err != nil {
		s.log.Debug("capture-snapshot failed", zap.String("windowId", string(windowID)), zap.Error(err))
		if s.Metrics != nil {
			s.Metrics.ObserveCaptureFailure()
		}
		return s.getTabSnapshot(windowID, active.ID)
	}

	snap := Snapshot{URL: url, DataURL: dataURL}
	s.put(windowID, active.ID, snap)
	if s.bus != nil {
		s.bus.Emit(eventbus.TabSnapshotCaptured, eventbus.SnapshotCapturedEvent{
			WindowID: windowID,
			TabID:    active.ID,
			Snapshot: dataURL,
		})
	}
	return snap, true
}

// FreezeWindow captures the active tab and, on success, transitions the
// window to FROZEN with that snapshot's URL.
func (s *Store) FreezeWindow(ctx context.Context, windowID types.WindowId) error {
	snap, ok := s.CaptureSnapshot(ctx, windowID)
	if !ok {
		return fmt.Errorf("freeze window %s: %w", windowID, coreerrors.ErrCaptureFailed)
	}
	return s.state.SetFreezeState(windowID, types.Frozen(snap.DataURL))
}

// UnfreezeWindow transitions windowID back to ACTIVE. The snapshot cache is
// left untouched so it can be reused by a subsequent freeze.
func (s *Store) UnfreezeWindow(windowID types.WindowId) error {
	return s.state.SetFreezeState(windowID, types.Active())
}

// GetSnapshot returns the active tab's cached snapshot for windowID.
func (s *Store) GetSnapshot(windowID types.WindowId) (Snapshot, bool) {
	win, ok := s.state.GetState(windowID)
	if !ok {
		return Snapshot{}, false
	}
	active := win.ActiveTab()
	if active == nil {
		return Snapshot{}, false
	}
	return s.getTabSnapshot(windowID, active.ID)
}

// GetTabSnapshot returns the cached snapshot for a specific tab.
func (s *Store) GetTabSnapshot(windowID types.WindowId, tabID types.TabId) (Snapshot, bool) {
	return s.getTabSnapshot(windowID, tabID)
}

func (s *Store) getTabSnapshot(windowID types.WindowId, tabID types.TabId) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key{windowID: windowID, tabID: tabID}]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot, true
}

// ClearSnapshot clears every tab's cached snapshot for windowID.
func (s *Store) ClearSnapshot(windowID types.WindowId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if k.windowID == windowID {
			s.lru.Remove(e.elem)
			delete(s.entries, k)
		}
	}
}

// ClearAllSnapshots empties the cache.
func (s *Store) ClearAllSnapshots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[key]*cacheEntry)
	s.lru = list.New()
}

// Size returns the number of cached snapshots.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// put inserts or overwrites a cache entry, re-homing it to the MRU end
// (delete-then-reinsert, per spec.md §4.3's LRU policy) and evicting the
// LRU entry on overflow.
func (s *Store) put(windowID types.WindowId, tabID types.TabId, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{windowID: windowID, tabID: tabID}
	if existing, ok := s.entries[k]; ok {
		s.lru.Remove(existing.elem)
		delete(s.entries, k)
	}

	e := &cacheEntry{key: k, snapshot: snap}
	e.elem = s.lru.PushBack(e)
	s.entries[k] = e

	if len(s.entries) > s.cfg.MaxSnapshots {
		front := s.lru.Front()
		if front != nil {
			victim := front.Value.(*cacheEntry)
			s.lru.Remove(front)
			delete(s.entries, victim.key)
		}
	}
}
