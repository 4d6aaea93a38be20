// Package metrics provides Prometheus-compatible metrics collection for the
// Core's four stateful components: ViewPool, SnapshotStore, StateService,
// and the transport Hub.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// Collector holds every Prometheus metric the Core exposes, plus the
// internal counters GetSnapshot/JSONHandler report for a non-Prometheus
// consumer (the host shell's own debug panel, say).
type Collector struct {
	ViewPoolResidentCount             prometheus.Gauge
	ViewPoolEvictionsTotal            prometheus.Counter
	SnapshotStoreSize                 prometheus.Gauge
	SnapshotStoreCaptureFailuresTotal prometheus.Counter
	StateServiceOutboundTotal         prometheus.Counter
	StateServiceDebounceCoalescedTotal prometheus.Counter
	OutboundRate                      prometheus.Gauge
	TransportConnectedClients         prometheus.Gauge

	outboundPerMin *RateCalculator

	mu                sync.RWMutex
	startTime         time.Time
	evictions         int64
	captureFailures   int64
	outboundTotal     int64
	debounceCoalesced int64

	unsubscribe func()
}

// RateCalculator calculates events-per-minute using a sliding window.
// Grounded on the teacher's hits-per-minute calculator; generalized here to
// StateService's outbound-notification rate rather than scraper hit rate.
type RateCalculator struct {
	mu     sync.Mutex
	hits   []time.Time
	window time.Duration
	stopCh chan struct{}
}

// NewRateCalculator creates a rate calculator over the given sliding window.
func NewRateCalculator(window time.Duration) *RateCalculator {
	rc := &RateCalculator{
		hits:   make([]time.Time, 0, 256),
		window: window,
		stopCh: make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

// Record records one event.
func (rc *RateCalculator) Record() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.hits = append(rc.hits, time.Now())
}

// GetRate returns the current events-per-minute rate.
func (rc *RateCalculator) GetRate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanup(time.Now())
	return float64(len(rc.hits)) * (60.0 / rc.window.Seconds())
}

func (rc *RateCalculator) cleanup(now time.Time) {
	cutoff := now.Add(-rc.window)
	idx := len(rc.hits)
	for i, t := range rc.hits {
		if t.After(cutoff) {
			idx = i
			break
		}
	}
	rc.hits = rc.hits[idx:]
}

func (rc *RateCalculator) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.mu.Lock()
			rc.cleanup(time.Now())
			rc.mu.Unlock()
		case <-rc.stopCh:
			return
		}
	}
}

// Stop stops the rate calculator's cleanup loop.
func (rc *RateCalculator) Stop() {
	close(rc.stopCh)
}

const namespace = "classicbrowsercore"

// NewCollector builds a Collector and registers every metric with the
// default Prometheus registry. If bus is non-nil, the collector subscribes
// itself to tab:before-eviction to count evictions without ViewPool needing
// a direct metrics dependency.
func NewCollector(bus *eventbus.Bus) *Collector {
	c := &Collector{
		startTime:      time.Now(),
		outboundPerMin: NewRateCalculator(time.Minute),
	}

	c.ViewPoolResidentCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "viewpool_resident_count",
		Help:      "Number of renderers currently resident in the pool.",
	})
	c.ViewPoolEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "viewpool_evictions_total",
		Help:      "Total number of renderers evicted from the pool.",
	})
	c.SnapshotStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshotstore_size",
		Help:      "Number of snapshots currently cached.",
	})
	c.SnapshotStoreCaptureFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshotstore_capture_failures_total",
		Help:      "Total number of failed snapshot capture attempts.",
	})
	// Not labeled by windowId: WindowId cardinality is unbounded over a long
	// session, which would make a CounterVec an unbounded-series leak.
	c.StateServiceOutboundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stateservice_outbound_notifications_total",
		Help:      "Total number of debounced outbound notifications fired.",
	})
	c.StateServiceDebounceCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stateservice_debounce_coalesced_total",
		Help:      "Total number of outbound notifications coalesced by the debounce timer.",
	})
	c.OutboundRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stateservice_outbound_rate_per_minute",
		Help:      "Current outbound notification rate, per minute.",
	})
	c.TransportConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transport_connected_clients",
		Help:      "Number of websocket clients currently connected.",
	})

	c.register()
	go c.updateLoop()

	if bus != nil {
		c.unsubscribe = bus.Subscribe(eventbus.TabBeforeEviction, func(any) { c.observeEviction() })
	}

	return c
}

func (c *Collector) register() {
	prometheus.MustRegister(
		c.ViewPoolResidentCount,
		c.ViewPoolEvictionsTotal,
		c.SnapshotStoreSize,
		c.SnapshotStoreCaptureFailuresTotal,
		c.StateServiceOutboundTotal,
		c.StateServiceDebounceCoalescedTotal,
		c.OutboundRate,
		c.TransportConnectedClients,
	)
}

func (c *Collector) updateLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		c.OutboundRate.Set(c.outboundPerMin.GetRate())
	}
}

func (c *Collector) observeEviction() {
	c.ViewPoolEvictionsTotal.Inc()
	c.mu.Lock()
	c.evictions++
	c.mu.Unlock()
}

// ObserveCaptureFailure satisfies snapshotstore.CaptureMetrics.
func (c *Collector) ObserveCaptureFailure() {
	c.SnapshotStoreCaptureFailuresTotal.Inc()
	c.mu.Lock()
	c.captureFailures++
	c.mu.Unlock()
}

// ObserveOutboundNotification satisfies stateservice.Metrics. windowID is
// unused beyond the call signature spec.md's StateService requires; see the
// cardinality note on StateServiceOutboundTotal.
func (c *Collector) ObserveOutboundNotification(_ types.WindowId) {
	c.StateServiceOutboundTotal.Inc()
	c.outboundPerMin.Record()
	c.mu.Lock()
	c.outboundTotal++
	c.mu.Unlock()
}

// ObserveDebounceCoalesced satisfies stateservice.Metrics.
func (c *Collector) ObserveDebounceCoalesced(_ types.WindowId) {
	c.StateServiceDebounceCoalescedTotal.Inc()
	c.mu.Lock()
	c.debounceCoalesced++
	c.mu.Unlock()
}

// SetViewPoolResidentCount reports ViewPool's current residency.
func (c *Collector) SetViewPoolResidentCount(n int) {
	c.ViewPoolResidentCount.Set(float64(n))
}

// SetSnapshotStoreSize reports SnapshotStore's current cache size.
func (c *Collector) SetSnapshotStoreSize(n int) {
	c.SnapshotStoreSize.Set(float64(n))
}

// SetConnectedClients reports the transport Hub's connection count.
func (c *Collector) SetConnectedClients(n int) {
	c.TransportConnectedClients.Set(float64(n))
}

// Snapshot is a point-in-time, non-Prometheus view of the same counters.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	Evictions         int64     `json:"evictions"`
	CaptureFailures   int64     `json:"capture_failures"`
	OutboundTotal     int64     `json:"outbound_total"`
	DebounceCoalesced int64     `json:"debounce_coalesced"`
	OutboundRatePerMin float64  `json:"outbound_rate_per_min"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
}

// GetSnapshot returns the current metrics snapshot.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Timestamp:          time.Now(),
		Evictions:          c.evictions,
		CaptureFailures:    c.captureFailures,
		OutboundTotal:      c.outboundTotal,
		DebounceCoalesced:  c.debounceCoalesced,
		OutboundRatePerMin: c.outboundPerMin.GetRate(),
		UptimeSeconds:      time.Since(c.startTime).Seconds(),
	}
}

// MetricsHandler returns the Prometheus scrape handler.
func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// JSONHandler returns the snapshot in JSON, for a lighter-weight consumer
// than a full Prometheus scrape.
func (c *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.GetSnapshot())
	}
}

// Close detaches the collector's eventbus subscription and stops its rate
// calculator.
func (c *Collector) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.outboundPerMin.Stop()
}
