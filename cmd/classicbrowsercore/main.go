// Command classicbrowsercore runs the Classic Browser Core as a standalone
// process: it wires ViewPool, SnapshotStore, StateService, NavigationService
// and ViewManager into the facade, serves the websocket transport the host
// shell connects to, and exposes Prometheus metrics.
package main

import (
	cryptorand "crypto/rand"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/eventbus"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/facade"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/navigationservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/snapshotstore"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/stateservice"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewmanager"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
	"github.com/jeffers-sub/classicbrowsercore/internal/transport"
	"github.com/jeffers-sub/classicbrowsercore/pkg/config"
	"github.com/jeffers-sub/classicbrowsercore/pkg/logger"
	"github.com/jeffers-sub/classicbrowsercore/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "classicbrowsercore.yaml", "path to the config file")
	standalone := flag.Bool("standalone", false, "run without a websocket-connected host shell (logging-only scene)")
	flag.Parse()

	bootstrapLog := zap.Must(zap.NewProduction())

	reloader := config.NewReloader(*configPath)
	if err := reloader.Load(); err != nil {
		bootstrapLog.Warn("config load failed, continuing with defaults", zap.Error(err))
		defaults := &config.Config{}
		defaults.ApplyDefaults()
		defaults.ComputeDerived()
		reloader.SetConfig(defaults)
	}
	cfg := reloader.GetConfig()

	logOutput := cfg.LogFile
	if logOutput == "" {
		logOutput = "stdout"
	}
	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     "json",
		Output:     logOutput,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
	if err != nil {
		bootstrapLog.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer log.Sync()

	bus := eventbus.New(log)
	collector := metrics.NewCollector(bus)
	defer collector.Close()

	hub := transport.NewHub(log)

	pool := viewpool.New(
		viewpool.Config{MaxPoolSize: cfg.MaxPoolSize},
		viewpool.NewChromiumFactory(bus, log, cfg.ChromeProfileDir, cfg.Headless),
		bus,
		log,
	)

	outbound := func(update types.OutboundUpdate) {
		hub.BroadcastOutboundUpdate(update)
	}
	state := stateservice.New(bus, outbound, cfg.DebounceInterval, collector, log)

	snapshots := snapshotstore.New(snapshotstore.Config{MaxSnapshots: cfg.MaxSnapshots}, bus, pool, state, log)
	snapshots.Metrics = collector

	nav := navigationservice.New(pool, state, log)

	var scene viewmanager.Scene
	if *standalone {
		scene = loggingScene{log: log}
	} else {
		scene = transport.NewHubScene(hub, log)
	}
	views := viewmanager.New(scene, pool, nav, log)

	svc := facade.New(bus, pool, snapshots, state, nav, views, generateTabID, log)

	transportServer := transport.NewServer(cfg.ListenAddr, hub, svc, log)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", collector.MetricsHandler())
	metricsMux.HandleFunc("/debug/snapshot", collector.JSONHandler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	reloader.OnChange(func(newCfg *config.Config) {
		diff := config.Diff(cfg, newCfg)
		if len(diff) == 0 {
			return
		}
		log.Info("config changed", zap.Any("diff", diff))
		cfg = newCfg
	})
	if err := reloader.Start(); err != nil {
		log.Warn("config hot-reload disabled", zap.Error(err))
	}

	go pollSizes(pool, snapshots, hub, collector)

	go func() {
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	go func() {
		log.Info("transport listening", zap.String("addr", cfg.ListenAddr))
		if err := transportServer.ListenAndServe(); err != nil {
			log.Error("transport server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transportServer.Shutdown(ctx); err != nil {
		log.Error("transport shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Error("metrics shutdown error", zap.Error(err))
	}
	if err := reloader.Stop(); err != nil {
		log.Error("config reloader stop error", zap.Error(err))
	}
	svc.Close()
	if err := pool.Cleanup(); err != nil {
		log.Error("pool cleanup errors", zap.Error(err))
	}
}

// generateTabID mints a fresh TabId, grounded on the teacher's
// crypto/rand-backed session ID generator.
func generateTabID() types.TabId {
	b := make([]byte, 16)
	_, _ = cryptorand.Read(b)
	return types.TabId(fmt.Sprintf("%x", b))
}

// pollSizes periodically reports ViewPool, SnapshotStore, and transport
// connection counts to the metrics collector; all three are plain in-memory
// structures with no natural change-notification hook for aggregate size.
func pollSizes(pool *viewpool.Pool, snapshots *snapshotstore.Store, hub *transport.Hub, collector *metrics.Collector) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		collector.SetViewPoolResidentCount(pool.Size())
		collector.SetSnapshotStoreSize(snapshots.Size())
		collector.SetConnectedClients(hub.ConnectionCount())
	}
}

// loggingScene is the standalone-mode Scene: it logs every primitive rather
// than compositing anything, for running the Core without a connected host
// shell (development, or a headless integration test harness).
type loggingScene struct {
	log *zap.Logger
}

func (s loggingScene) Attach(windowID types.WindowId, renderer viewpool.Renderer, bounds types.Bounds) {
	s.log.Debug("scene attach", zap.String("windowId", string(windowID)), zap.String("tabId", string(renderer.TabID())))
}

func (s loggingScene) Detach(windowID types.WindowId, renderer viewpool.Renderer) {
	s.log.Debug("scene detach", zap.String("windowId", string(windowID)), zap.String("tabId", string(renderer.TabID())))
}

func (s loggingScene) SetVisible(windowID types.WindowId, renderer viewpool.Renderer, visible bool) {
	s.log.Debug("scene set-visible", zap.String("windowId", string(windowID)), zap.Bool("visible", visible))
}

func (s loggingScene) BringToTop(windowID types.WindowId, renderer viewpool.Renderer) {
	s.log.Debug("scene bring-to-top", zap.String("windowId", string(windowID)))
}
