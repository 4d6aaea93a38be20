// Package config provides hot-reload functionality for the Core's YAML
// configuration file. This package wraps the plain struct with file
// watching, debounce, and change-notification on top, following the
// teacher's fsnotify + yaml.v3 reloader pattern.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the Core's tunable surface: pool/cache capacities, debounce
// timing, the chrome renderer's launch options, and extra URL-classification
// lists (parsed, but not read by urlutil).
type Config struct {
	// ListenAddr is where the transport.Server accepts websocket connections
	// from the host shell.
	ListenAddr string `yaml:"listen_addr"`
	// MetricsAddr is where the Prometheus /metrics endpoint is served.
	MetricsAddr string `yaml:"metrics_addr"`

	MaxPoolSize       int `yaml:"max_pool_size"`
	MaxSnapshots      int `yaml:"max_snapshots"`
	DebounceIntervalMS int `yaml:"debounce_interval_ms"`
	CaptureTimeoutMS  int `yaml:"capture_timeout_ms"`

	ChromeProfileDir string `yaml:"chrome_profile_dir"`
	Headless         bool   `yaml:"headless"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// ExtraTrackingParams and ExtraAuthProviderHosts are parsed from YAML
	// only: ComputeDerived does not process them and urlutil does not read
	// them, so urlutil's built-in lists are the ones in effect.
	ExtraTrackingParams    []string `yaml:"extra_tracking_params"`
	ExtraAuthProviderHosts []string `yaml:"extra_auth_provider_hosts"`

	// DebounceInterval and CaptureTimeout are derived from the *MS fields
	// by ComputeDerived; not read from YAML directly.
	DebounceInterval time.Duration `yaml:"-"`
	CaptureTimeout   time.Duration `yaml:"-"`
}

// ChangeCallback is called when config changes.
type ChangeCallback func(newCfg *Config)

// Reloader watches the config file for changes and reloads it.
type Reloader struct {
	configPath string
	config     *Config
	mu         sync.RWMutex

	watcher   *fsnotify.Watcher
	callbacks []ChangeCallback
	cbMu      sync.RWMutex

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger
}

// Logger is the narrow logging interface Reloader needs.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type defaultLogger struct{}

func (d *defaultLogger) Info(msg string, fields ...interface{})  {}
func (d *defaultLogger) Error(msg string, fields ...interface{}) {}

// NewReloader creates a new config reloader for the file at configPath.
func NewReloader(configPath string) *Reloader {
	return &Reloader{
		configPath:    configPath,
		callbacks:     make([]ChangeCallback, 0),
		debounceDelay: 1 * time.Second,
		logger:        &defaultLogger{},
	}
}

// SetLogger sets a custom logger.
func (r *Reloader) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetDebounceDelay sets the file-watch debounce delay (default: 1 second).
// This is distinct from Config.DebounceInterval, which governs
// StateService's outbound-notification coalescing.
func (r *Reloader) SetDebounceDelay(delay time.Duration) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	r.debounceDelay = delay
}

// OnChange registers a callback invoked whenever the config file reloads.
func (r *Reloader) OnChange(callback ChangeCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// GetConfig returns the current config.
func (r *Reloader) GetConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// SetConfig seeds the reloader with a config built without a successful
// Load (e.g. the config file doesn't exist yet and the caller fell back to
// ApplyDefaults). A later Start still attempts to Load/watch the file
// normally; this only avoids a nil GetConfig in the meantime.
func (r *Reloader) SetConfig(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

// Load loads the config from file (initial load).
func (r *Reloader) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	r.config = cfg
	r.logger.Info("config_loaded", "path", r.configPath)
	return nil
}

// Start starts watching the config file for changes.
func (r *Reloader) Start() error {
	if r.ctx != nil {
		return fmt.Errorf("reloader already started")
	}

	if err := r.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	r.watcher = watcher

	dir := filepath.Dir(r.configPath)

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	if _, err := os.Stat(r.configPath); err == nil {
		if err := watcher.Add(r.configPath); err != nil {
			r.logger.Error("failed_to_watch_file", "path", r.configPath, "error", err)
		}
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.watch()

	r.logger.Info("config_reloader_started", "path", r.configPath)
	return nil
}

// Stop stops watching and cleans up resources.
func (r *Reloader) Stop() error {
	if r.ctx == nil {
		return nil
	}

	r.cancel()

	if r.watcher != nil {
		r.watcher.Close()
	}

	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()

	r.wg.Wait()

	r.logger.Info("config_reloader_stopped")
	return nil
}

func (r *Reloader) watch() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(r.configPath) {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create ||
				event.Op&fsnotify.Rename == fsnotify.Rename {
				r.logger.Info("config_file_changed", "op", event.Op.String())
				r.triggerReload()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("watcher_error", "error", err)
		}
	}
}

func (r *Reloader) triggerReload() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}

	r.debounceTimer = time.AfterFunc(r.debounceDelay, func() {
		r.reload()
	})
}

func (r *Reloader) reload() {
	newCfg, err := r.loadConfig()
	if err != nil {
		r.logger.Error("config_reload_failed", "error", err)
		return
	}

	r.mu.RLock()
	oldCfg := r.config
	r.mu.RUnlock()

	r.mu.Lock()
	r.config = newCfg
	r.mu.Unlock()

	r.logger.Info("config_reloaded",
		"path", r.configPath,
		"max_pool_size", newCfg.MaxPoolSize,
		"max_snapshots", newCfg.MaxSnapshots)

	r.notifyCallbacks(newCfg, oldCfg)
}

func (r *Reloader) loadConfig() (*Config, error) {
	data, err := os.ReadFile(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.ComputeDerived()

	return &cfg, nil
}

func (r *Reloader) notifyCallbacks(newCfg, oldCfg *Config) {
	r.cbMu.RLock()
	callbacks := make([]ChangeCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		go func(callback ChangeCallback) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("callback_panic", "recover", rec)
				}
			}()
			callback(newCfg)
		}(cb)
	}
}

// ApplyDefaults fills in zero-valued fields with the Core's defaults.
// Numeric defaults mirror viewpool.DefaultMaxPoolSize,
// snapshotstore.DefaultMaxSnapshots, and stateservice.DefaultDebounceInterval
// so a reloader-less caller (a test, say) gets the same behavior as the
// packages' own zero-value handling.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8787"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9090"
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 5
	}
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = 10
	}
	if c.DebounceIntervalMS <= 0 {
		c.DebounceIntervalMS = 50
	}
	if c.CaptureTimeoutMS <= 0 {
		c.CaptureTimeoutMS = 5000
	}
	if c.ChromeProfileDir == "" {
		c.ChromeProfileDir = "./chrome-profiles"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.ChromeProfileDir = strings.TrimSuffix(c.ChromeProfileDir, "/")
}

// ComputeDerived computes the time.Duration fields from their millisecond
// YAML counterparts.
func (c *Config) ComputeDerived() {
	c.DebounceInterval = time.Duration(c.DebounceIntervalMS) * time.Millisecond
	c.CaptureTimeout = time.Duration(c.CaptureTimeoutMS) * time.Millisecond
}

// Diff returns the fields that changed between two configs, keyed by YAML
// field name. Only the fields listed below are compared; ChromeProfileDir,
// for instance, is not, and the renderer factory keeps the directory it was
// built with.
func Diff(oldCfg, newCfg *Config) map[string]struct{ Old, New interface{} } {
	diff := make(map[string]struct{ Old, New interface{} })

	if oldCfg == nil || newCfg == nil {
		return diff
	}

	if oldCfg.MaxPoolSize != newCfg.MaxPoolSize {
		diff["max_pool_size"] = struct{ Old, New interface{} }{oldCfg.MaxPoolSize, newCfg.MaxPoolSize}
	}
	if oldCfg.MaxSnapshots != newCfg.MaxSnapshots {
		diff["max_snapshots"] = struct{ Old, New interface{} }{oldCfg.MaxSnapshots, newCfg.MaxSnapshots}
	}
	if oldCfg.DebounceIntervalMS != newCfg.DebounceIntervalMS {
		diff["debounce_interval_ms"] = struct{ Old, New interface{} }{oldCfg.DebounceIntervalMS, newCfg.DebounceIntervalMS}
	}
	if oldCfg.CaptureTimeoutMS != newCfg.CaptureTimeoutMS {
		diff["capture_timeout_ms"] = struct{ Old, New interface{} }{oldCfg.CaptureTimeoutMS, newCfg.CaptureTimeoutMS}
	}
	if oldCfg.LogLevel != newCfg.LogLevel {
		diff["log_level"] = struct{ Old, New interface{} }{oldCfg.LogLevel, newCfg.LogLevel}
	}

	return diff
}
