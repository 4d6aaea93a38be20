// Package logger builds the *zap.Logger every component constructor in this
// module takes, from a YAML/flag-driven Config: JSON or console encoding,
// optional lumberjack file rotation, and an optional async core for
// high-frequency CDP event logging. Grounded on the teacher's pkg/logger
// (the same rotation/async-core construction), but returns a plain
// *zap.Logger rather than a bespoke wrapper type — nowhere in this module do
// callers reach for a Sugar/printf-style API or context-propagated fields,
// they pass *zap.Logger around and call it with structured zap.Field values,
// so the wrapper type the teacher built around that API has no call site
// here and was cut rather than carried along unused.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error, fatal.
	Level string `json:"level" yaml:"level"`
	// Format is the output format: json or console.
	Format string `json:"format" yaml:"format"`
	// Output is the log file path. Use "stdout" or "stderr" for console output.
	Output string `json:"output" yaml:"output"`
	// MaxSize is the maximum size in megabytes before log rotation.
	MaxSize int `json:"max_size" yaml:"max_size"`
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"max_backups" yaml:"max_backups"`
	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"max_age" yaml:"max_age"`
	// Compress determines if rotated logs should be gzipped.
	Compress bool `json:"compress" yaml:"compress"`
	// Async enables async logging, for components that log once per CDP
	// frame/navigation event and shouldn't block on a slow write syncer.
	Async bool `json:"async" yaml:"async"`
	// AsyncBufferSize is the size of the async log buffer.
	AsyncBufferSize int `json:"async_buffer_size" yaml:"async_buffer_size"`
	// Development mode enables stack traces and colorized console output.
	Development bool `json:"development" yaml:"development"`
}

// DefaultConfig returns this process's default configuration: JSON to
// stdout, since the standalone binary has no terminal to colorize output
// for in its usual deployment (a child process of the host shell).
func DefaultConfig() Config {
	return Config{
		Level:           "info",
		Format:          "json",
		Output:          "stdout",
		MaxSize:         100,
		MaxBackups:      5,
		MaxAge:          30,
		Compress:        true,
		Async:           false,
		AsyncBufferSize: 1000,
		Development:     false,
	}
}

// New builds a *zap.Logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeCaller = zapcore.FullCallerEncoder
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(ec)
	case "console":
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, fmt.Errorf("invalid format: %s (must be 'json' or 'console')", cfg.Format)
	}

	ws, cleanup, err := newWriteSyncer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create write syncer: %w", err)
	}

	core := zapcore.NewCore(encoder, ws, level)
	if cfg.Async {
		core = &asyncCore{Core: core, bufferSize: cfg.AsyncBufferSize, stopCh: make(chan struct{})}
	}

	zapOpts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if cfg.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	if cleanup != nil {
		zapOpts = append(zapOpts, zap.Hooks(cleanup))
	}

	return zap.New(core, zapOpts...), nil
}

// WithWindow scopes log returns a child logger tagged with windowID, for the
// facade and its collaborators to attach to every log line emitted while
// handling a call for that window.
func WithWindow(log *zap.Logger, windowID string) *zap.Logger {
	return log.With(zap.String("windowId", windowID))
}

// WithTab scopes log to a single tab within a window.
func WithTab(log *zap.Logger, windowID, tabID string) *zap.Logger {
	return log.With(zap.String("windowId", windowID), zap.String("tabId", tabID))
}

// parseLevel parses a log level string.
func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown level: %s", level)
	}
}

// newWriteSyncer builds a write syncer for cfg.Output. A file path rotates
// through lumberjack; "stdout"/"stderr" write directly to the console.
func newWriteSyncer(cfg Config) (zapcore.WriteSyncer, func(zapcore.Entry) error, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil, nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil, nil
	default:
		dir := filepath.Dir(cfg.Output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		cleanup := func(zapcore.Entry) error { return lj.Close() }
		return zapcore.AddSync(lj), cleanup, nil
	}
}

// asyncCore wraps a zapcore.Core so that a write never blocks the calling
// goroutine on a slow sink (the standalone process's log file, under a
// burst of CDP navigation events) — it hands writes to a background
// goroutine and falls back to a synchronous write only if that goroutine's
// buffer is full.
type asyncCore struct {
	zapcore.Core
	bufferSize int
	entries    chan zapcore.Entry
	fields     chan []zapcore.Field
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	initOnce   sync.Once
}

func (c *asyncCore) init() {
	c.initOnce.Do(func() {
		c.entries = make(chan zapcore.Entry, c.bufferSize)
		c.fields = make(chan []zapcore.Field, c.bufferSize)
		c.wg.Add(1)
		go c.process()
	})
}

func (c *asyncCore) process() {
	defer c.wg.Done()
	for {
		select {
		case entry := <-c.entries:
			fields := <-c.fields
			if ce := c.Core.Check(entry, nil); ce != nil {
				ce.Write(fields...)
			}
		case <-c.stopCh:
			for {
				select {
				case entry := <-c.entries:
					fields := <-c.fields
					if ce := c.Core.Check(entry, nil); ce != nil {
						ce.Write(fields...)
					}
				default:
					return
				}
			}
		}
	}
}

func (c *asyncCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	c.init()
	select {
	case c.entries <- entry:
		c.fields <- fields
		return nil
	default:
		// Buffer full, fall back to sync write.
		return c.Core.Write(entry, fields)
	}
}

// Sync drains any buffered entries, stops the background goroutine (once),
// and syncs the underlying core.
func (c *asyncCore) Sync() error {
	c.stopOnce.Do(func() {
		if c.entries != nil {
			close(c.stopCh)
			c.wg.Wait()
		}
	})
	return c.Core.Sync()
}
