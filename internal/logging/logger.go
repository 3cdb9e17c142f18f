// Package logging wires log/slog to a rotating debug.log and an in-memory
// record ring, and hands out per-component loggers.
package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/ringbuf"
)

// Component names used as the "component" attribute.
const (
	CompLayout    = "layout"
	CompTerminal  = "terminal"
	CompPTY       = "pty"
	CompWorkspace = "workspace"
	CompPrefetch  = "prefetch"
	CompStorage   = "storage"
	CompWeb       = "web"
	CompCLI       = "cli"
)

// Config holds logging configuration.
type Config struct {
	// LogDir receives debug.log. Empty keeps records in the ring only.
	LogDir string

	// Level is a slog level name ("debug", "info", "warn", "error"). Debug
	// overrides it.
	Level string
	Debug bool

	// Format is "json" (default) or "text".
	Format string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// RingBufferSize bounds the crash-dump ring in bytes.
	RingBufferSize int

	AggregateInterval time.Duration

	// Clock schedules aggregate windows. Nil uses the real clock.
	Clock clock.Clock
}

type sink struct {
	logger   *slog.Logger
	ring     *ringbuf.Buffer
	ringSize int
	agg      *Aggregator
	file     *lumberjack.Logger
}

var (
	current atomic.Pointer[sink]
	initMu  sync.Mutex
)

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

// Init replaces the active sink. The previous one is shut down first.
func Init(cfg Config) {
	initMu.Lock()
	defer initMu.Unlock()

	closeSink(current.Swap(nil))
	current.Store(newSink(cfg))
}

func newSink(cfg Config) *sink {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	s := &sink{ringSize: orDefault(cfg.RingBufferSize, 4<<20)}
	s.ring = ringbuf.New(s.ringSize)

	var w io.Writer = s.ring
	if cfg.LogDir != "" {
		s.file = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "debug.log"),
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 10),
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(s.file, s.ring)
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	s.logger = slog.New(h)

	s.agg = NewAggregator(s.logger, cfg.Clock, cfg.AggregateInterval)
	s.agg.Start()
	return s
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Logger returns the active logger. Before Init it discards.
func Logger() *slog.Logger {
	if s := current.Load(); s != nil {
		return s.logger
	}
	return discard
}

// ForComponent returns a logger tagged with component. It resolves the active
// sink per record, so package-level loggers built before Init still reach it.
func ForComponent(name string) *slog.Logger {
	return slog.New(componentHandler{}.with(func(h slog.Handler) slog.Handler {
		return h.WithAttrs([]slog.Attr{slog.String("component", name)})
	}))
}

// componentHandler replays WithAttrs and WithGroup calls onto whichever
// handler is active when a record is logged.
type componentHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h componentHandler) with(op func(slog.Handler) slog.Handler) componentHandler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)
	return componentHandler{ops: append(ops, op)}
}

func (h componentHandler) resolve() slog.Handler {
	out := Logger().Handler()
	for _, op := range h.ops {
		out = op(out)
	}
	return out
}

func (h componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h componentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

// Aggregate counts a per-frame event toward the next event_summary.
func Aggregate(component, event string, attrs ...slog.Attr) {
	if s := current.Load(); s != nil {
		s.agg.Record(component, event, attrs...)
	}
}

// DumpRingBuffer writes the retained records to path. Once the ring has
// wrapped, the clipped leading record is skipped.
func DumpRingBuffer(path string) error {
	s := current.Load()
	if s == nil {
		return nil
	}
	data := s.ring.Bytes()
	if len(data) == s.ringSize {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Shutdown flushes pending summaries and closes debug.log.
func Shutdown() {
	initMu.Lock()
	defer initMu.Unlock()
	closeSink(current.Swap(nil))
}

func closeSink(s *sink) {
	if s == nil {
		return
	}
	s.agg.Stop()
	if s.file != nil {
		_ = s.file.Close()
	}
}
