package logging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/asheshgoplani/panedeck/internal/clock"
)

type eventKey struct {
	component string
	event     string
}

type eventCount struct {
	n    int64
	last []slog.Attr
}

// Aggregator counts per-frame events (splitter drags, container resizes,
// prefetch failures) and logs one event_summary per event each window.
// Windows are scheduled on a clock.Clock so tests can step them.
type Aggregator struct {
	logger   *slog.Logger
	clock    clock.Clock
	interval time.Duration

	mu          sync.Mutex
	counts      map[eventKey]*eventCount
	order       []eventKey
	windowStart time.Time
	timer       *clock.Timer
	stopped     bool
}

// NewAggregator returns an idle aggregator. A nil logger drops every event;
// a nil clock uses the real one.
func NewAggregator(logger *slog.Logger, c clock.Clock, interval time.Duration) *Aggregator {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Aggregator{
		logger:      logger,
		clock:       c,
		interval:    interval,
		counts:      make(map[eventKey]*eventCount),
		windowStart: c.Now(),
	}
}

// Start arms the first window.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.timer != nil {
		return
	}
	a.windowStart = a.clock.Now()
	a.timer = a.clock.AfterFunc(a.interval, a.tick)
}

func (a *Aggregator) tick() {
	a.Flush()
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.stopped {
		a.timer = a.clock.AfterFunc(a.interval, a.tick)
	}
}

// Stop disarms the window and flushes what was counted so far. Events
// recorded afterwards are dropped.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.timer.Stop()
	a.mu.Unlock()
	a.Flush()
}

// Record counts one occurrence. The attrs of the latest call are attached to
// the summary.
func (a *Aggregator) Record(component, event string, attrs ...slog.Attr) {
	if a.logger == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	key := eventKey{component: component, event: event}
	c, ok := a.counts[key]
	if !ok {
		c = &eventCount{}
		a.counts[key] = c
		a.order = append(a.order, key)
	}
	c.n++
	if len(attrs) > 0 {
		c.last = attrs
	}
}

// Flush logs the current window in first-seen order and opens a new one.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	counts, order := a.counts, a.order
	now := a.clock.Now()
	window := now.Sub(a.windowStart)
	a.counts = make(map[eventKey]*eventCount)
	a.order = nil
	a.windowStart = now
	a.mu.Unlock()

	if a.logger == nil {
		return
	}
	for _, key := range order {
		c := counts[key]
		args := make([]any, 0, 4+len(c.last))
		args = append(args,
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", c.n),
			slog.Int64("window_ms", window.Milliseconds()),
		)
		for _, attr := range c.last {
			args = append(args, attr)
		}
		a.logger.Info("event_summary", args...)
	}
}
