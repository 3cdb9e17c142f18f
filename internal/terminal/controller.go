// Package terminal gives a terminal panel a continuously available session:
// the PTY outlives the surface rendering it, and a remounted surface replays
// the captured buffer before live output resumes.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/debounce"
	"github.com/asheshgoplani/panedeck/internal/events"
	"github.com/asheshgoplani/panedeck/internal/logging"
)

// RestoreMarker is written after a replayed snapshot when the shell behind
// it is gone and a new one is being started.
const RestoreMarker = "\r\n\x1b[2m[session restored]\x1b[0m\r\n"

const disconnectedNotice = "\r\n\x1b[31m[terminal disconnected: reopen the panel to retry]\x1b[0m\r\n"

// PTY is the host that owns shell processes.
type PTY interface {
	Create(ctx context.Context, terminalID, cwd string) bool
	Write(terminalID string, data []byte) error
	Resize(terminalID string, cols, rows int) error
	// Exists must reflect the host process, not anything the caller remembers.
	Exists(terminalID string) bool
	// Reconnect returns output buffered since the last subscriber left.
	Reconnect(terminalID string) (string, bool)
	Kill(terminalID string) error
	Subscribe(terminalID string, fn func([]byte)) (dispose func(), err error)
}

// BufferStore keeps the last serialized screen of each terminal. Saving an
// empty string removes the snapshot.
type BufferStore interface {
	SaveBuffer(ctx context.Context, terminalID, content string) error
	LoadBuffer(ctx context.Context, terminalID string) (content string, ok bool, err error)
}

// FileSystem backs link activation.
type FileSystem interface {
	Exists(ctx context.Context, path string) bool
	ImageLookup(ctx context.Context, n int) (string, bool)
}

// State of a terminal surface.
type State int

const (
	Unmounted State = iota
	Reconnecting
	Attached
	// Disconnected means the PTY could not be started; the surface stays visible.
	Disconnected
	Killed
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case Reconnecting:
		return "reconnecting"
	case Attached:
		return "attached"
	case Disconnected:
		return "disconnected"
	case Killed:
		return "killed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configure a Controller.
type Options struct {
	TerminalID  string
	ProjectID   string
	ProjectPath string
	PTY         PTY
	Buffers     BufferStore
	Files       FileSystem
	Bus         *events.Bus
	Clock       clock.Clock
	Settings    config.TerminalOptions
}

// Controller drives one terminal surface through mount, attach, unmount and
// kill.
type Controller struct {
	id        string
	projectID string
	cwd       string
	pty       PTY
	buffers   BufferStore
	files     FileSystem
	bus       *events.Bus
	settings  config.TerminalOptions
	log       *slog.Logger

	resizer   *debounce.Debouncer
	activator *debounce.Debouncer

	mu          sync.Mutex
	state       State
	surface     Surface
	gen         uint64
	attaching   bool
	queued      [][]byte
	unsubscribe func()
	cols, rows  int
	fitCols     int
	fitRows     int
}

// NewController returns an unmounted controller.
func NewController(opts Options) *Controller {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	settings := opts.Settings
	if settings.MinCols == 0 {
		settings = config.TerminalSettings{}.Resolve()
	}
	ctrl := &Controller{
		id:        opts.TerminalID,
		projectID: opts.ProjectID,
		cwd:       opts.ProjectPath,
		pty:       opts.PTY,
		buffers:   opts.Buffers,
		files:     opts.Files,
		bus:       opts.Bus,
		settings:  settings,
		log:       logging.ForComponent(logging.CompTerminal).With(slog.String("terminal", opts.TerminalID)),
	}
	ctrl.resizer = debounce.New(c, ctrl.applyResize)
	ctrl.activator = debounce.New(c, ctrl.applyActivation)
	return ctrl
}

// ID returns the terminal id.
func (c *Controller) ID() string { return c.id }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mount attaches surface. The stored snapshot is written first; then either
// the live PTY's buffered output is replayed, or the restore marker is
// written and a new PTY is started.
func (c *Controller) Mount(ctx context.Context, surface Surface) {
	if surface == nil {
		return
	}
	c.mu.Lock()
	switch c.state {
	case Killed:
		c.mu.Unlock()
		c.log.Warn("terminal_mount_after_kill")
		return
	case Reconnecting, Attached, Disconnected:
		c.mu.Unlock()
		c.Unmount(ctx)
		c.mu.Lock()
	}
	c.gen++
	gen := c.gen
	c.surface = surface
	c.state = Reconnecting
	c.attaching = true
	c.queued = nil
	c.mu.Unlock()

	snapshot, hasSnapshot := c.loadSnapshot(ctx)
	alive := c.pty.Exists(c.id)

	if !c.withCurrent(gen, func() {
		if hasSnapshot {
			c.surface.Write([]byte(snapshot))
		}
	}) {
		return
	}

	if alive {
		if c.reconnect(gen) {
			c.log.Debug("terminal_reconnected", slog.Bool("snapshot", hasSnapshot))
			return
		}
		// The process exited between Exists and Reconnect: start a new one.
	}

	if !c.withCurrent(gen, func() {
		if hasSnapshot {
			c.surface.Write([]byte(RestoreMarker))
		}
	}) {
		return
	}

	if !c.pty.Create(ctx, c.id, c.cwd) {
		c.withCurrent(gen, func() {
			c.state = Disconnected
			c.attaching = false
			c.queued = nil
			c.surface.Write([]byte(disconnectedNotice))
		})
		c.log.Warn("terminal_create_failed", slog.String("cwd", c.cwd))
		return
	}
	if !c.reconnect(gen) {
		c.withCurrent(gen, func() {
			c.state = Disconnected
			c.attaching = false
		})
		c.log.Warn("terminal_exited_on_start")
		return
	}
	c.log.Info("terminal_created", slog.Bool("restored", hasSnapshot))
}

// reconnect subscribes with a queueing handler, replays buffered output and
// then flushes whatever arrived live in between.
func (c *Controller) reconnect(gen uint64) bool {
	dispose, err := c.pty.Subscribe(c.id, c.output(gen))
	if err != nil {
		return false
	}
	replay, ok := c.pty.Reconnect(c.id)
	if !ok {
		dispose()
		return false
	}

	attached := c.withCurrent(gen, func() {
		if replay != "" {
			c.surface.Write([]byte(replay))
		}
		for _, data := range c.queued {
			c.surface.Write(data)
		}
		c.queued = nil
		c.attaching = false
		c.state = Attached
		c.unsubscribe = dispose
		if c.cols > 0 {
			c.resizer.Trigger(c.settings.ResizeDebounce)
		}
	})
	if !attached {
		dispose()
	}
	return true
}

func (c *Controller) output(gen uint64) func([]byte) {
	return func(data []byte) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.surface == nil {
			return
		}
		if c.attaching {
			c.queued = append(c.queued, data)
			return
		}
		c.surface.Write(data)
	}
}

// withCurrent runs fn under the lock if gen is still the live mount.
func (c *Controller) withCurrent(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.surface == nil {
		return false
	}
	fn()
	return true
}

func (c *Controller) loadSnapshot(ctx context.Context) (string, bool) {
	if c.buffers == nil {
		return "", false
	}
	content, ok, err := c.buffers.LoadBuffer(ctx, c.id)
	if err != nil {
		c.log.Warn("terminal_buffer_load_failed", slog.String("error", err.Error()))
		return "", false
	}
	if !ok || content == "" {
		return "", false
	}
	return content, true
}

// detach captures the surface and drops it. Caller holds the lock.
func (c *Controller) detach() (snapshot string, captured bool) {
	if c.surface != nil {
		s, err := c.surface.Serialize()
		if err != nil {
			c.log.Debug("terminal_serialize_failed", slog.String("error", err.Error()))
		} else {
			snapshot, captured = s, true
		}
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.gen++
	c.surface = nil
	c.attaching = false
	c.queued = nil
	c.fitCols, c.fitRows = 0, 0
	return snapshot, captured
}

// Unmount captures the screen for the next mount and releases the surface.
// The PTY keeps running.
func (c *Controller) Unmount(ctx context.Context) {
	c.mu.Lock()
	if c.state == Unmounted || c.state == Killed {
		c.mu.Unlock()
		return
	}
	snapshot, captured := c.detach()
	c.state = Unmounted
	c.mu.Unlock()

	c.resizer.Cancel()
	c.activator.Cancel()

	if captured && c.buffers != nil {
		if err := c.buffers.SaveBuffer(ctx, c.id, snapshot); err != nil {
			c.log.Warn("terminal_buffer_save_failed", slog.String("error", err.Error()))
		}
	}
}

// CloseTab ends the session for good: the PTY is killed and the stored
// snapshot removed.
func (c *Controller) CloseTab(ctx context.Context) {
	c.mu.Lock()
	if c.state == Killed {
		c.mu.Unlock()
		return
	}
	c.detach()
	c.state = Killed
	c.mu.Unlock()

	c.resizer.Cancel()
	c.activator.Cancel()

	if err := c.pty.Kill(c.id); err != nil {
		c.log.Warn("terminal_kill_failed", slog.String("error", err.Error()))
	}
	if c.buffers != nil {
		if err := c.buffers.SaveBuffer(ctx, c.id, ""); err != nil {
			c.log.Warn("terminal_buffer_clear_failed", slog.String("error", err.Error()))
		}
	}
	c.log.Info("terminal_closed")
}

// Input relays keystrokes or pasted text to the PTY.
func (c *Controller) Input(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	c.mu.Lock()
	attached := c.state == Attached
	c.mu.Unlock()
	if !attached {
		return false
	}
	if err := c.pty.Write(c.id, data); err != nil {
		c.log.Debug("terminal_write_failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// ContainerResized records a new container size. The fit and the PTY resize
// run once a burst of resizes settles. Sizes below the usable minimum are
// ignored.
func (c *Controller) ContainerResized(cols, rows int) {
	if !c.usable(cols, rows) {
		return
	}
	c.mu.Lock()
	c.cols, c.rows = cols, rows
	mounted := c.surface != nil
	c.mu.Unlock()
	if mounted {
		logging.Aggregate(logging.CompTerminal, "container_resized", slog.String("terminal", c.id))
		c.resizer.Trigger(c.settings.ResizeDebounce)
	}
}

func (c *Controller) usable(cols, rows int) bool {
	return cols >= c.settings.MinCols && rows >= c.settings.MinRows
}

func (c *Controller) applyResize() {
	c.mu.Lock()
	ok := c.fitLocked()
	cols, rows := c.cols, c.rows
	attached := c.state == Attached
	c.mu.Unlock()

	if ok && attached {
		if err := c.pty.Resize(c.id, cols, rows); err != nil {
			c.log.Debug("terminal_resize_failed", slog.String("error", err.Error()))
		}
	}
}

// fitLocked fits the surface to the last container size. It reports whether
// the size changed.
func (c *Controller) fitLocked() bool {
	if c.surface == nil || !c.usable(c.cols, c.rows) {
		return false
	}
	if c.cols == c.fitCols && c.rows == c.fitRows {
		return false
	}
	if err := c.surface.Fit(c.cols, c.rows); err != nil {
		c.log.Debug("terminal_fit_failed", slog.String("error", err.Error()))
		return false
	}
	c.fitCols, c.fitRows = c.cols, c.rows
	return true
}

// Activate refits, scrolls to the bottom and focuses the surface one frame
// later, once the container has its final size.
func (c *Controller) Activate() {
	c.activator.Trigger(c.settings.FrameDelay)
}

func (c *Controller) applyActivation() {
	c.mu.Lock()
	if c.surface == nil {
		c.mu.Unlock()
		return
	}
	resized := c.fitLocked()
	cols, rows := c.cols, c.rows
	attached := c.state == Attached
	c.surface.ScrollToBottom()
	c.surface.Focus()
	c.mu.Unlock()

	if resized && attached {
		if err := c.pty.Resize(c.id, cols, rows); err != nil {
			c.log.Debug("terminal_resize_failed", slog.String("error", err.Error()))
		}
	}
}

// Links scans one rendered line for link affordances.
func (c *Controller) Links(line string) []Link {
	return ScanLinks(line)
}

// ActivateLink opens a path or image link in the editor through the
// open-file event. It reports whether an event was published.
func (c *Controller) ActivateLink(ctx context.Context, link Link) bool {
	if c.files == nil || c.bus == nil {
		return false
	}
	switch link.Kind {
	case LinkPath:
		if !c.files.Exists(ctx, link.Path) {
			c.log.Debug("terminal_link_missing", slog.String("path", link.Path))
			return false
		}
		events.Publish(c.bus, events.OpenFile, events.OpenFileEvent{
			ProjectID: c.projectID,
			Path:      link.Path,
			Line:      link.Line,
		})
		return true
	case LinkImage:
		path, ok := c.files.ImageLookup(ctx, link.Image)
		if !ok {
			c.log.Debug("terminal_image_missing", slog.Int("image", link.Image))
			return false
		}
		events.Publish(c.bus, events.OpenFile, events.OpenFileEvent{
			ProjectID: c.projectID,
			Path:      path,
		})
		return true
	}
	return false
}

// Drop injects a dropped file path or task as input. Focus is not required.
func (c *Controller) Drop(payload DropPayload) bool {
	text := payload.Text()
	if text == "" {
		return false
	}
	return c.Input([]byte(text))
}
