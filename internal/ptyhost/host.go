// Package ptyhost runs shell processes on pseudo-terminals keyed by a stable
// terminal id. Sessions outlive the clients rendering them: output produced
// while nobody is subscribed is kept in a bounded buffer until the next
// Reconnect.
package ptyhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/ringbuf"
)

// ErrNotFound is returned for operations on a terminal id with no live process.
var ErrNotFound = errors.New("ptyhost: session not found")

// Options configure a Host.
type Options struct {
	Shell string
	// DetachedBufferBytes bounds output kept while no subscriber is attached.
	DetachedBufferBytes int
	Cols, Rows          int
}

// Info describes a live session.
type Info struct {
	ID        string    `json:"id"`
	Cwd       string    `json:"cwd"`
	Pid       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Buffered  int       `json:"buffered"`
}

// Host owns every PTY process.
type Host struct {
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*session
	onDetached func(terminalID string)
}

type session struct {
	id        string
	cwd       string
	cmd       *exec.Cmd
	ptmx      *os.File
	startedAt time.Time
	done      chan struct{}

	mu      sync.Mutex
	subs    map[int]func([]byte)
	nextSub int
	pending *ringbuf.Buffer
	exited  bool
	// watched is set by the first subscriber. Output before it is buffered
	// without raising the detached hook.
	watched bool
}

// New returns an empty host.
func New(opts Options) *Host {
	if opts.Shell == "" {
		opts.Shell = os.Getenv("SHELL")
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.DetachedBufferBytes <= 0 {
		opts.DetachedBufferBytes = 1024 * 1024
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	return &Host{
		opts:     opts,
		log:      logging.ForComponent(logging.CompPTY),
		sessions: make(map[string]*session),
	}
}

// OnDetachedOutput registers fn to run when a session that has had a
// subscriber, but has none now, starts buffering output. It fires once per
// detached stretch.
func (h *Host) OnDetachedOutput(fn func(terminalID string)) {
	h.mu.Lock()
	h.onDetached = fn
	h.mu.Unlock()
}

func (h *Host) get(terminalID string) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[terminalID]
	if !ok || s.isExited() {
		return nil, false
	}
	return s, true
}

func (s *session) isExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// Create starts a shell for terminalID in cwd. A live session is kept as is.
// It reports whether a live session exists afterwards.
func (h *Host) Create(ctx context.Context, terminalID, cwd string) bool {
	if err := ctx.Err(); err != nil {
		return false
	}
	if _, ok := h.get(terminalID); ok {
		return true
	}

	if cwd == "" {
		cwd, _ = os.UserHomeDir()
	}
	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		h.log.Warn("pty_cwd_missing", slog.String("terminal", terminalID), slog.String("cwd", cwd))
		cwd = os.TempDir()
	}

	// Not CommandContext: the shell must outlive the request that created it.
	cmd := exec.Command(h.opts.Shell)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "PANEDECK_TERMINAL_ID="+terminalID)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(h.opts.Rows),
		Cols: uint16(h.opts.Cols),
	})
	if err != nil {
		h.log.Error("pty_start_failed",
			slog.String("terminal", terminalID),
			slog.String("shell", h.opts.Shell),
			slog.String("error", err.Error()))
		return false
	}

	s := &session{
		id:        terminalID,
		cwd:       cwd,
		cmd:       cmd,
		ptmx:      ptmx,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		subs:      make(map[int]func([]byte)),
		pending:   ringbuf.New(h.opts.DetachedBufferBytes),
	}

	h.mu.Lock()
	if existing, ok := h.sessions[terminalID]; ok && !existing.isExited() {
		// Lost a race with a concurrent Create.
		h.mu.Unlock()
		_ = cmd.Process.Kill()
		_ = ptmx.Close()
		return true
	}
	h.sessions[terminalID] = s
	h.mu.Unlock()

	go h.readLoop(s)
	go h.waitLoop(s)

	h.log.Info("pty_started",
		slog.String("terminal", terminalID),
		slog.String("cwd", cwd),
		slog.Int("pid", cmd.Process.Pid))
	return true
}

func (h *Host) readLoop(s *session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.deliver(s, data)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				h.log.Debug("pty_read_error", slog.String("terminal", s.id), slog.String("error", err.Error()))
			}
			return
		}
	}
}

// deliver runs on the session's single reader goroutine, so subscribers see
// output in order.
func (h *Host) deliver(s *session, data []byte) {
	s.mu.Lock()
	if len(s.subs) == 0 {
		notify := s.watched && s.pending.Len() == 0
		_, _ = s.pending.Write(data)
		s.mu.Unlock()

		if notify {
			h.mu.Lock()
			hook := h.onDetached
			h.mu.Unlock()
			if hook != nil {
				hook(s.id)
			}
		}
		return
	}
	subs := make([]func([]byte), 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(data)
	}
}

func (h *Host) waitLoop(s *session) {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.exited = true
	s.mu.Unlock()
	_ = s.ptmx.Close()
	close(s.done)

	h.mu.Lock()
	if h.sessions[s.id] == s {
		delete(h.sessions, s.id)
	}
	h.mu.Unlock()

	attrs := []any{slog.String("terminal", s.id)}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		attrs = append(attrs, slog.Int("exit_code", exitErr.ExitCode()))
	}
	h.log.Info("pty_exited", attrs...)
}

// Write sends input to the shell.
func (h *Host) Write(terminalID string, data []byte) error {
	s, ok := h.get(terminalID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, terminalID)
	}
	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("ptyhost: write %s: %w", terminalID, err)
	}
	return nil
}

// Resize changes the terminal dimensions.
func (h *Host) Resize(terminalID string, cols, rows int) error {
	s, ok := h.get(terminalID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, terminalID)
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("ptyhost: resize %s: invalid size %dx%d", terminalID, cols, rows)
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("ptyhost: resize %s: %w", terminalID, err)
	}
	return nil
}

// Exists reports whether a live process backs terminalID.
func (h *Host) Exists(terminalID string) bool {
	_, ok := h.get(terminalID)
	return ok
}

// Reconnect returns and clears the output buffered while no subscriber was
// attached. ok is false when no live process exists.
func (h *Host) Reconnect(terminalID string) (string, bool) {
	s, ok := h.get(terminalID)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	data := s.pending.Drain()
	s.mu.Unlock()
	return string(data), true
}

// Subscribe streams output of terminalID to fn until dispose is called.
func (h *Host) Subscribe(terminalID string, fn func([]byte)) (dispose func(), err error) {
	s, ok := h.get(terminalID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, terminalID)
	}
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.watched = true
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// Kill terminates the process of terminalID. Killing an unknown or already
// exited session is not an error.
func (h *Host) Kill(terminalID string) error {
	h.mu.Lock()
	s, ok := h.sessions[terminalID]
	if ok {
		delete(h.sessions, terminalID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return h.terminate(s)
}

func (h *Host) terminate(s *session) error {
	if s.isExited() {
		return nil
	}
	// Closing the PTY hangs up the shell; SIGKILL follows if it ignores that.
	_ = s.ptmx.Close()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		if s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return fmt.Errorf("ptyhost: kill %s: %w", s.id, err)
			}
		}
	}
	h.log.Info("pty_killed", slog.String("terminal", s.id))
	return nil
}

// List returns live sessions ordered by id.
func (h *Host) List() []Info {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		if !s.exited {
			out = append(out, Info{
				ID:        s.id,
				Cwd:       s.cwd,
				Pid:       s.cmd.Process.Pid,
				StartedAt: s.startedAt,
				Buffered:  s.pending.Len(),
			})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close terminates every session.
func (h *Host) Close() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			_ = h.terminate(s)
		}(s)
	}
	wg.Wait()
}
