package terminal

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// Surface renders one terminal. The controller serializes all calls.
type Surface interface {
	Write(data []byte)
	Serialize() (string, error)
	Fit(cols, rows int) error
	ScrollToBottom()
	Focus()
}

// Screen events reported to ScreenOptions.Notify.
const (
	EventFit            = "fit"
	EventScrollToBottom = "scroll_bottom"
	EventFocus          = "focus"
)

// ScreenOptions configure a Screen.
type ScreenOptions struct {
	Cols, Rows int
	// Scrollback bounds the retained history in lines.
	Scrollback int
	// ScrollbackBytes bounds the retained history in bytes, the unterminated
	// current line included.
	ScrollbackBytes int
	// Sink receives every byte written to the screen, typically a client
	// connection rendering it.
	Sink func([]byte)
	// Notify receives fit, scroll and focus requests for the client.
	Notify func(event string)
}

// Screen is a headless Surface that keeps a bounded scrollback of the raw
// output so it can be serialized and replayed into a fresh surface.
type Screen struct {
	opts ScreenOptions

	mu      sync.Mutex
	lines   []string
	size    int // bytes in lines, one newline each
	partial []byte
	cols    int
	rows    int
	focused bool
	closed  bool
}

var errScreenClosed = errors.New("terminal: screen closed")

// NewScreen returns an empty screen.
func NewScreen(opts ScreenOptions) *Screen {
	if opts.Scrollback <= 0 {
		opts.Scrollback = 5000
	}
	if opts.ScrollbackBytes <= 0 {
		opts.ScrollbackBytes = 1 << 20
	}
	return &Screen{opts: opts, cols: opts.Cols, rows: opts.Rows}
}

func (s *Screen) Write(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	rest := data
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			s.partial = append(s.partial, rest...)
			break
		}
		line := append(s.partial, rest[:idx]...)
		if len(line) > s.opts.ScrollbackBytes {
			line = clipTail(line, s.keepBytes())
		}
		s.lines = append(s.lines, string(line))
		s.size += len(line) + 1
		s.partial = s.partial[:0]
		rest = rest[idx+1:]
	}
	s.trim()
	sink := s.opts.Sink
	s.mu.Unlock()

	if sink != nil {
		sink(data)
	}
}

// Serialize returns the retained output, escape sequences included.
func (s *Screen) Serialize() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errScreenClosed
	}
	var b strings.Builder
	for _, line := range s.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.Write(s.partial)
	return b.String(), nil
}

func (s *Screen) Fit(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return errors.New("terminal: invalid surface size")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errScreenClosed
	}
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	s.notify(EventFit)
	return nil
}

func (s *Screen) ScrollToBottom() { s.notify(EventScrollToBottom) }

func (s *Screen) Focus() {
	s.mu.Lock()
	s.focused = true
	s.mu.Unlock()
	s.notify(EventFocus)
}

func (s *Screen) notify(event string) {
	if s.opts.Notify != nil {
		s.opts.Notify(event)
	}
}

// Size returns the fitted size.
func (s *Screen) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Focused reports whether the screen has been focused.
func (s *Screen) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// Lines returns the visible text of the retained lines, escape sequences and
// carriage returns removed.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.lines)+1)
	for _, line := range s.lines {
		out = append(out, plain(line))
	}
	if len(s.partial) > 0 {
		out = append(out, plain(string(s.partial)))
	}
	return out
}

// trim drops the oldest lines past either budget. An unterminated line over
// the byte budget keeps only its tail.
func (s *Screen) trim() {
	drop := max(len(s.lines)-s.opts.Scrollback, 0)
	for i := 0; i < drop; i++ {
		s.size -= len(s.lines[i]) + 1
	}
	for drop < len(s.lines) && s.size+len(s.partial) > s.opts.ScrollbackBytes {
		s.size -= len(s.lines[drop]) + 1
		drop++
	}
	if drop > 0 {
		s.lines = append(s.lines[:0:0], s.lines[drop:]...)
	}
	if len(s.partial) > s.opts.ScrollbackBytes {
		s.partial = append([]byte(nil), clipTail(s.partial, s.keepBytes())...)
	}
}

// keepBytes is what an oversized line is cut down to, leaving headroom below
// the budget.
func (s *Screen) keepBytes() int {
	return s.opts.ScrollbackBytes - s.opts.ScrollbackBytes/4
}

// clipTail returns at most keep trailing bytes of b, starting at a carriage
// return or escape when the window holds one, otherwise at a rune boundary.
func clipTail(b []byte, keep int) []byte {
	if len(b) <= keep {
		return b
	}
	window := b[len(b)-keep:]
	if i := bytes.IndexAny(window, "\r\x1b"); i >= 0 {
		return window[i:]
	}
	for i := 0; i < len(window) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(window[i]) {
			return window[i:]
		}
	}
	return window
}

func plain(line string) string {
	return strings.TrimRight(ansi.Strip(line), "\r")
}

// Close detaches the sink. Later writes are dropped.
func (s *Screen) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
