package terminal

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreen_SerializeRoundTrip(t *testing.T) {
	var sunk []byte
	s := NewScreen(ScreenOptions{Cols: 80, Rows: 24, Sink: func(b []byte) { sunk = append(sunk, b...) }})
	s.Write([]byte("one\r\n\x1b[32mtwo\x1b[0m\r\npar"))
	s.Write([]byte("tial"))

	out, err := s.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "one\r\n\x1b[32mtwo\x1b[0m\r\npartial", out)
	assert.Equal(t, out, string(sunk))
	assert.Equal(t, []string{"one", "two", "partial"}, s.Lines())

	replay := NewScreen(ScreenOptions{})
	replay.Write([]byte(out))
	assert.Equal(t, s.Lines(), replay.Lines())
}

func TestScreen_ScrollbackBounded(t *testing.T) {
	s := NewScreen(ScreenOptions{Scrollback: 2})
	s.Write([]byte("a\nb\nc\nd\n"))
	assert.Equal(t, []string{"c", "d"}, s.Lines())
}

func TestScreen_RedrawsWithoutNewlinesStayWithinByteBudget(t *testing.T) {
	const budget = 64 * 1024
	s := NewScreen(ScreenOptions{Scrollback: 10, ScrollbackBytes: budget})
	frame := "\x1b[H\x1b[2J" + strings.Repeat("x", 2000) + "\r"
	for i := 0; i < 5000; i++ {
		s.Write([]byte(frame))
	}

	out, err := s.Serialize()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), budget)
	assert.True(t, strings.HasSuffix(out, frame), "latest frame must survive trimming")
	assert.True(t, strings.HasPrefix(out, "\x1b") || strings.HasPrefix(out, "\r"), "tail starts at a sequence boundary")

	replay := NewScreen(ScreenOptions{Scrollback: 10, ScrollbackBytes: budget})
	replay.Write([]byte(out))
	again, err := replay.Serialize()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(again), budget)
}

func TestScreen_ByteBudgetDropsOldestLines(t *testing.T) {
	s := NewScreen(ScreenOptions{Scrollback: 100, ScrollbackBytes: 10})
	s.Write([]byte("aaaa\nbbbb\ncccc\n"))
	assert.Equal(t, []string{"bbbb", "cccc"}, s.Lines())

	out, err := s.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "bbbb\ncccc\n", out)
}

func TestScreen_OversizedLineKeepsTail(t *testing.T) {
	s := NewScreen(ScreenOptions{ScrollbackBytes: 100})
	s.Write([]byte(strings.Repeat("é", 200) + "\n"))

	out, err := s.Serialize()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 100)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "é\n"))
}

func TestScreen_Notifications(t *testing.T) {
	var got []string
	s := NewScreen(ScreenOptions{Notify: func(e string) { got = append(got, e) }})

	require.NoError(t, s.Fit(100, 30))
	s.ScrollToBottom()
	s.Focus()
	assert.Error(t, s.Fit(0, 10))

	assert.Equal(t, []string{EventFit, EventScrollToBottom, EventFocus}, got)
	cols, rows := s.Size()
	assert.Equal(t, 100, cols)
	assert.Equal(t, 30, rows)
	assert.True(t, s.Focused())
}

func TestScreen_Closed(t *testing.T) {
	s := NewScreen(ScreenOptions{})
	s.Write([]byte("x"))
	s.Close()
	s.Write([]byte("y"))
	_, err := s.Serialize()
	assert.Error(t, err)
}
