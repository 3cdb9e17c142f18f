package main

import (
	"flag"
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/panedeck/internal/dock"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name     string
		setup    func() *flag.FlagSet
		args     []string
		expected []string
	}{
		{
			name: "flags already before positional args",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"--json", "my-project"},
			expected: []string{"--json", "my-project"},
		},
		{
			name: "bool flag after positional arg",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"my-project", "--json"},
			expected: []string{"--json", "my-project"},
		},
		{
			name: "string flag after positional arg",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.String("path", "", "")
				return fs
			},
			args:     []string{"proj-term-0", "--path", "/src/my project"},
			expected: []string{"--path", "/src/my project", "proj-term-0"},
		},
		{
			name: "flag with equals syntax",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.String("token", "", "")
				return fs
			},
			args:     []string{"proj-term-0", "--token=abc"},
			expected: []string{"--token=abc", "proj-term-0"},
		},
		{
			name: "double dash terminates flags",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"--json", "--", "--not-a-flag"},
			expected: []string{"--json", "--not-a-flag"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeArgs(tt.setup(), tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("normalizeArgs(%v) = %v, want %v", tt.args, got, tt.expected)
			}
		})
	}
}

func TestTerminalURL(t *testing.T) {
	got := terminalURL("127.0.0.1:8421", "proj-term-0", "s3cret", "/src/my proj")
	want := "ws://127.0.0.1:8421/ws/terminal/proj-term-0?path=%2Fsrc%2Fmy+proj&token=s3cret"
	if got != want {
		t.Fatalf("terminalURL = %q, want %q", got, want)
	}

	if got := terminalURL("localhost:1", "t", "", ""); got != "ws://localhost:1/ws/terminal/t" {
		t.Fatalf("expected no query without token and path, got %q", got)
	}
}

func TestHandleAttachEvent(t *testing.T) {
	tests := []struct {
		ev      attachEvent
		done    bool
		wantErr bool
	}{
		{attachEvent{Type: "status", Event: "attached", State: "attached"}, false, false},
		{attachEvent{Type: "status", Event: "attached", State: "disconnected"}, true, true},
		{attachEvent{Type: "status", Event: "closed"}, true, false},
		{attachEvent{Type: "status", Event: "fit"}, false, false},
		{attachEvent{Type: "error", Code: "DETACHED"}, true, true},
		{attachEvent{Type: "error", Code: "INPUT_REJECTED"}, false, false},
	}
	for _, tt := range tests {
		done, err := handleAttachEvent(tt.ev)
		if done != tt.done || (err != nil) != tt.wantErr {
			t.Errorf("handleAttachEvent(%+v) = %v, %v", tt.ev, done, err)
		}
	}
}

func TestRenderDocument(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	l := dock.New(1000, 600)
	if _, err := l.AddPanel(dock.PanelOptions{ID: "kanban", Component: "kanban", Title: "Board"}); err != nil {
		t.Fatalf("add kanban: %v", err)
	}
	if _, err := l.AddPanel(dock.PanelOptions{
		ID: "editor", Component: "editor", Title: "Editor",
		Position: &dock.Position{Reference: "kanban", Direction: dock.Within},
		Inactive: true,
	}); err != nil {
		t.Fatalf("add editor: %v", err)
	}
	if _, err := l.AddPanel(dock.PanelOptions{
		ID: "terminal", Component: "terminal", Title: "Terminal",
		Position: &dock.Position{Reference: "kanban", Direction: dock.Below},
	}); err != nil {
		t.Fatalf("add terminal: %v", err)
	}

	out := renderDocument("proj", l.ToDocument())
	if !strings.HasPrefix(out, "proj  1000x600\n") {
		t.Fatalf("unexpected header in:\n%s", out)
	}
	for _, want := range []string{"vertical", "[Board] Editor", "[Terminal]"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}
