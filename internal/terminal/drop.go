package terminal

import "strings"

// DropPayload is something dragged onto a terminal: a file path or a task.
type DropPayload struct {
	Path string       `json:"path,omitempty"`
	Task *TaskPayload `json:"task,omitempty"`
}

// TaskPayload is a task card dropped onto a terminal.
type TaskPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// ShellQuote wraps s in single quotes, escaping embedded single quotes so a
// POSIX shell reads it back verbatim.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// FormatTask renders a task as the short text block injected on drop.
func FormatTask(t TaskPayload) string {
	lines := []string{"Task: " + t.Title}
	if desc := strings.TrimSpace(t.Description); desc != "" {
		lines = append(lines, "Description: "+desc)
	}
	if len(t.Attachments) > 0 {
		quoted := make([]string, 0, len(t.Attachments))
		for _, p := range t.Attachments {
			quoted = append(quoted, ShellQuote(p))
		}
		lines = append(lines, "Attachments: "+strings.Join(quoted, " "))
	}
	return strings.Join(lines, "\n")
}

// Text returns the terminal input for the payload, or "" if it is empty.
// A task wins when both are set.
func (p DropPayload) Text() string {
	if p.Task != nil && strings.TrimSpace(p.Task.Title) != "" {
		return FormatTask(*p.Task)
	}
	if p.Path != "" {
		return ShellQuote(p.Path)
	}
	return ""
}
