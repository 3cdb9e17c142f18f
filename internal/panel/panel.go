// Package panel describes the fixed set of dockable workspace panels.
package panel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
)

// ID identifies a panel kind. There is at most one panel of each kind per workspace.
type ID string

const (
	Directory ID = "directory"
	Git       ID = "git"
	Kanban    ID = "kanban"
	Editor    ID = "editor"
	Terminal  ID = "terminal"
)

// Placement is the default region a panel kind belongs to.
type Placement int

const (
	PlacementSidebar Placement = iota
	PlacementCenter
	PlacementBottom
)

func (p Placement) String() string {
	switch p {
	case PlacementSidebar:
		return "sidebar"
	case PlacementCenter:
		return "center"
	case PlacementBottom:
		return "bottom"
	}
	return "unknown"
}

// Descriptor is the static description of a panel kind.
type Descriptor struct {
	ID        ID
	Title     string
	Placement Placement
	// Sibling is the panel this one shares a tab group with by default.
	Sibling ID
}

var registry = []Descriptor{
	{ID: Directory, Title: "Files", Placement: PlacementSidebar, Sibling: Git},
	{ID: Git, Title: "Git", Placement: PlacementSidebar, Sibling: Directory},
	{ID: Kanban, Title: "Board", Placement: PlacementCenter, Sibling: Editor},
	{ID: Editor, Title: "Editor", Placement: PlacementCenter, Sibling: Kanban},
	{ID: Terminal, Title: "Terminal", Placement: PlacementBottom},
}

// All returns every descriptor in activity bar order.
func All() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// Lookup returns the descriptor for id.
func Lookup(id ID) (Descriptor, bool) {
	for _, d := range registry {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Known reports whether component names a registered panel kind.
func Known(component string) bool {
	_, ok := Lookup(ID(component))
	return ok
}

type descriptorSource []Descriptor

func (s descriptorSource) String(i int) string {
	return string(s[i].ID) + " " + strings.ToLower(s[i].Title)
}

func (s descriptorSource) Len() int { return len(s) }

// Find resolves a user-typed name ("term", "files", "kan") to a panel kind.
func Find(query string) (Descriptor, bool) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return Descriptor{}, false
	}
	if d, ok := Lookup(ID(query)); ok {
		return d, true
	}
	matches := fuzzy.FindFrom(query, descriptorSource(registry))
	if len(matches) == 0 {
		return Descriptor{}, false
	}
	return registry[matches[0].Index], true
}

// Parameter keys carried by every panel.
const (
	ParamProjectID   = "projectId"
	ParamProjectPath = "projectPath"
	ParamTerminalID  = "terminalId"
)

// Params builds the parameters a panel of kind id needs for a project.
func Params(id ID, projectID, projectPath string) map[string]string {
	params := map[string]string{
		ParamProjectID:   projectID,
		ParamProjectPath: projectPath,
	}
	if id == Terminal {
		params[ParamTerminalID] = TerminalID(projectID, 0)
	}
	return params
}

// TerminalID returns the stable id of a project's terminal slot. It survives
// recreation of the surface rendering it.
func TerminalID(projectID string, slot int) string {
	return fmt.Sprintf("%s-term-%d", projectID, slot)
}

// ParseTerminalID splits a terminal id into project and slot.
func ParseTerminalID(terminalID string) (projectID string, slot int, ok bool) {
	idx := strings.LastIndex(terminalID, "-term-")
	if idx <= 0 {
		return "", 0, false
	}
	slot, err := strconv.Atoi(terminalID[idx+len("-term-"):])
	if err != nil || slot < 0 {
		return "", 0, false
	}
	return terminalID[:idx], slot, true
}
