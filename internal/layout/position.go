package layout

import (
	"github.com/asheshgoplani/panedeck/internal/dock"
	"github.com/asheshgoplani/panedeck/internal/panel"
)

var (
	centerOrder  = []panel.ID{panel.Kanban, panel.Editor}
	sidebarOrder = []panel.ID{panel.Directory, panel.Git}
)

// ResolvePosition computes where panel id lands given the set of panels
// already open. The result depends only on its arguments.
//
// A sibling tab group wins over a directional placement, which wins over the
// host default (nil).
func ResolvePosition(id panel.ID, present map[panel.ID]bool) *dock.Position {
	desc, ok := panel.Lookup(id)
	if !ok {
		return nil
	}

	switch desc.Placement {
	case panel.PlacementSidebar:
		if present[desc.Sibling] {
			return &dock.Position{Reference: string(desc.Sibling), Direction: dock.Within}
		}
		if ref, ok := firstPresent(centerOrder, present); ok {
			return &dock.Position{Reference: string(ref), Direction: dock.Left}
		}
	case panel.PlacementCenter:
		if present[desc.Sibling] {
			return &dock.Position{Reference: string(desc.Sibling), Direction: dock.Within}
		}
		if ref, ok := firstPresent(sidebarOrder, present); ok {
			return &dock.Position{Reference: string(ref), Direction: dock.Right}
		}
	case panel.PlacementBottom:
		if ref, ok := firstPresent(centerOrder, present); ok {
			return &dock.Position{Reference: string(ref), Direction: dock.Below}
		}
	}
	return nil
}

func firstPresent(order []panel.ID, present map[panel.ID]bool) (panel.ID, bool) {
	for _, id := range order {
		if present[id] {
			return id, true
		}
	}
	return "", false
}
