package dock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidDocument is returned when a serialized layout cannot be applied.
var ErrInvalidDocument = errors.New("dock: invalid layout document")

// Document is the serialized form of a Layout.
type Document struct {
	Grid        *Node                 `json:"grid"`
	Panels      map[string]PanelState `json:"panels"`
	ActiveGroup string                `json:"activeGroup,omitempty"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
}

// Node is a branch or a leaf of the serialized tree.
type Node struct {
	Type        string      `json:"type"`
	Orientation Orientation `json:"orientation,omitempty"`
	Size        int         `json:"size"`
	Children    []*Node     `json:"children,omitempty"`
	Group       *GroupState `json:"group,omitempty"`
}

const (
	nodeBranch = "branch"
	nodeLeaf   = "leaf"
)

// GroupState is a tab group.
type GroupState struct {
	ID         string   `json:"id"`
	Views      []string `json:"views"`
	ActiveView string   `json:"activeView,omitempty"`
}

// PanelState is one panel.
type PanelState struct {
	ID        string            `json:"id"`
	Component string            `json:"component"`
	Title     string            `json:"title,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// ParseDocument decodes a document strictly: unknown fields are rejected so
// that documents written by a different layout model fail to parse.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &doc, nil
}

// Marshal encodes the document.
func (d *Document) Marshal() (json.RawMessage, error) {
	return json.Marshal(d)
}

// ToDocument captures the layout.
func (l *Layout) ToDocument() *Document {
	doc := &Document{
		Panels: make(map[string]PanelState, len(l.panels)),
		Width:  l.width,
		Height: l.height,
	}
	if l.activeGroup != nil {
		doc.ActiveGroup = l.activeGroup.id
	}
	for _, id := range sortedKeys(l.panels) {
		p := l.panels[id]
		doc.Panels[id] = PanelState{
			ID:        p.id,
			Component: p.component,
			Title:     p.title,
			Params:    copyParams(p.params),
		}
	}
	doc.Grid = toNode(l.root)
	return doc
}

func toNode(n *node) *Node {
	if n.isLeaf() {
		g := n.group
		gs := &GroupState{ID: g.id, Views: make([]string, 0, len(g.panels))}
		for _, p := range g.panels {
			gs.Views = append(gs.Views, p.id)
		}
		if g.active != nil {
			gs.ActiveView = g.active.id
		}
		return &Node{Type: nodeLeaf, Size: n.size, Group: gs}
	}
	out := &Node{Type: nodeBranch, Orientation: n.orientation, Size: n.size}
	for _, c := range n.children {
		out.Children = append(out.Children, toNode(c))
	}
	return out
}

// FromDocument replaces the layout with doc. Each panel is passed to
// validate first; any error leaves the layout untouched. The container size
// is kept and the restored splits are scaled to fit it.
func (l *Layout) FromDocument(doc *Document, validate func(PanelState) error) error {
	if doc == nil || doc.Grid == nil {
		return fmt.Errorf("%w: missing grid", ErrInvalidDocument)
	}
	if doc.Grid.Type != nodeBranch {
		return fmt.Errorf("%w: root must be a branch", ErrInvalidDocument)
	}

	b := &builder{
		doc:      doc,
		validate: validate,
		panels:   make(map[string]*Panel),
		groups:   make(map[string]*group),
	}
	root, err := b.build(doc.Grid, nil)
	if err != nil {
		return err
	}
	if len(b.panels) != len(doc.Panels) {
		return fmt.Errorf("%w: %d panels not placed in any group", ErrInvalidDocument, len(doc.Panels)-len(b.panels))
	}

	l.begin()
	defer l.end()
	l.root = root
	l.panels = b.panels
	l.groups = b.groups
	l.nextGroup = b.maxGroup + 1
	l.activeGroup = b.groups[doc.ActiveGroup]
	if l.activeGroup == nil {
		l.walkGroups(l.root, func(g *group) {
			if l.activeGroup == nil {
				l.activeGroup = g
			}
		})
	}
	l.collapse()
	l.relayout()
	l.changed = true
	l.activeChanged = true
	return nil
}

type builder struct {
	doc      *Document
	validate func(PanelState) error
	panels   map[string]*Panel
	groups   map[string]*group
	maxGroup int
}

func (b *builder) build(in *Node, parent *node) (*node, error) {
	if in.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrInvalidDocument)
	}
	switch in.Type {
	case nodeBranch:
		if in.Orientation != Horizontal && in.Orientation != Vertical {
			return nil, fmt.Errorf("%w: orientation %q", ErrInvalidDocument, in.Orientation)
		}
		n := &node{parent: parent, orientation: in.Orientation, size: in.Size}
		for _, c := range in.Children {
			if c == nil {
				return nil, fmt.Errorf("%w: null child", ErrInvalidDocument)
			}
			child, err := b.build(c, n)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		}
		return n, nil
	case nodeLeaf:
		if parent == nil {
			return nil, fmt.Errorf("%w: leaf at root", ErrInvalidDocument)
		}
		return b.buildGroup(in, parent)
	default:
		return nil, fmt.Errorf("%w: node type %q", ErrInvalidDocument, in.Type)
	}
}

func (b *builder) buildGroup(in *Node, parent *node) (*node, error) {
	gs := in.Group
	if gs == nil || gs.ID == "" || len(gs.Views) == 0 {
		return nil, fmt.Errorf("%w: empty group", ErrInvalidDocument)
	}
	if _, dup := b.groups[gs.ID]; dup {
		return nil, fmt.Errorf("%w: duplicate group %s", ErrInvalidDocument, gs.ID)
	}
	g := &group{id: gs.ID}
	n := &node{parent: parent, group: g, size: in.Size}
	g.node = n
	for _, id := range gs.Views {
		state, ok := b.doc.Panels[id]
		if !ok {
			return nil, fmt.Errorf("%w: group %s references unknown panel %s", ErrInvalidDocument, gs.ID, id)
		}
		if _, dup := b.panels[id]; dup {
			return nil, fmt.Errorf("%w: panel %s appears twice", ErrInvalidDocument, id)
		}
		if state.ID != "" && state.ID != id {
			return nil, fmt.Errorf("%w: panel key %s holds id %s", ErrInvalidDocument, id, state.ID)
		}
		state.ID = id
		if b.validate != nil {
			if err := b.validate(state); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
			}
		}
		p := &Panel{
			id:        id,
			component: state.Component,
			title:     state.Title,
			params:    copyParams(state.Params),
			group:     g,
		}
		g.panels = append(g.panels, p)
		b.panels[id] = p
		if id == gs.ActiveView {
			g.active = p
		}
	}
	if g.active == nil {
		g.active = g.panels[0]
	}
	b.groups[g.id] = g
	if num, err := strconv.Atoi(strings.TrimPrefix(g.id, "g")); err == nil && num > b.maxGroup {
		b.maxGroup = num
	}
	return n, nil
}
