// Package dock is an in-memory dockable layout: a tree of split branches whose
// leaves are tab groups of panels. It is the host layout the workspace layout
// engine drives, and it serializes to and from a JSON Document.
//
// Layout is not safe for concurrent use; its owner serializes access.
// Listeners run synchronously on the goroutine that mutated the layout.
package dock

import (
	"errors"
	"fmt"
	"sort"
)

// Orientation of a branch: horizontal lays children left to right,
// vertical lays them top to bottom.
type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
)

// Direction places a new panel relative to a reference panel.
type Direction string

const (
	Left   Direction = "left"
	Right  Direction = "right"
	Above  Direction = "above"
	Below  Direction = "below"
	Within Direction = "within"
)

// Position is a placement relative to an existing panel.
type Position struct {
	Reference string    `json:"reference"`
	Direction Direction `json:"direction"`
}

var (
	ErrDuplicatePanel = errors.New("dock: panel already exists")
	ErrUnknownPanel   = errors.New("dock: unknown panel")
)

// minExtent keeps split panes from collapsing to nothing.
const minExtent = 40

// PanelOptions describes a panel to add.
type PanelOptions struct {
	ID        string
	Component string
	Title     string
	Params    map[string]string
	// Position nil means the host default: a new group at the leading edge.
	Position      *Position
	InitialWidth  int
	InitialHeight int
	// Inactive adds the panel without making it the visible tab.
	Inactive bool
}

// Panel is one dockable view.
type Panel struct {
	id        string
	component string
	title     string
	params    map[string]string
	group     *group
}

func (p *Panel) ID() string        { return p.id }
func (p *Panel) Component() string { return p.component }
func (p *Panel) Title() string     { return p.title }

// GroupID returns the id of the tab group holding the panel.
func (p *Panel) GroupID() string {
	if p.group == nil {
		return ""
	}
	return p.group.id
}

// Params returns a copy of the panel parameters.
func (p *Panel) Params() map[string]string {
	return copyParams(p.params)
}

type group struct {
	id     string
	panels []*Panel
	active *Panel
	node   *node
}

type node struct {
	parent      *node
	orientation Orientation
	children    []*node
	group       *group
	// size is the extent along the parent's orientation.
	size int
}

func (n *node) isLeaf() bool { return n.group != nil }

type listener[T any] struct {
	id int
	fn T
}

// Layout is the dock tree plus its change signals.
type Layout struct {
	root        *node
	panels      map[string]*Panel
	groups      map[string]*group
	activeGroup *group
	width       int
	height      int
	nextGroup   int

	nextListener int
	changeSubs   []listener[func()]
	activeSubs   []listener[func(*Panel)]

	batchDepth    int
	changed       bool
	activeChanged bool
	settled       []func()
}

// New returns an empty layout of the given container size.
func New(width, height int) *Layout {
	l := &Layout{}
	l.reset()
	l.width, l.height = width, height
	return l
}

func (l *Layout) reset() {
	l.root = &node{orientation: Horizontal}
	l.panels = make(map[string]*Panel)
	l.groups = make(map[string]*group)
	l.activeGroup = nil
	l.nextGroup = 1
}

// OnDidLayoutChange registers fn to run after any structural or geometric
// change. Changes inside a Batch are reported once when the batch ends.
func (l *Layout) OnDidLayoutChange(fn func()) (dispose func()) {
	l.nextListener++
	id := l.nextListener
	l.changeSubs = append(l.changeSubs, listener[func()]{id: id, fn: fn})
	return func() {
		l.changeSubs = removeListener(l.changeSubs, id)
	}
}

// OnDidActivePanelChange registers fn to run when the active panel changes.
func (l *Layout) OnDidActivePanelChange(fn func(*Panel)) (dispose func()) {
	l.nextListener++
	id := l.nextListener
	l.activeSubs = append(l.activeSubs, listener[func(*Panel)]{id: id, fn: fn})
	return func() {
		l.activeSubs = removeListener(l.activeSubs, id)
	}
}

func removeListener[T any](list []listener[T], id int) []listener[T] {
	for i, s := range list {
		if s.id == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Batch groups several mutations into one change notification.
func (l *Layout) Batch(fn func()) {
	l.begin()
	defer l.end()
	fn()
}

// Settled runs fn once the layout has finished applying the current batch.
// Outside a batch the layout is already settled and fn runs immediately.
func (l *Layout) Settled(fn func()) {
	if l.batchDepth == 0 {
		fn()
		return
	}
	l.settled = append(l.settled, fn)
}

func (l *Layout) begin() { l.batchDepth++ }

func (l *Layout) end() {
	l.batchDepth--
	if l.batchDepth > 0 {
		return
	}
	if l.changed {
		l.changed = false
		for _, s := range append([]listener[func()](nil), l.changeSubs...) {
			s.fn()
		}
	}
	if l.activeChanged {
		l.activeChanged = false
		active := l.ActivePanel()
		for _, s := range append([]listener[func(*Panel)](nil), l.activeSubs...) {
			s.fn(active)
		}
	}
	for len(l.settled) > 0 {
		fn := l.settled[0]
		l.settled = l.settled[1:]
		fn()
	}
}

// Size returns the container size.
func (l *Layout) Size() (width, height int) { return l.width, l.height }

// Len returns the number of panels.
func (l *Layout) Len() int { return len(l.panels) }

// Panel returns the panel with id, or nil.
func (l *Layout) Panel(id string) *Panel { return l.panels[id] }

// Panels returns all panels in tree order (groups left-to-right,
// top-to-bottom, tabs in tab order).
func (l *Layout) Panels() []*Panel {
	var out []*Panel
	l.walkGroups(l.root, func(g *group) {
		out = append(out, g.panels...)
	})
	return out
}

// GroupCount returns the number of tab groups.
func (l *Layout) GroupCount() int { return len(l.groups) }

// ActivePanel returns the visible tab of the active group, or nil.
func (l *Layout) ActivePanel() *Panel {
	if l.activeGroup == nil {
		return nil
	}
	return l.activeGroup.active
}

// IsVisible reports whether panel id is the active tab of its group.
func (l *Layout) IsVisible(id string) bool {
	p := l.panels[id]
	return p != nil && p.group != nil && p.group.active == p
}

// GroupPanels returns the ids of the panels sharing a tab group with id,
// in tab order, including id itself.
func (l *Layout) GroupPanels(id string) []string {
	p := l.panels[id]
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.group.panels))
	for _, q := range p.group.panels {
		out = append(out, q.id)
	}
	return out
}

// Extent returns the on-screen size of the group holding panel id.
func (l *Layout) Extent(id string) (width, height int, ok bool) {
	p := l.panels[id]
	if p == nil {
		return 0, 0, false
	}
	w, h := l.extentOf(p.group.node)
	return w, h, true
}

func (l *Layout) walkGroups(n *node, fn func(*group)) {
	if n == nil {
		return
	}
	if n.isLeaf() {
		fn(n.group)
		return
	}
	for _, c := range n.children {
		l.walkGroups(c, fn)
	}
}

// extentOf computes a node's width and height from the root down.
func (l *Layout) extentOf(n *node) (int, int) {
	if n.parent == nil {
		return l.width, l.height
	}
	pw, ph := l.extentOf(n.parent)
	if n.parent.orientation == Horizontal {
		return n.size, ph
	}
	return pw, n.size
}

func along(o Orientation, w, h int) int {
	if o == Horizontal {
		return w
	}
	return h
}

// AddPanel inserts a panel. See PanelOptions for placement.
func (l *Layout) AddPanel(opts PanelOptions) (*Panel, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("dock: panel id is required")
	}
	if _, exists := l.panels[opts.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePanel, opts.ID)
	}
	var ref *Panel
	if opts.Position != nil {
		ref = l.panels[opts.Position.Reference]
		if ref == nil {
			return nil, fmt.Errorf("%w: reference %s", ErrUnknownPanel, opts.Position.Reference)
		}
	}

	l.begin()
	defer l.end()

	p := &Panel{
		id:        opts.ID,
		component: opts.Component,
		title:     opts.Title,
		params:    copyParams(opts.Params),
	}
	l.place(p, ref, opts)
	l.panels[p.id] = p
	if !opts.Inactive || p.group.active == nil {
		l.activate(p)
	}
	l.changed = true
	return p, nil
}

func (l *Layout) place(p *Panel, ref *Panel, opts PanelOptions) {
	if ref == nil {
		g := l.newGroup()
		g.node.size = l.defaultSize(l.root, opts)
		l.insertChild(l.root, 0, g.node)
		l.attach(p, g)
		l.relayout()
		return
	}

	dir := opts.Position.Direction
	if dir == Within || dir == "" {
		l.attach(p, ref.group)
		return
	}

	want := Horizontal
	if dir == Above || dir == Below {
		want = Vertical
	}
	after := dir == Right || dir == Below

	refNode := ref.group.node
	g := l.newGroup()
	l.attach(p, g)

	parent := refNode.parent
	if parent == l.root && len(parent.children) == 1 {
		parent.orientation = want
	}
	rw, rh := l.extentOf(refNode)
	refAlong := along(want, rw, rh)
	newSize := l.initialSize(want, opts, refAlong)

	if parent.orientation == want {
		idx := indexOf(parent.children, refNode)
		if after {
			idx++
		}
		refNode.size = max(refAlong-newSize, minExtent)
		g.node.size = newSize
		l.insertChild(parent, idx, g.node)
	} else {
		// Wrap the reference group in a new branch of the wanted orientation.
		branch := &node{orientation: want, size: refNode.size}
		idx := indexOf(parent.children, refNode)
		parent.children[idx] = branch
		branch.parent = parent
		refNode.size = max(refAlong-newSize, minExtent)
		g.node.size = newSize
		if after {
			branch.children = []*node{refNode, g.node}
		} else {
			branch.children = []*node{g.node, refNode}
		}
		refNode.parent = branch
		g.node.parent = branch
	}
	l.relayout()
}

func (l *Layout) initialSize(o Orientation, opts PanelOptions, available int) int {
	size := opts.InitialWidth
	if o == Vertical {
		size = opts.InitialHeight
	}
	if size <= 0 {
		size = available / 2
	}
	if size > available-minExtent {
		size = available - minExtent
	}
	return max(size, minExtent)
}

func (l *Layout) defaultSize(parent *node, opts PanelOptions) int {
	w, h := l.extentOf(parent)
	total := along(parent.orientation, w, h)
	if len(parent.children) == 0 {
		return total
	}
	return l.initialSize(parent.orientation, opts, total)
}

func (l *Layout) newGroup() *group {
	g := &group{id: fmt.Sprintf("g%d", l.nextGroup)}
	l.nextGroup++
	g.node = &node{group: g}
	l.groups[g.id] = g
	return g
}

func (l *Layout) attach(p *Panel, g *group) {
	p.group = g
	g.panels = append(g.panels, p)
}

func (l *Layout) insertChild(parent *node, idx int, child *node) {
	child.parent = parent
	parent.children = append(parent.children, nil)
	copy(parent.children[idx+1:], parent.children[idx:])
	parent.children[idx] = child
}

func indexOf(list []*node, n *node) int {
	for i, c := range list {
		if c == n {
			return i
		}
	}
	return -1
}

func (l *Layout) activate(p *Panel) {
	if p.group.active != p || l.activeGroup != p.group {
		l.activeChanged = true
	}
	p.group.active = p
	l.activeGroup = p.group
}

// SetActivePanel makes id the visible tab of its group and focuses the group.
func (l *Layout) SetActivePanel(id string) error {
	p := l.panels[id]
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPanel, id)
	}
	l.begin()
	defer l.end()
	l.activate(p)
	return nil
}

// RemovePanel closes a panel. An emptied group is removed and the tree is
// collapsed.
func (l *Layout) RemovePanel(id string) error {
	p := l.panels[id]
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPanel, id)
	}
	l.begin()
	defer l.end()
	l.detach(p)
	delete(l.panels, id)
	l.changed = true
	return nil
}

func (l *Layout) detach(p *Panel) {
	g := p.group
	idx := -1
	for i, q := range g.panels {
		if q == p {
			idx = i
			break
		}
	}
	g.panels = append(g.panels[:idx], g.panels[idx+1:]...)
	p.group = nil

	if len(g.panels) > 0 {
		if g.active == p {
			next := idx
			if next >= len(g.panels) {
				next = len(g.panels) - 1
			}
			g.active = g.panels[next]
			l.activeChanged = true
		}
		return
	}

	l.removeGroup(g)
	if l.activeGroup == g {
		l.activeGroup = nil
		l.walkGroups(l.root, func(other *group) {
			if l.activeGroup == nil {
				l.activeGroup = other
			}
		})
		l.activeChanged = true
	}
}

func (l *Layout) removeGroup(g *group) {
	n := g.node
	parent := n.parent
	idx := indexOf(parent.children, n)
	parent.children = append(parent.children[:idx], parent.children[idx+1:]...)
	if len(parent.children) > 0 {
		neighbor := idx - 1
		if neighbor < 0 {
			neighbor = 0
		}
		parent.children[neighbor].size += n.size
	}
	delete(l.groups, g.id)
	l.collapse()
	l.relayout()
}

// collapse removes single-child branches.
func (l *Layout) collapse() {
	var visit func(n *node)
	visit = func(n *node) {
		for i := 0; i < len(n.children); i++ {
			c := n.children[i]
			if c.isLeaf() {
				continue
			}
			visit(c)
			switch len(c.children) {
			case 0:
				n.children = append(n.children[:i], n.children[i+1:]...)
				i--
			case 1:
				only := c.children[0]
				only.size = c.size
				only.parent = n
				n.children[i] = only
			}
		}
	}
	visit(l.root)
	for len(l.root.children) == 1 && !l.root.children[0].isLeaf() {
		child := l.root.children[0]
		child.parent = nil
		l.root = child
	}
}

// MovePanel relocates an existing panel, as a tab drag would.
func (l *Layout) MovePanel(id string, pos Position) error {
	p := l.panels[id]
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPanel, id)
	}
	if pos.Reference == id {
		return nil
	}
	ref := l.panels[pos.Reference]
	if ref == nil {
		return fmt.Errorf("%w: reference %s", ErrUnknownPanel, pos.Reference)
	}
	if pos.Direction == Within && ref.group == p.group {
		return nil
	}
	l.begin()
	defer l.end()
	l.detach(p)
	l.place(p, ref, PanelOptions{Position: &pos})
	l.activate(p)
	l.changed = true
	return nil
}

// ResizeGroup sets the extent of the group holding panel id along its
// parent's orientation. The neighboring group absorbs the difference.
func (l *Layout) ResizeGroup(id string, size int) error {
	p := l.panels[id]
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPanel, id)
	}
	n := p.group.node
	parent := n.parent
	if len(parent.children) < 2 {
		return nil
	}
	idx := indexOf(parent.children, n)
	var neighbor *node
	if idx+1 < len(parent.children) {
		neighbor = parent.children[idx+1]
	} else {
		neighbor = parent.children[idx-1]
	}
	total := n.size + neighbor.size
	size = min(max(size, minExtent), total-minExtent)
	if size == n.size {
		return nil
	}

	l.begin()
	defer l.end()
	n.size = size
	neighbor.size = total - size
	l.relayout()
	l.changed = true
	return nil
}

// SetSize resizes the container and scales every split proportionally.
func (l *Layout) SetSize(width, height int) {
	if width == l.width && height == l.height {
		return
	}
	l.begin()
	defer l.end()
	l.width, l.height = width, height
	l.relayout()
	l.changed = true
}

// relayout scales children of every branch so they fill their parent.
func (l *Layout) relayout() {
	var visit func(n *node, w, h int)
	visit = func(n *node, w, h int) {
		if n.isLeaf() || len(n.children) == 0 {
			return
		}
		total := along(n.orientation, w, h)
		sum := 0
		for _, c := range n.children {
			sum += c.size
		}
		assigned := 0
		for i, c := range n.children {
			if i == len(n.children)-1 {
				c.size = total - assigned
			} else if sum > 0 {
				c.size = c.size * total / sum
			} else {
				c.size = total / len(n.children)
			}
			assigned += c.size
			if n.orientation == Horizontal {
				visit(c, c.size, h)
			} else {
				visit(c, w, c.size)
			}
		}
	}
	visit(l.root, l.width, l.height)
}

// UpdateParams replaces a panel's parameters without disturbing its place in
// the layout. It does not emit a layout change.
func (l *Layout) UpdateParams(id string, params map[string]string) error {
	p := l.panels[id]
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPanel, id)
	}
	p.params = copyParams(params)
	return nil
}

// Clear removes every panel.
func (l *Layout) Clear() {
	if len(l.panels) == 0 {
		return
	}
	l.begin()
	defer l.end()
	l.reset()
	l.changed = true
	l.activeChanged = true
}

func copyParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
