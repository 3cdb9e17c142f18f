// Package layout maintains one workspace's panel arrangement and persists it
// with as few writes as possible.
package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/debounce"
	"github.com/asheshgoplani/panedeck/internal/dock"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/panel"
)

// Persistence stores layout documents. A nil document clears the entry.
// Implementations own retries; the engine does not retry failed writes.
type Persistence interface {
	SaveLayout(ctx context.Context, projectID string, doc json.RawMessage) error
}

// RuntimeState is the derived open/visible state of one panel kind.
type RuntimeState struct {
	ID        panel.ID `json:"id"`
	IsOpen    bool     `json:"isOpen"`
	IsVisible bool     `json:"isVisible"`
}

// ToggleResult reports which branch TogglePanel took.
type ToggleResult int

const (
	ToggleIgnored ToggleResult = iota
	ToggleClosed
	ToggleActivated
	ToggleAdded
)

func (r ToggleResult) String() string {
	switch r {
	case ToggleClosed:
		return "closed"
	case ToggleActivated:
		return "activated"
	case ToggleAdded:
		return "added"
	}
	return "ignored"
}

// Options configure an Engine.
type Options struct {
	// ProjectID keys the persisted document.
	ProjectID   string
	ProjectPath string
	Persistence Persistence
	Clock       clock.Clock
	Settings    config.LayoutOptions
}

// Engine owns a dock layout for one workspace.
type Engine struct {
	key      string
	persist  Persistence
	settings config.LayoutOptions
	log      *slog.Logger

	saver   *debounce.Debouncer
	runtime *debounce.Debouncer

	mu          sync.Mutex
	dock        *dock.Layout
	projectID   string
	projectPath string
	restoring   bool
	lastCount   int
	closed      bool
	disposers   []func()
	nextSub     int
	runtimeSubs map[int]func([]RuntimeState)
}

// New creates an engine with an empty layout. Call Initialize to populate it.
func New(opts Options) *Engine {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	settings := opts.Settings
	if settings.ContainerWidth == 0 {
		settings = config.LayoutSettings{}.Resolve()
	}

	e := &Engine{
		key:         opts.ProjectID,
		persist:     opts.Persistence,
		settings:    settings,
		log:         logging.ForComponent(logging.CompLayout).With(slog.String("project", opts.ProjectID)),
		dock:        dock.New(settings.ContainerWidth, settings.ContainerHeight),
		projectID:   opts.ProjectID,
		projectPath: opts.ProjectPath,
		runtimeSubs: make(map[int]func([]RuntimeState)),
	}
	e.saver = debounce.New(c, e.save)
	e.runtime = debounce.New(c, e.publishRuntimeState)
	e.disposers = append(e.disposers,
		e.dock.OnDidLayoutChange(e.handleLayoutChange),
		e.dock.OnDidActivePanelChange(func(*dock.Panel) { e.runtime.Trigger(e.settings.RuntimeStateDelay) }),
	)
	return e
}

// Initialize applies a persisted document, or builds the default layout when
// doc is empty or cannot be applied.
func (e *Engine) Initialize(doc json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(doc) == 0 || string(doc) == "null" {
		e.buildDefault()
		return
	}
	if err := e.restore(doc); err != nil {
		e.log.Warn("layout_restore_failed", slog.String("error", err.Error()))
		e.dock.Clear()
		e.buildDefault()
		return
	}
	e.log.Debug("layout_restored", slog.Int("panels", e.dock.Len()))
}

func (e *Engine) restore(raw json.RawMessage) error {
	doc, err := dock.ParseDocument(raw)
	if err != nil {
		return err
	}

	e.restoring = true
	defer func() { e.restoring = false }()

	err = e.dock.FromDocument(doc, func(p dock.PanelState) error {
		if !panel.Known(p.Component) {
			return fmt.Errorf("unsupported panel kind %q", p.Component)
		}
		if p.ID != p.Component {
			return fmt.Errorf("panel %q has component %q", p.ID, p.Component)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if e.dock.Len() == 0 {
		return fmt.Errorf("document has no panels")
	}
	e.refreshParams()
	return nil
}

// BuildDefaultLayout places the five panels in their default arrangement.
func (e *Engine) BuildDefaultLayout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buildDefault()
}

func (e *Engine) buildDefault() {
	e.dock.Batch(func() {
		e.add(panel.Kanban, nil)
		e.add(panel.Directory, &dock.Position{Reference: string(panel.Kanban), Direction: dock.Left})
		e.add(panel.Git, &dock.Position{Reference: string(panel.Directory), Direction: dock.Within})
		e.add(panel.Editor, &dock.Position{Reference: string(panel.Kanban), Direction: dock.Within})
		e.add(panel.Terminal, &dock.Position{Reference: string(panel.Kanban), Direction: dock.Below})

		e.dock.Settled(func() {
			if err := e.dock.SetActivePanel(string(panel.Kanban)); err != nil {
				e.log.Warn("default_activation_failed", slog.String("error", err.Error()))
			}
		})
	})
}

// add inserts a panel. Tabs joining an existing group stay behind the
// group's current tab.
func (e *Engine) add(id panel.ID, pos *dock.Position) bool {
	desc, ok := panel.Lookup(id)
	if !ok {
		return false
	}
	opts := dock.PanelOptions{
		ID:        string(id),
		Component: string(id),
		Title:     desc.Title,
		Params:    panel.Params(id, e.projectID, e.projectPath),
		Position:  pos,
	}
	if pos != nil {
		switch pos.Direction {
		case dock.Left, dock.Right:
			if desc.Placement == panel.PlacementSidebar {
				opts.InitialWidth = e.settings.SidebarWidth
			}
		case dock.Below, dock.Above:
			opts.InitialHeight = e.settings.TerminalHeight
		case dock.Within:
			opts.Inactive = true
		}
	}
	if _, err := e.dock.AddPanel(opts); err != nil {
		e.log.Warn("panel_add_failed", slog.String("panel", string(id)), slog.String("error", err.Error()))
		return false
	}
	return true
}

// AddPanel opens id at its resolved position. It does nothing if the panel
// is already open.
func (e *Engine) AddPanel(id panel.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	return e.addResolved(id)
}

func (e *Engine) addResolved(id panel.ID) bool {
	if e.dock.Panel(string(id)) != nil {
		return false
	}
	pos := ResolvePosition(id, e.present())
	if !e.add(id, pos) {
		return false
	}
	// A reopened panel is what the user asked for, even when it joins a
	// group as a background tab.
	_ = e.dock.SetActivePanel(string(id))
	return true
}

// ResolvePosition returns where id would be placed in the current layout.
func (e *Engine) ResolvePosition(id panel.ID) *dock.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ResolvePosition(id, e.present())
}

func (e *Engine) present() map[panel.ID]bool {
	present := make(map[panel.ID]bool)
	for _, p := range e.dock.Panels() {
		present[panel.ID(p.ID())] = true
	}
	return present
}

// TogglePanel closes id if it is the visible tab of its group, brings it to
// front if it is hidden behind another tab, and adds it otherwise.
func (e *Engine) TogglePanel(id panel.ID) ToggleResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ToggleIgnored
	}
	if _, ok := panel.Lookup(id); !ok {
		return ToggleIgnored
	}

	switch {
	case e.dock.IsVisible(string(id)):
		if err := e.dock.RemovePanel(string(id)); err != nil {
			return ToggleIgnored
		}
		return ToggleClosed
	case e.dock.Panel(string(id)) != nil:
		if err := e.dock.SetActivePanel(string(id)); err != nil {
			return ToggleIgnored
		}
		return ToggleActivated
	default:
		if !e.addResolved(id) {
			return ToggleIgnored
		}
		return ToggleAdded
	}
}

// Activate focuses id, opening it first if needed.
func (e *Engine) Activate(id panel.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.dock.Panel(string(id)) == nil {
		e.addResolved(id)
		return
	}
	_ = e.dock.SetActivePanel(string(id))
}

// RemovePanel closes id.
func (e *Engine) RemovePanel(id panel.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	return e.dock.RemovePanel(string(id)) == nil
}

// ResizePanel sets the extent of id's group along its split.
func (e *Engine) ResizePanel(id panel.ID, size int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	return e.dock.ResizeGroup(string(id), size) == nil
}

// SetContainerSize relays a container resize to the layout.
func (e *Engine) SetContainerSize(width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || width <= 0 || height <= 0 {
		return
	}
	e.dock.SetSize(width, height)
}

// ResetToDefault clears the stored document and rebuilds the default layout.
func (e *Engine) ResetToDefault(ctx context.Context) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	e.saver.Cancel()
	if e.persist != nil {
		if err := e.persist.SaveLayout(ctx, e.key, nil); err != nil {
			e.log.Warn("layout_clear_failed", slog.String("error", err.Error()))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.dock.Clear()
	e.buildDefault()
}

// SetParameters points every open panel, visible or not, at a new project.
func (e *Engine) SetParameters(projectID, projectPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projectID = projectID
	e.projectPath = projectPath
	e.refreshParams()
}

func (e *Engine) refreshParams() {
	for _, p := range e.dock.Panels() {
		id := panel.ID(p.ID())
		_ = e.dock.UpdateParams(p.ID(), panel.Params(id, e.projectID, e.projectPath))
	}
}

// PanelParams returns the live parameters of an open panel.
func (e *Engine) PanelParams(id panel.ID) (map[string]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.dock.Panel(string(id))
	if p == nil {
		return nil, false
	}
	return p.Params(), true
}

// handleLayoutChange runs synchronously inside every dock mutation, so the
// engine lock is already held.
func (e *Engine) handleLayoutChange() {
	count := e.dock.Len()
	kind := ClassifyChange(e.lastCount, count)
	e.lastCount = count

	e.runtime.Trigger(e.settings.RuntimeStateDelay)

	if e.restoring || e.closed {
		return
	}
	if kind == Structural {
		e.log.Debug("layout_changed", slog.String("kind", kind.String()), slog.Int("panels", count))
		e.saver.Trigger(e.settings.StructuralDebounce)
		return
	}
	logging.Aggregate(logging.CompLayout, "geometric_change", slog.String("project", e.key))
	e.saver.Trigger(e.settings.GeometricDebounce)
}

func (e *Engine) save() {
	e.mu.Lock()
	raw, err := e.dock.ToDocument().Marshal()
	e.mu.Unlock()
	if err != nil {
		e.log.Warn("layout_encode_failed", slog.String("error", err.Error()))
		return
	}
	if e.persist == nil {
		return
	}
	if err := e.persist.SaveLayout(context.Background(), e.key, raw); err != nil {
		e.log.Warn("layout_save_failed", slog.String("error", err.Error()))
		return
	}
	e.log.Debug("layout_saved", slog.Int("bytes", len(raw)))
}

// RuntimeState derives the open and visible flags of every panel kind from
// the live layout.
func (e *Engine) RuntimeState() []RuntimeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtimeState()
}

func (e *Engine) runtimeState() []RuntimeState {
	all := panel.All()
	out := make([]RuntimeState, 0, len(all))
	for _, d := range all {
		out = append(out, RuntimeState{
			ID:        d.ID,
			IsOpen:    e.dock.Panel(string(d.ID)) != nil,
			IsVisible: e.dock.IsVisible(string(d.ID)),
		})
	}
	return out
}

// OnRuntimeStateChange registers fn to receive runtime state shortly after
// each layout or active-tab change.
func (e *Engine) OnRuntimeStateChange(fn func([]RuntimeState)) (dispose func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.runtimeSubs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.runtimeSubs, id)
	}
}

func (e *Engine) publishRuntimeState() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	state := e.runtimeState()
	subs := make([]func([]RuntimeState), 0, len(e.runtimeSubs))
	for _, fn := range e.runtimeSubs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// IsEmpty reports whether every panel has been closed.
func (e *Engine) IsEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dock.Len() == 0
}

// Document returns the serialized live layout.
func (e *Engine) Document() (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dock.ToDocument().Marshal()
}

// Close flushes a pending save and stops reacting to changes.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, dispose := range e.disposers {
		dispose()
	}
	e.disposers = nil
	e.mu.Unlock()

	e.runtime.Cancel()
	if e.saver.Flush() {
		e.log.Debug("layout_flushed_on_close")
	}
}
