// Package workspace composes one project's layout, cross-panel events and
// background data into a mountable workspace.
package workspace

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/debounce"
	"github.com/asheshgoplani/panedeck/internal/events"
	"github.com/asheshgoplani/panedeck/internal/layout"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/panel"
)

// BadgeStore clears "unread" badges of projects and terminals.
type BadgeStore interface {
	DismissUnread(ctx context.Context, subjects ...string) error
}

// Deps are the collaborators shared by every workspace of a host.
type Deps struct {
	Bus         *events.Bus
	Persistence layout.Persistence
	Badges      BadgeStore
	// Cache backs the git status view; nil disables it.
	Cache  *Cache
	Clock  clock.Clock
	Layout config.LayoutOptions
}

// MountOptions identify the project being mounted.
type MountOptions struct {
	ProjectID   string
	ProjectPath string
	// OnOpenFile is called for every open-file intent addressed to the
	// project, after the editor panel has been activated.
	OnOpenFile func(events.OpenFileEvent)
}

// ActivityItem is one entry of the activity bar.
type ActivityItem struct {
	ID      panel.ID `json:"id"`
	Title   string   `json:"title"`
	Open    bool     `json:"open"`
	Visible bool     `json:"visible"`
}

// Coordinator is one mounted project workspace.
type Coordinator struct {
	deps    Deps
	engine  *layout.Engine
	resizer *debounce.Debouncer
	git     *GitStatusView
	log     *slog.Logger

	mu            sync.Mutex
	projectID     string
	projectPath   string
	onOpenFile    func(events.OpenFileEvent)
	width, height int
	disposers     []func()
	closed        bool
}

// Mount builds the workspace for a project from its persisted layout
// document (nil for none) and starts routing cross-panel events into it.
func Mount(ctx context.Context, deps Deps, opts MountOptions, doc json.RawMessage) *Coordinator {
	if deps.Bus == nil {
		deps.Bus = events.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Layout.ContainerWidth == 0 {
		deps.Layout = config.LayoutSettings{}.Resolve()
	}

	c := &Coordinator{
		deps:        deps,
		projectID:   opts.ProjectID,
		projectPath: opts.ProjectPath,
		onOpenFile:  opts.OnOpenFile,
		log:         logging.ForComponent(logging.CompWorkspace).With(slog.String("project", opts.ProjectID)),
	}
	c.engine = layout.New(layout.Options{
		ProjectID:   opts.ProjectID,
		ProjectPath: opts.ProjectPath,
		Persistence: deps.Persistence,
		Clock:       deps.Clock,
		Settings:    deps.Layout,
	})
	c.engine.Initialize(doc)
	c.resizer = debounce.New(deps.Clock, c.applyResize)
	if deps.Cache != nil {
		c.git = NewGitStatusView(deps.Cache)
		c.git.SetProject(opts.ProjectID, opts.ProjectPath)
	}

	c.disposers = append(c.disposers,
		events.Subscribe(deps.Bus, events.FocusPanel, c.handleFocusPanel),
		events.Subscribe(deps.Bus, events.OpenFile, c.handleOpenFile),
	)
	c.DismissBadges(ctx)
	c.log.Info("workspace_mounted", slog.Bool("restored", len(doc) > 0))
	return c
}

// Engine returns the workspace's layout engine.
func (c *Coordinator) Engine() *layout.Engine { return c.engine }

// GitStatus returns the active project's git status view, nil without a cache.
func (c *Coordinator) GitStatus() *GitStatusView { return c.git }

// Bus returns the cross-panel event bus.
func (c *Coordinator) Bus() *events.Bus { return c.deps.Bus }

// Project returns the project the panels point at.
func (c *Coordinator) Project() (projectID, projectPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID, c.projectPath
}

func (c *Coordinator) addressed(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && (projectID == "" || projectID == c.projectID)
}

func (c *Coordinator) handleFocusPanel(e events.FocusPanelEvent) {
	if !c.addressed(e.ProjectID) {
		return
	}
	if _, ok := panel.Lookup(e.Panel); !ok {
		c.log.Debug("focus_unknown_panel", slog.String("panel", string(e.Panel)))
		return
	}
	c.engine.Activate(e.Panel)
}

func (c *Coordinator) handleOpenFile(e events.OpenFileEvent) {
	if !c.addressed(e.ProjectID) {
		return
	}
	c.engine.Activate(panel.Editor)
	c.mu.Lock()
	fn := c.onOpenFile
	c.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// OpenFile publishes an open-file intent for this project. It returns the
// number of subscribers reached.
func (c *Coordinator) OpenFile(path string, line int) int {
	projectID, _ := c.Project()
	return events.Publish(c.deps.Bus, events.OpenFile, events.OpenFileEvent{
		ProjectID: projectID,
		Path:      path,
		Line:      line,
	})
}

// FocusPanel publishes a focus intent for this project.
func (c *Coordinator) FocusPanel(id panel.ID) int {
	projectID, _ := c.Project()
	return events.Publish(c.deps.Bus, events.FocusPanel, events.FocusPanelEvent{
		ProjectID: projectID,
		Panel:     id,
	})
}

// ContainerResized records the workspace container size; the layout is
// resized once a burst of updates settles.
func (c *Coordinator) ContainerResized(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.width, c.height = width, height
	c.mu.Unlock()
	logging.Aggregate(logging.CompWorkspace, "container_resized", slog.String("project", c.projectID))
	c.resizer.Trigger(c.deps.Layout.ContainerResizeDebounce)
}

func (c *Coordinator) applyResize() {
	c.mu.Lock()
	w, h, closed := c.width, c.height, c.closed
	c.mu.Unlock()
	if !closed {
		c.engine.SetContainerSize(w, h)
	}
}

// SetProject points the workspace's panels at another project and clears
// that project's badges. The layout stays stored under the mounted id.
func (c *Coordinator) SetProject(ctx context.Context, projectID, projectPath string) {
	c.mu.Lock()
	if c.closed || (projectID == c.projectID && projectPath == c.projectPath) {
		c.mu.Unlock()
		return
	}
	c.projectID, c.projectPath = projectID, projectPath
	c.mu.Unlock()

	c.engine.SetParameters(projectID, projectPath)
	if c.git != nil {
		c.git.SetProject(projectID, projectPath)
	}
	c.DismissBadges(ctx)
}

// DismissBadges clears the unread badges of the project and its terminal.
func (c *Coordinator) DismissBadges(ctx context.Context) {
	if c.deps.Badges == nil {
		return
	}
	projectID, _ := c.Project()
	if err := c.deps.Badges.DismissUnread(ctx, projectID, panel.TerminalID(projectID, 0)); err != nil {
		c.log.Warn("badge_dismiss_failed", slog.String("error", err.Error()))
	}
}

// ActivityBar lists every panel kind with its open and visible flags.
func (c *Coordinator) ActivityBar() []ActivityItem {
	state := c.engine.RuntimeState()
	items := make([]ActivityItem, 0, len(state))
	for _, s := range state {
		d, _ := panel.Lookup(s.ID)
		items = append(items, ActivityItem{ID: s.ID, Title: d.Title, Open: s.IsOpen, Visible: s.IsVisible})
	}
	return items
}

// ClickActivity toggles a panel from the activity bar.
func (c *Coordinator) ClickActivity(id panel.ID) layout.ToggleResult {
	return c.engine.TogglePanel(id)
}

// Unmount stops event routing, cancels a pending resize and flushes the
// pending layout write.
func (c *Coordinator) Unmount() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	disposers := c.disposers
	c.disposers = nil
	c.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	c.resizer.Cancel()
	c.engine.Close()
	c.log.Info("workspace_unmounted")
}
