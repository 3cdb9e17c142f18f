package workspace

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/asheshgoplani/panedeck/internal/events"
	"github.com/asheshgoplani/panedeck/internal/logging"
)

// Manager keeps the open workspaces of a host and tracks which one has focus.
type Manager struct {
	deps Deps
	log  *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Coordinator
	layouts    map[string]json.RawMessage
	focused    string
	prefetcher *Prefetcher
}

// NewManager returns a manager seeded with the layouts loaded at startup.
func NewManager(deps Deps, layouts map[string]json.RawMessage) *Manager {
	if layouts == nil {
		layouts = make(map[string]json.RawMessage)
	}
	if deps.Bus == nil {
		deps.Bus = events.New()
	}
	return &Manager{
		deps:       deps,
		log:        logging.ForComponent(logging.CompWorkspace),
		workspaces: make(map[string]*Coordinator),
		layouts:    layouts,
	}
}

// Bus returns the event bus shared by every workspace of the host.
func (m *Manager) Bus() *events.Bus { return m.deps.Bus }

// AttachPrefetcher lets open workspaces register their roots for change
// watching.
func (m *Manager) AttachPrefetcher(p *Prefetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefetcher = p
}

// Open mounts a project's workspace, or returns the mounted one, and focuses
// it. created reports whether a new workspace was mounted.
func (m *Manager) Open(ctx context.Context, opts MountOptions) (c *Coordinator, created bool) {
	m.mu.Lock()
	if existing, ok := m.workspaces[opts.ProjectID]; ok {
		m.mu.Unlock()
		m.Focus(ctx, opts.ProjectID)
		return existing, false
	}
	doc := m.layouts[opts.ProjectID]
	p := m.prefetcher
	m.mu.Unlock()

	c = Mount(ctx, m.deps, opts, doc)

	m.mu.Lock()
	if existing, ok := m.workspaces[opts.ProjectID]; ok {
		m.mu.Unlock()
		c.Unmount()
		return existing, false
	}
	m.workspaces[opts.ProjectID] = c
	m.focused = opts.ProjectID
	m.mu.Unlock()

	if p != nil {
		p.Watch(opts.ProjectID, opts.ProjectPath)
	}
	return c, true
}

// Get returns a mounted workspace.
func (m *Manager) Get(projectID string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.workspaces[projectID]
	return c, ok
}

// Focus makes projectID the active project and clears its badges when focus
// moves to it.
func (m *Manager) Focus(ctx context.Context, projectID string) bool {
	m.mu.Lock()
	c, ok := m.workspaces[projectID]
	changed := ok && m.focused != projectID
	if ok {
		m.focused = projectID
	}
	m.mu.Unlock()
	if changed {
		c.DismissBadges(ctx)
	}
	return ok
}

// Focused returns the active project id.
func (m *Manager) Focused() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// Background lists the open projects other than the focused one, by id.
func (m *Manager) Background() []Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Project, 0, len(m.workspaces))
	for id, c := range m.workspaces {
		if id == m.focused {
			continue
		}
		_, path := c.Project()
		out = append(out, Project{ID: id, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close unmounts a workspace. Its final layout is kept for a later Open.
func (m *Manager) Close(projectID string) bool {
	m.mu.Lock()
	c, ok := m.workspaces[projectID]
	if ok {
		delete(m.workspaces, projectID)
		if m.focused == projectID {
			m.focused = ""
		}
	}
	p := m.prefetcher
	m.mu.Unlock()
	if !ok {
		return false
	}

	c.Unmount()
	_, path := c.Project()
	if p != nil {
		p.Unwatch(path)
	}
	if m.deps.Cache != nil {
		m.deps.Cache.Forget(projectID)
	}

	doc, err := c.Engine().Document()
	m.mu.Lock()
	if err != nil || c.Engine().IsEmpty() {
		delete(m.layouts, projectID)
	} else {
		m.layouts[projectID] = doc
	}
	m.mu.Unlock()
	return true
}

// CloseAll unmounts every workspace.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}
