package web

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/panedeck/internal/terminal"
)

type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WriteBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// terminalEntry is one terminal's controller and the connection currently
// rendering it. mu serializes mounts and unmounts so a closing connection
// cannot unmount the surface of the one that replaced it.
type terminalEntry struct {
	ctrl *terminal.Controller

	mu    sync.Mutex
	owner string
}

// terminalRegistry keeps one controller per terminal id across websocket
// connections.
type terminalRegistry struct {
	newController func(terminalID, projectID, projectPath string) *terminal.Controller

	mu      sync.Mutex
	entries map[string]*terminalEntry
}

func newTerminalRegistry(newController func(terminalID, projectID, projectPath string) *terminal.Controller) *terminalRegistry {
	return &terminalRegistry{
		newController: newController,
		entries:       make(map[string]*terminalEntry),
	}
}

func (r *terminalRegistry) entry(terminalID, projectID, projectPath string) *terminalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[terminalID]
	if !ok || e.ctrl.State() == terminal.Killed {
		e = &terminalEntry{ctrl: r.newController(terminalID, projectID, projectPath)}
		r.entries[terminalID] = e
	}
	return e
}

// attach mounts surface for owner, replacing any other connection's surface.
func (r *terminalRegistry) attach(ctx context.Context, terminalID, projectID, projectPath, owner string, surface terminal.Surface) *terminal.Controller {
	e := r.entry(terminalID, projectID, projectPath)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.owner = owner
	e.ctrl.Mount(ctx, surface)
	return e.ctrl
}

// release unmounts the terminal if owner still renders it.
func (r *terminalRegistry) release(ctx context.Context, terminalID, owner string) {
	r.mu.Lock()
	e, ok := r.entries[terminalID]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner != owner {
		return
	}
	e.owner = ""
	e.ctrl.Unmount(ctx)
}

// owns reports whether owner still renders the terminal.
func (r *terminalRegistry) owns(terminalID, owner string) bool {
	r.mu.Lock()
	e, ok := r.entries[terminalID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner == owner
}

// close kills the terminal and forgets it.
func (r *terminalRegistry) close(ctx context.Context, terminalID string) {
	r.mu.Lock()
	e, ok := r.entries[terminalID]
	delete(r.entries, terminalID)
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.owner = ""
	e.ctrl.CloseTab(ctx)
}

func (r *terminalRegistry) unmountAll(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*terminalEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		e.mu.Lock()
		e.owner = ""
		e.ctrl.Unmount(ctx)
		e.mu.Unlock()
	}
}

func (r *terminalRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
