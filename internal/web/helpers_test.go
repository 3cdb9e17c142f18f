package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/asheshgoplani/panedeck/internal/ptyhost"
	"github.com/asheshgoplani/panedeck/internal/statedb"
	"github.com/asheshgoplani/panedeck/internal/workspace"
)

// echoPTY is an in-memory PTY host that echoes input back as output.
type echoPTY struct {
	mu       sync.Mutex
	alive    map[string]bool
	pending  map[string]string
	subs     map[string]func([]byte)
	killed   []string
	watched  map[string]bool
	detached func(string)
}

func newEchoPTY() *echoPTY {
	return &echoPTY{
		alive:   make(map[string]bool),
		pending: make(map[string]string),
		subs:    make(map[string]func([]byte)),
		watched: make(map[string]bool),
	}
}

func (p *echoPTY) Create(_ context.Context, id, _ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive[id] = true
	return true
}

func (p *echoPTY) Write(id string, data []byte) error {
	p.mu.Lock()
	fn := p.subs[id]
	alive := p.alive[id]
	p.mu.Unlock()
	if !alive {
		return errors.New("not alive")
	}
	p.output(id, fn, data)
	return nil
}

func (p *echoPTY) output(id string, fn func([]byte), data []byte) {
	if fn != nil {
		fn(data)
		return
	}
	p.mu.Lock()
	p.pending[id] += string(data)
	hook := p.detached
	watched := p.watched[id]
	p.mu.Unlock()
	if hook != nil && watched {
		hook(id)
	}
}

// emit produces shell output for id.
func (p *echoPTY) emit(id, data string) {
	p.mu.Lock()
	fn := p.subs[id]
	p.mu.Unlock()
	p.output(id, fn, []byte(data))
}

// leave simulates a surface that attached to id and went away.
func (p *echoPTY) leave(t *testing.T, id string) {
	t.Helper()
	dispose, err := p.Subscribe(id, func([]byte) {})
	if err != nil {
		t.Fatalf("subscribe %s: %v", id, err)
	}
	dispose()
}

func (p *echoPTY) Resize(string, int, int) error { return nil }

func (p *echoPTY) Exists(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[id]
}

func (p *echoPTY) Reconnect(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive[id] {
		return "", false
	}
	data := p.pending[id]
	delete(p.pending, id)
	return data, true
}

func (p *echoPTY) Kill(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.alive, id)
	p.killed = append(p.killed, id)
	return nil
}

func (p *echoPTY) Subscribe(id string, fn func([]byte)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive[id] {
		return nil, errors.New("not alive")
	}
	p.subs[id] = fn
	p.watched[id] = true
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}, nil
}

func (p *echoPTY) OnDetachedOutput(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = fn
}

func (p *echoPTY) List() []ptyhost.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ptyhost.Info
	for id := range p.alive {
		out = append(out, ptyhost.Info{ID: id})
	}
	return out
}

func (p *echoPTY) killedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.killed...)
}

type memBuffers struct {
	mu      sync.Mutex
	content map[string]string
}

func (b *memBuffers) SaveBuffer(_ context.Context, id, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.content == nil {
		b.content = make(map[string]string)
	}
	if content == "" {
		delete(b.content, id)
		return nil
	}
	b.content[id] = content
	return nil
}

func (b *memBuffers) LoadBuffer(_ context.Context, id string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.content[id]
	return c, ok, nil
}

func (b *memBuffers) get(id string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.content[id]
	return c, ok
}

type unreadRecorder struct {
	mu     sync.Mutex
	marked []string
}

func (u *unreadRecorder) MarkUnread(_ context.Context, subject, kind string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.marked = append(u.marked, kind+":"+subject)
	return nil
}

func (u *unreadRecorder) ListUnread(context.Context) ([]*statedb.UnreadRow, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*statedb.UnreadRow, 0, len(u.marked))
	for _, m := range u.marked {
		kind, subject, _ := strings.Cut(m, ":")
		out = append(out, &statedb.UnreadRow{Subject: subject, Kind: kind})
	}
	return out, nil
}

func (u *unreadRecorder) list() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.marked...)
}

type testServer struct {
	srv     *Server
	pty     *echoPTY
	buffers *memBuffers
	unread  *unreadRecorder
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	ts := &testServer{
		pty:     newEchoPTY(),
		buffers: &memBuffers{},
		unread:  &unreadRecorder{},
	}
	ts.srv = NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Token:      token,
		Workspaces: workspace.NewManager(workspace.Deps{}, nil),
		PTY:        ts.pty,
		Buffers:    ts.buffers,
		Unread:     ts.unread,
	})
	t.Cleanup(func() { ts.srv.cfg.Workspaces.CloseAll() })
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	return rr
}
