package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/dock"
	"github.com/asheshgoplani/panedeck/internal/events"
	"github.com/asheshgoplani/panedeck/internal/files"
	"github.com/asheshgoplani/panedeck/internal/git"
	"github.com/asheshgoplani/panedeck/internal/layout"
	"github.com/asheshgoplani/panedeck/internal/panel"
)

type layoutStore struct {
	mu    sync.Mutex
	saves map[string]json.RawMessage
	count int
}

func (s *layoutStore) SaveLayout(_ context.Context, projectID string, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saves == nil {
		s.saves = make(map[string]json.RawMessage)
	}
	s.saves[projectID] = doc
	s.count++
	return nil
}

func (s *layoutStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

type badgeRecorder struct {
	mu        sync.Mutex
	dismissed [][]string
	err       error
}

func (b *badgeRecorder) DismissUnread(_ context.Context, subjects ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dismissed = append(b.dismissed, subjects)
	return b.err
}

func (b *badgeRecorder) calls() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.dismissed...)
}

type fakeGit struct {
	calls atomic.Int32
	// block, when set, holds each call until it is closed.
	block chan struct{}
	// started receives the dir of each call once it begins.
	started chan string
	err     error
}

func (g *fakeGit) Status(ctx context.Context, dir string) (*git.Status, error) {
	g.calls.Add(1)
	if g.started != nil {
		g.started <- dir
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &git.Status{Branch: filepath.Base(dir), Files: []git.FileStatus{}}, nil
}

type fakeDirs struct {
	calls atomic.Int32
}

func (d *fakeDirs) ListDir(_ context.Context, root string, _ int) ([]files.Entry, error) {
	d.calls.Add(1)
	return []files.Entry{{Path: filepath.Base(root) + ".txt"}}, nil
}

type env struct {
	clock  *clock.FakeClock
	bus    *events.Bus
	store  *layoutStore
	badges *badgeRecorder
	git    *fakeGit
	dirs   *fakeDirs
	cache  *Cache
	deps   Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:  clock.Fake(time.Unix(1000, 0)),
		bus:    events.New(),
		store:  &layoutStore{},
		badges: &badgeRecorder{},
		git:    &fakeGit{},
		dirs:   &fakeDirs{},
	}
	e.cache = NewCache(e.git, e.dirs, e.clock, 30*time.Second)
	e.deps = Deps{
		Bus:         e.bus,
		Persistence: e.store,
		Badges:      e.badges,
		Cache:       e.cache,
		Clock:       e.clock,
		Layout:      config.LayoutSettings{}.Resolve(),
	}
	return e
}

func visibleSet(c *Coordinator) map[panel.ID]bool {
	out := make(map[panel.ID]bool)
	for _, item := range c.ActivityBar() {
		if item.Visible {
			out[item.ID] = true
		}
	}
	return out
}

func TestMount_DefaultLayoutAndBadges(t *testing.T) {
	e := newEnv(t)
	c := Mount(context.Background(), e.deps, MountOptions{ProjectID: "proj", ProjectPath: "/src/proj"}, nil)
	defer c.Unmount()

	assert.Equal(t, map[panel.ID]bool{panel.Directory: true, panel.Kanban: true, panel.Terminal: true}, visibleSet(c))
	assert.Equal(t, [][]string{{"proj", "proj-term-0"}}, e.badges.calls())
}

func TestMount_BadgeFailureIsLogged(t *testing.T) {
	e := newEnv(t)
	e.badges.err = errors.New("db closed")
	c := Mount(context.Background(), e.deps, MountOptions{ProjectID: "proj"}, nil)
	defer c.Unmount()
	assert.False(t, c.Engine().IsEmpty())
}

func TestFocusPanelEvent(t *testing.T) {
	e := newEnv(t)
	c := Mount(context.Background(), e.deps, MountOptions{ProjectID: "proj", ProjectPath: "/src/proj"}, nil)
	defer c.Unmount()

	events.Publish(e.bus, events.FocusPanel, events.FocusPanelEvent{ProjectID: "other", Panel: panel.Git})
	assert.False(t, visibleSet(c)[panel.Git], "events for another project are ignored")

	c.FocusPanel(panel.Git)
	assert.True(t, visibleSet(c)[panel.Git])
	assert.False(t, visibleSet(c)[panel.Directory])

	events.Publish(e.bus, events.FocusPanel, events.FocusPanelEvent{Panel: "nope"})
	assert.Len(t, visibleSet(c), 3)
}

func TestOpenFileEvent(t *testing.T) {
	e := newEnv(t)
	var opened []events.OpenFileEvent
	c := Mount(context.Background(), e.deps, MountOptions{
		ProjectID:   "proj",
		ProjectPath: "/src/proj",
		OnOpenFile:  func(ev events.OpenFileEvent) { opened = append(opened, ev) },
	}, nil)
	defer c.Unmount()

	events.Publish(e.bus, events.OpenFile, events.OpenFileEvent{ProjectID: "other", Path: "/x"})
	assert.Empty(t, opened)

	assert.Equal(t, 1, c.OpenFile("/src/proj/main.go", 7))
	assert.Equal(t, []events.OpenFileEvent{{ProjectID: "proj", Path: "/src/proj/main.go", Line: 7}}, opened)
	assert.True(t, visibleSet(c)[panel.Editor])
}

func TestContainerResized_Debounced(t *testing.T) {
	e := newEnv(t)
	c := Mount(context.Background(), e.deps, MountOptions{ProjectID: "proj"}, nil)
	defer c.Unmount()

	c.ContainerResized(1200, 800)
	e.clock.Advance(50 * time.Millisecond)
	c.ContainerResized(1000, 700)
	e.clock.Advance(50 * time.Millisecond)

	raw, err := c.Engine().Document()
	require.NoError(t, err)
	doc, err := dock.ParseDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, 1440, doc.Width, "not applied before the burst settles")

	e.clock.Advance(100 * time.Millisecond)
	raw, err = c.Engine().Document()
	require.NoError(t, err)
	doc, err = dock.ParseDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, 1000, doc.Width)
	assert.Equal(t, 700, doc.Height)
}

func TestUnmount_FlushesAndStopsRouting(t *testing.T) {
	e := newEnv(t)
	c := Mount(context.Background(), e.deps, MountOptions{ProjectID: "proj"}, nil)
	e.clock.Advance(5 * time.Second)
	before := e.store.writes()

	c.ClickActivity(panel.Terminal)
	c.ContainerResized(900, 600)
	c.Unmount()

	assert.Equal(t, before+1, e.store.writes(), "pending write flushed")
	assert.Equal(t, 0, events.Subscribers(e.bus, events.FocusPanel))
	assert.Equal(t, 0, events.Subscribers(e.bus, events.OpenFile))

	e.clock.Advance(time.Second)
	assert.Equal(t, before+1, e.store.writes(), "cancelled resize does not write")
}

func TestSetProject(t *testing.T) {
	e := newEnv(t)
	c := Mount(context.Background(), e.deps, MountOptions{ProjectID: "a", ProjectPath: "/src/a"}, nil)
	defer c.Unmount()

	c.SetProject(context.Background(), "b", "/src/b")

	params, ok := c.Engine().PanelParams(panel.Terminal)
	require.True(t, ok)
	assert.Equal(t, "b-term-0", params["terminalId"])
	assert.Equal(t, [][]string{{"a", "a-term-0"}, {"b", "b-term-0"}}, e.badges.calls())

	c.SetProject(context.Background(), "b", "/src/b")
	assert.Len(t, e.badges.calls(), 2, "no change, no dismissal")
}

func TestClickActivity(t *testing.T) {
	e := newEnv(t)
	c := Mount(context.Background(), e.deps, MountOptions{ProjectID: "proj"}, nil)
	defer c.Unmount()

	assert.Equal(t, layout.ToggleClosed, c.ClickActivity(panel.Terminal))
	assert.Equal(t, layout.ToggleAdded, c.ClickActivity(panel.Terminal))
	assert.Equal(t, layout.ToggleActivated, c.ClickActivity(panel.Editor))

	bar := c.ActivityBar()
	require.Len(t, bar, len(panel.All()))
	for _, item := range bar {
		assert.NotEmpty(t, item.Title)
		assert.True(t, item.Open)
	}
}

func TestGitStatusView_DiscardsAfterProjectChange(t *testing.T) {
	e := newEnv(t)
	e.git.block = make(chan struct{})
	e.git.started = make(chan string, 1)
	v := NewGitStatusView(e.cache)
	v.SetProject("a", "/src/a")

	done := make(chan bool)
	go func() { done <- v.Refresh(context.Background()) }()
	<-e.git.started

	v.SetProject("b", "/src/b")
	close(e.git.block)

	assert.False(t, <-done)
	projectID, st, err := v.Current()
	assert.Equal(t, "b", projectID)
	assert.Nil(t, st)
	assert.NoError(t, err)
}

func TestGitStatusView_SupersededFetchDiscarded(t *testing.T) {
	e := newEnv(t)
	e.git.block = make(chan struct{})
	e.git.started = make(chan string, 2)
	v := NewGitStatusView(e.cache)
	v.SetProject("a", "/src/a")

	first := make(chan bool)
	go func() { first <- v.Refresh(context.Background()) }()
	<-e.git.started

	second := make(chan bool)
	go func() { second <- v.Refresh(context.Background()) }()
	// The second refresh shares the in-flight fetch; give it time to take
	// its generation before the fetch completes.
	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.gen == 3
	}, time.Second, time.Millisecond)
	close(e.git.block)

	assert.False(t, <-first)
	assert.True(t, <-second)
	_, st, _ := v.Current()
	require.NotNil(t, st)
	assert.Equal(t, "a", st.Branch)
}

func TestGitStatusView_SupersededFetchStillReturnsItsResult(t *testing.T) {
	e := newEnv(t)
	e.git.block = make(chan struct{})
	e.git.started = make(chan string, 2)
	v := NewGitStatusView(e.cache)
	v.SetProject("a", "/src/a")

	first := make(chan GitFetch)
	go func() { first <- v.Fetch(context.Background()) }()
	<-e.git.started

	v.SetProject("b", "/src/b")
	close(e.git.block)

	res := <-first
	assert.False(t, res.Applied)
	assert.Equal(t, "a", res.ProjectID)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Status, "the caller gets the status it fetched")
	assert.Equal(t, "a", res.Status.Branch)

	projectID, st, _ := v.Current()
	assert.Equal(t, "b", projectID)
	assert.Nil(t, st, "the view keeps the newer project's state")
}

func TestGitStatusView_AppliesResult(t *testing.T) {
	e := newEnv(t)
	v := NewGitStatusView(e.cache)
	assert.False(t, v.Refresh(context.Background()), "no project")

	v.SetProject("proj", "/src/proj")
	require.True(t, v.Refresh(context.Background()))
	_, st, err := v.Current()
	require.NoError(t, err)
	assert.Equal(t, "proj", st.Branch)
}

func TestCache_FreshAndStale(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.cache.GitStatus(ctx, "p", "/src/p")
	require.NoError(t, err)
	_, err = e.cache.GitStatus(ctx, "p", "/src/p")
	require.NoError(t, err)
	assert.Equal(t, int32(1), e.git.calls.Load())

	gitStale, listingStale := e.cache.Stale("p")
	assert.False(t, gitStale)
	assert.True(t, listingStale)

	e.clock.Advance(31 * time.Second)
	_, err = e.cache.GitStatus(ctx, "p", "/src/p")
	require.NoError(t, err)
	assert.Equal(t, int32(2), e.git.calls.Load(), "stale copy falls back to a live fetch")

	_, err = e.cache.Listing(ctx, "p", "/src/p")
	require.NoError(t, err)
	e.cache.InvalidateListing("p")
	_, err = e.cache.Listing(ctx, "p", "/src/p")
	require.NoError(t, err)
	assert.Equal(t, int32(2), e.dirs.calls.Load())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	e := newEnv(t)
	e.git.err = git.ErrNotRepo
	_, err := e.cache.GitStatus(context.Background(), "p", "/src/p")
	assert.ErrorIs(t, err, git.ErrNotRepo)
	gitStale, _ := e.cache.Stale("p")
	assert.True(t, gitStale)
}

func TestManager_FocusAndBackground(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.deps, nil)
	ctx := context.Background()

	a, created := m.Open(ctx, MountOptions{ProjectID: "a", ProjectPath: "/src/a"})
	require.True(t, created)
	_, created = m.Open(ctx, MountOptions{ProjectID: "b", ProjectPath: "/src/b"})
	require.True(t, created)
	assert.Equal(t, "b", m.Focused())
	assert.Equal(t, []Project{{ID: "a", Path: "/src/a"}}, m.Background())

	again, created := m.Open(ctx, MountOptions{ProjectID: "a", ProjectPath: "/src/a"})
	assert.False(t, created)
	assert.Same(t, a, again)
	assert.Equal(t, "a", m.Focused())

	calls := e.badges.calls()
	assert.Equal(t, []string{"a", "a-term-0"}, calls[len(calls)-1], "focus change dismisses badges")

	assert.True(t, m.Focus(ctx, "a"))
	assert.Len(t, e.badges.calls(), len(calls), "same focus, no dismissal")
	assert.False(t, m.Focus(ctx, "missing"))

	m.CloseAll()
	assert.Empty(t, m.Background())
}

func TestManager_ReopenKeepsLayout(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.deps, nil)
	ctx := context.Background()

	c, _ := m.Open(ctx, MountOptions{ProjectID: "a", ProjectPath: "/src/a"})
	c.ClickActivity(panel.Terminal)
	require.True(t, m.Close("a"))
	assert.False(t, m.Close("a"))

	c, created := m.Open(ctx, MountOptions{ProjectID: "a", ProjectPath: "/src/a"})
	require.True(t, created)
	defer m.CloseAll()
	assert.False(t, visibleSet(c)[panel.Terminal])
}

func TestManager_UsesStartupLayouts(t *testing.T) {
	e := newEnv(t)
	seed := Mount(context.Background(), e.deps, MountOptions{ProjectID: "a"}, nil)
	seed.ClickActivity(panel.Directory)
	doc, err := seed.Engine().Document()
	require.NoError(t, err)
	seed.Unmount()

	m := NewManager(e.deps, map[string]json.RawMessage{"a": doc})
	c, _ := m.Open(context.Background(), MountOptions{ProjectID: "a"})
	defer m.CloseAll()
	assert.False(t, visibleSet(c)[panel.Directory])
}

func TestPrefetcher_TickRefreshesBackgroundProjects(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.deps, nil)
	ctx := context.Background()
	m.Open(ctx, MountOptions{ProjectID: "a", ProjectPath: "/src/a"})
	m.Open(ctx, MountOptions{ProjectID: "b", ProjectPath: "/src/b"})
	m.Open(ctx, MountOptions{ProjectID: "c", ProjectPath: "/src/c"})
	defer m.CloseAll()

	p := NewPrefetcher(e.cache, m, config.PrefetchSettings{}.Resolve())
	defer p.Close()
	p.limiter.SetLimit(1000)

	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, int32(2), e.git.calls.Load(), "focused project c is skipped")
	assert.Equal(t, int32(2), e.dirs.calls.Load())

	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, int32(2), e.git.calls.Load(), "fresh copies are kept")

	e.clock.Advance(31 * time.Second)
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, int32(4), e.git.calls.Load())
	assert.Equal(t, int32(4), e.dirs.calls.Load())
}

func TestPrefetcher_FailuresDoNotStopPass(t *testing.T) {
	e := newEnv(t)
	e.git.err = errors.New("git exploded")
	m := NewManager(e.deps, nil)
	ctx := context.Background()
	m.Open(ctx, MountOptions{ProjectID: "a", ProjectPath: "/src/a"})
	m.Open(ctx, MountOptions{ProjectID: "b", ProjectPath: "/src/b"})
	defer m.CloseAll()

	p := NewPrefetcher(e.cache, m, config.PrefetchSettings{}.Resolve())
	defer p.Close()
	p.limiter.SetLimit(1000)

	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, int32(1), e.dirs.calls.Load())
}

func TestPrefetcher_DirectoryChangeInvalidatesListing(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	ctx := context.Background()
	p := NewPrefetcher(e.cache, NewManager(e.deps, nil), config.PrefetchSettings{}.Resolve())
	defer p.Close()

	_, err := e.cache.Listing(ctx, "a", dir)
	require.NoError(t, err)
	p.Watch("a", dir)

	p.HandleEvent(fsnotify.Event{Name: filepath.Join(dir, "new.go"), Op: fsnotify.Chmod})
	_, listingStale := e.cache.Stale("a")
	assert.False(t, listingStale)

	p.HandleEvent(fsnotify.Event{Name: filepath.Join(dir, "new.go"), Op: fsnotify.Create})
	_, listingStale = e.cache.Stale("a")
	assert.True(t, listingStale)

	_, err = e.cache.Listing(ctx, "a", dir)
	require.NoError(t, err)
	p.Unwatch(dir)
	p.HandleEvent(fsnotify.Event{Name: filepath.Join(dir, "other.go"), Op: fsnotify.Create})
	_, listingStale = e.cache.Stale("a")
	assert.False(t, listingStale)
}

func TestPrefetcher_DisabledRunReturns(t *testing.T) {
	e := newEnv(t)
	off := false
	p := NewPrefetcher(e.cache, NewManager(e.deps, nil), config.PrefetchSettings{Enabled: &off}.Resolve())
	defer p.Close()
	assert.NoError(t, p.Run(context.Background()))
}
