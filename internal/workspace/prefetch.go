package workspace

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/platform"
)

// Project identifies an open workspace.
type Project struct {
	ID   string
	Path string
}

// ProjectSource reports the open projects that do not have focus.
type ProjectSource interface {
	Background() []Project
}

// maxParallelFetches bounds the fetches one prefetch pass runs at once.
const maxParallelFetches = 2

// Prefetcher refreshes stale git status and directory listings of background
// projects while the user works in the focused one. It is a hint: a project
// it never reached is fetched live on first use.
type Prefetcher struct {
	cache    *Cache
	projects ProjectSource
	opts     config.PrefetchOptions
	limiter  *rate.Limiter
	log      *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]string // dir -> project id
}

// NewPrefetcher returns a prefetcher over cache. Directory watching is
// disabled when the platform watcher cannot be created.
func NewPrefetcher(cache *Cache, projects ProjectSource, opts config.PrefetchOptions) *Prefetcher {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	p := &Prefetcher{
		cache:    cache,
		projects: projects,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logging.ForComponent(logging.CompPrefetch),
		watched:  make(map[string]string),
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Warn("prefetch_watcher_unavailable", slog.String("error", err.Error()))
	} else {
		p.watcher = w
	}
	return p
}

// Watch invalidates the project's cached listing whenever its root
// directory changes.
func (p *Prefetcher) Watch(projectID, dir string) {
	if p.watcher == nil || dir == "" {
		return
	}
	dir = filepath.Clean(dir)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[dir]; ok {
		p.watched[dir] = projectID
		return
	}
	if ok, reason := platform.WatchSupport(dir); !ok {
		// Stale entries are still refreshed by the idle pass.
		p.log.Info("prefetch_watch_skipped", slog.String("dir", dir), slog.String("reason", reason))
		return
	}
	if err := p.watcher.Add(dir); err != nil {
		p.log.Debug("prefetch_watch_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}
	p.watched[dir] = projectID
}

// Unwatch stops watching dir.
func (p *Prefetcher) Unwatch(dir string) {
	if p.watcher == nil || dir == "" {
		return
	}
	dir = filepath.Clean(dir)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[dir]; !ok {
		return
	}
	delete(p.watched, dir)
	_ = p.watcher.Remove(dir)
}

// Tick runs one prefetch pass over every background project.
func (p *Prefetcher) Tick(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)

	for _, proj := range p.projects.Background() {
		gitStale, listingStale := p.cache.Stale(proj.ID)
		if gitStale {
			g.Go(func() error {
				return p.fetch(gctx, proj, "git", func(ctx context.Context) error {
					_, err := p.cache.RefreshGitStatus(ctx, proj.ID, proj.Path)
					return err
				})
			})
		}
		if listingStale {
			g.Go(func() error {
				return p.fetch(gctx, proj, "listing", func(ctx context.Context) error {
					_, err := p.cache.RefreshListing(ctx, proj.ID, proj.Path)
					return err
				})
			})
		}
	}
	return g.Wait()
}

// fetch waits for the rate limiter and runs fn. Only cancellation is
// returned; fetch failures are logged so one broken project does not stop
// the pass.
func (p *Prefetcher) fetch(ctx context.Context, proj Project, kind string, fn func(context.Context) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Aggregate(logging.CompPrefetch, "prefetch_failed",
			slog.String("project", proj.ID), slog.String("kind", kind))
		return nil
	}
	p.log.Debug("prefetched", slog.String("project", proj.ID), slog.String("kind", kind))
	return nil
}

// Run prefetches every idle interval and applies directory change events
// until ctx is done.
func (p *Prefetcher) Run(ctx context.Context) error {
	if !p.opts.Enabled {
		p.log.Info("prefetch_disabled")
		return nil
	}
	ticker := time.NewTicker(p.opts.IdleInterval)
	defer ticker.Stop()

	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
	)
	if p.watcher != nil {
		fsEvents, fsErrors = p.watcher.Events, p.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("prefetch_pass_failed", slog.String("error", err.Error()))
			}
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			p.HandleEvent(event)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			p.log.Debug("prefetch_watch_error", slog.String("error", err.Error()))
		}
	}
}

// HandleEvent marks the listing of the project owning event's directory
// stale.
func (p *Prefetcher) HandleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
		return
	}
	p.mu.Lock()
	projectID, ok := p.watched[filepath.Dir(event.Name)]
	if !ok {
		projectID, ok = p.watched[filepath.Clean(event.Name)]
	}
	p.mu.Unlock()
	if ok {
		p.cache.InvalidateListing(projectID)
	}
}

// Close stops directory watching.
func (p *Prefetcher) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}
