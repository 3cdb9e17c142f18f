package workspace

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/files"
	"github.com/asheshgoplani/panedeck/internal/git"
)

// GitStatusSource reads a repository's working tree status.
type GitStatusSource interface {
	Status(ctx context.Context, dir string) (*git.Status, error)
}

// DirLister lists a project directory.
type DirLister interface {
	ListDir(ctx context.Context, root string, depth int) ([]files.Entry, error)
}

// listingDepth is how deep the directory panel's first render goes.
const listingDepth = 2

type cacheEntry struct {
	status    *git.Status
	statusAt  time.Time
	listing   []files.Entry
	listingAt time.Time
}

// Cache holds the last git status and directory listing of each project.
// Reads older than maxAge fall through to a live fetch; concurrent fetches
// for the same project and kind share one call.
type Cache struct {
	git    GitStatusSource
	dirs   DirLister
	clock  clock.Clock
	maxAge time.Duration

	sf singleflight.Group

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewCache returns an empty cache.
func NewCache(gitSource GitStatusSource, dirs DirLister, c clock.Clock, maxAge time.Duration) *Cache {
	if c == nil {
		c = clock.Real()
	}
	return &Cache{
		git:     gitSource,
		dirs:    dirs,
		clock:   c,
		maxAge:  maxAge,
		entries: make(map[string]*cacheEntry),
	}
}

func (c *Cache) entry(projectID string) *cacheEntry {
	e, ok := c.entries[projectID]
	if !ok {
		e = &cacheEntry{}
		c.entries[projectID] = e
	}
	return e
}

func (c *Cache) fresh(at time.Time) bool {
	return !at.IsZero() && c.clock.Now().Sub(at) < c.maxAge
}

// GitStatus returns the cached status when fresh and fetches it otherwise.
func (c *Cache) GitStatus(ctx context.Context, projectID, dir string) (*git.Status, error) {
	c.mu.RLock()
	if e, ok := c.entries[projectID]; ok && e.status != nil && c.fresh(e.statusAt) {
		st := e.status
		c.mu.RUnlock()
		return st, nil
	}
	c.mu.RUnlock()
	return c.RefreshGitStatus(ctx, projectID, dir)
}

// RefreshGitStatus fetches and stores the status regardless of age.
func (c *Cache) RefreshGitStatus(ctx context.Context, projectID, dir string) (*git.Status, error) {
	v, err, _ := c.sf.Do("git:"+projectID, func() (interface{}, error) {
		st, err := c.git.Status(ctx, dir)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		e := c.entry(projectID)
		e.status, e.statusAt = st, c.clock.Now()
		c.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*git.Status), nil
}

// Listing returns the cached directory listing when fresh and fetches it
// otherwise.
func (c *Cache) Listing(ctx context.Context, projectID, dir string) ([]files.Entry, error) {
	c.mu.RLock()
	if e, ok := c.entries[projectID]; ok && e.listing != nil && c.fresh(e.listingAt) {
		l := e.listing
		c.mu.RUnlock()
		return l, nil
	}
	c.mu.RUnlock()
	return c.RefreshListing(ctx, projectID, dir)
}

// RefreshListing fetches and stores the listing regardless of age.
func (c *Cache) RefreshListing(ctx context.Context, projectID, dir string) ([]files.Entry, error) {
	v, err, _ := c.sf.Do("dir:"+projectID, func() (interface{}, error) {
		l, err := c.dirs.ListDir(ctx, dir, listingDepth)
		if err != nil {
			return nil, err
		}
		if l == nil {
			l = []files.Entry{}
		}
		c.mu.Lock()
		e := c.entry(projectID)
		e.listing, e.listingAt = l, c.clock.Now()
		c.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]files.Entry), nil
}

// Stale reports which cached copies of a project are missing or older than
// maxAge.
func (c *Cache) Stale(projectID string) (gitStale, listingStale bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[projectID]
	if !ok {
		return true, true
	}
	return !c.fresh(e.statusAt), !c.fresh(e.listingAt)
}

// InvalidateListing marks a project's listing stale.
func (c *Cache) InvalidateListing(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[projectID]; ok {
		e.listingAt = time.Time{}
	}
}

// Forget drops everything cached for a project.
func (c *Cache) Forget(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, projectID)
}
