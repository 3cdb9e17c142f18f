package workspace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/panedeck/internal/git"
	"github.com/asheshgoplani/panedeck/internal/logging"
)

// GitStatusView holds the git status shown for the active project. Every
// fetch takes a generation; a result whose generation has moved on, or whose
// project is no longer active, is dropped.
type GitStatusView struct {
	cache *Cache
	log   *slog.Logger

	mu        sync.Mutex
	gen       uint64
	projectID string
	dir       string
	status    *git.Status
	err       error
}

// NewGitStatusView returns a view with no project.
func NewGitStatusView(cache *Cache) *GitStatusView {
	return &GitStatusView{cache: cache, log: logging.ForComponent(logging.CompWorkspace)}
}

// SetProject switches the view to another project and clears the status.
func (v *GitStatusView) SetProject(projectID, dir string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.projectID == projectID && v.dir == dir {
		return
	}
	v.gen++
	v.projectID, v.dir = projectID, dir
	v.status, v.err = nil, nil
}

// GitFetch is the outcome of one status fetch.
type GitFetch struct {
	ProjectID string
	Status    *git.Status
	Err       error
	// Applied is false when a newer fetch or a project switch superseded
	// this one; the view then keeps the newer state.
	Applied bool
}

// Fetch reads the status of the active project and applies it if still
// current. The result is returned either way so a caller can answer its own
// request without waiting for the fetch that superseded it.
func (v *GitStatusView) Fetch(ctx context.Context) GitFetch {
	v.mu.Lock()
	v.gen++
	gen, projectID, dir := v.gen, v.projectID, v.dir
	v.mu.Unlock()
	if projectID == "" {
		return GitFetch{}
	}

	st, err := v.cache.GitStatus(ctx, projectID, dir)
	res := GitFetch{ProjectID: projectID, Status: st, Err: err}

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || projectID != v.projectID {
		v.log.Debug("git_status_discarded", slog.String("project", projectID))
		return res
	}
	v.status, v.err = st, err
	res.Applied = true
	return res
}

// Refresh fetches the status and reports whether the result was applied.
func (v *GitStatusView) Refresh(ctx context.Context) bool {
	return v.Fetch(ctx).Applied
}

// Current returns the applied status of the active project.
func (v *GitStatusView) Current() (projectID string, status *git.Status, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.projectID, v.status, v.err
}
