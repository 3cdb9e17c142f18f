package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/asheshgoplani/panedeck/internal/events"
	"github.com/asheshgoplani/panedeck/internal/files"
	"github.com/asheshgoplani/panedeck/internal/git"
	"github.com/asheshgoplani/panedeck/internal/panel"
	"github.com/asheshgoplani/panedeck/internal/workspace"
)

type workspaceView struct {
	ProjectID   string                   `json:"projectId"`
	ProjectPath string                   `json:"projectPath"`
	Focused     bool                     `json:"focused"`
	Empty       bool                     `json:"empty"`
	Panels      []workspace.ActivityItem `json:"panels"`
	Layout      json.RawMessage          `json:"layout,omitempty"`
}

type mountRequest struct {
	ProjectPath string `json:"projectPath"`
}

type resizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type panelSizeRequest struct {
	Size int `json:"size"`
}

type openFileRequest struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
}

type gitStatusResponse struct {
	ProjectID string      `json:"projectId"`
	Status    *git.Status `json:"status"`
	Staged    int         `json:"staged"`
	Untracked int         `json:"untracked"`
}

type filesResponse struct {
	ProjectID string        `json:"projectId"`
	Entries   []files.Entry `json:"entries"`
}

func (s *Server) view(c *workspace.Coordinator) workspaceView {
	projectID, projectPath := c.Project()
	v := workspaceView{
		ProjectID:   projectID,
		ProjectPath: projectPath,
		Focused:     s.cfg.Workspaces.Focused() == projectID,
		Empty:       c.Engine().IsEmpty(),
		Panels:      c.ActivityBar(),
	}
	if doc, err := c.Engine().Document(); err == nil {
		v.Layout = doc
	}
	return v
}

// workspace looks up the mounted workspace named in the path, writing a 404
// when there is none.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*workspace.Coordinator, bool) {
	c, ok := s.cfg.Workspaces.Get(r.PathValue("projectID"))
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "workspace is not mounted")
		return nil, false
	}
	return c, true
}

// resolvePanel accepts a panel id or a fuzzy match of one.
func resolvePanel(name string) (panel.ID, bool) {
	if d, ok := panel.Lookup(panel.ID(name)); ok {
		return d.ID, true
	}
	if d, ok := panel.Find(name); ok {
		return d.ID, true
	}
	return "", false
}

func (s *Server) handleMountWorkspace(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	var req mountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProjectPath) == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "projectPath is required")
		return
	}

	c, created := s.cfg.Workspaces.Open(r.Context(), workspace.MountOptions{
		ProjectID:   projectID,
		ProjectPath: req.ProjectPath,
		OnOpenFile: func(e events.OpenFileEvent) {
			s.log.Debug("open_file", slog.String("project", projectID), slog.String("path", e.Path), slog.Int("line", e.Line))
		},
	})
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, s.view(c))
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleUnmountWorkspace(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Workspaces.Close(r.PathValue("projectID")) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "workspace is not mounted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateWorkspace(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.cfg.Workspaces.Focus(r.Context(), r.PathValue("projectID"))
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleTogglePanel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	id, ok := resolvePanel(r.PathValue("panel"))
	if !ok {
		writeAPIError(w, http.StatusNotFound, "UNKNOWN_PANEL", "no such panel")
		return
	}
	result := c.ClickActivity(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"panel":  id,
		"result": result.String(),
		"panels": c.ActivityBar(),
	})
}

func (s *Server) handleFocusPanel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	id, ok := resolvePanel(r.PathValue("panel"))
	if !ok {
		writeAPIError(w, http.StatusNotFound, "UNKNOWN_PANEL", "no such panel")
		return
	}
	c.FocusPanel(id)
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleResizePanel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	id, ok := resolvePanel(r.PathValue("panel"))
	if !ok {
		writeAPIError(w, http.StatusNotFound, "UNKNOWN_PANEL", "no such panel")
		return
	}
	var req panelSizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Size <= 0 {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "size must be positive")
		return
	}
	if !c.Engine().ResizePanel(id, req.Size) {
		writeAPIError(w, http.StatusConflict, "PANEL_NOT_OPEN", "panel is not open in this workspace")
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleResetLayout(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	c.Engine().ResetToDefault(r.Context())
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleResizeWorkspace(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req resizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "width and height must be positive")
		return
	}
	c.ContainerResized(req.Width, req.Height)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleOpenFile(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req openFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "path is required")
		return
	}
	delivered := c.OpenFile(req.Path, req.Line)
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

func (s *Server) handleGitStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	view := c.GitStatus()
	if view == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "GIT_UNAVAILABLE", "git status is not configured")
		return
	}
	res := view.Fetch(r.Context())
	if res.ProjectID == "" {
		writeAPIError(w, http.StatusServiceUnavailable, "GIT_UNAVAILABLE", "workspace has no project")
		return
	}
	if res.Err != nil {
		if errors.Is(res.Err, git.ErrNotRepo) {
			writeAPIError(w, http.StatusNotFound, "NOT_A_REPOSITORY", "project is not a git repository")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "GIT_STATUS_FAILED", "failed to read git status")
		return
	}
	resp := gitStatusResponse{ProjectID: res.ProjectID, Status: res.Status}
	if res.Status != nil {
		for _, f := range res.Status.Files {
			if f.Staged() {
				resp.Staged++
			}
			if f.Untracked() {
				resp.Untracked++
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if s.cfg.Cache == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "directory listing is not configured")
		return
	}
	projectID, projectPath := c.Project()
	entries, err := s.cfg.Cache.Listing(r.Context(), projectID, projectPath)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list project directory")
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{ProjectID: projectID, Entries: entries})
}
