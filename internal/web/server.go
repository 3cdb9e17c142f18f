package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/panel"
	"github.com/asheshgoplani/panedeck/internal/ptyhost"
	"github.com/asheshgoplani/panedeck/internal/statedb"
	"github.com/asheshgoplani/panedeck/internal/terminal"
	"github.com/asheshgoplani/panedeck/internal/workspace"
)

// UnreadMarker raises "unread" badges.
type UnreadMarker interface {
	MarkUnread(ctx context.Context, subject, kind string) error
}

// unreadLister is implemented by badge stores that can enumerate pending
// badges.
type unreadLister interface {
	ListUnread(ctx context.Context) ([]*statedb.UnreadRow, error)
}

// terminalLister is implemented by PTY hosts that can enumerate live shells.
type terminalLister interface {
	List() []ptyhost.Info
}

// detachedNotifier is implemented by PTY hosts that report output produced
// while no surface is attached.
type detachedNotifier interface {
	OnDetachedOutput(fn func(terminalID string))
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Token      string

	Workspaces *workspace.Manager
	// Cache serves directory listings; nil disables the files endpoint.
	Cache   *workspace.Cache
	PTY     terminal.PTY
	Buffers terminal.BufferStore
	Files   terminal.FileSystem
	Unread  UnreadMarker

	Terminal config.TerminalOptions
	Clock    clock.Clock
}

// Server wraps an HTTP server exposing workspaces and terminal sockets.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
	terminals  *terminalRegistry
	log        *slog.Logger
}

// NewServer creates a new web server with routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8421"
	}
	if cfg.Workspaces == nil {
		cfg.Workspaces = workspace.NewManager(workspace.Deps{Clock: cfg.Clock}, nil)
	}
	if cfg.Terminal.MinCols == 0 {
		cfg.Terminal = config.TerminalSettings{}.Resolve()
	}

	s := &Server{
		cfg: cfg,
		log: logging.ForComponent(logging.CompWeb),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.terminals = newTerminalRegistry(s.newController)

	if n, ok := cfg.PTY.(detachedNotifier); ok && cfg.Unread != nil {
		n.OnDetachedOutput(s.markDetachedOutput)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws/terminal/{terminalID}", s.handleTerminalWS)
	mux.HandleFunc("GET /events/workspaces/{projectID}", s.handleWorkspaceEvents)
	mux.HandleFunc("POST /api/workspaces/{projectID}", s.handleMountWorkspace)
	mux.HandleFunc("GET /api/workspaces/{projectID}", s.handleGetWorkspace)
	mux.HandleFunc("DELETE /api/workspaces/{projectID}", s.handleUnmountWorkspace)
	mux.HandleFunc("POST /api/workspaces/{projectID}/activate", s.handleActivateWorkspace)
	mux.HandleFunc("POST /api/workspaces/{projectID}/toggle/{panel}", s.handleTogglePanel)
	mux.HandleFunc("POST /api/workspaces/{projectID}/focus/{panel}", s.handleFocusPanel)
	mux.HandleFunc("POST /api/workspaces/{projectID}/panels/{panel}/size", s.handleResizePanel)
	mux.HandleFunc("POST /api/workspaces/{projectID}/reset", s.handleResetLayout)
	mux.HandleFunc("POST /api/workspaces/{projectID}/resize", s.handleResizeWorkspace)
	mux.HandleFunc("POST /api/workspaces/{projectID}/open", s.handleOpenFile)
	mux.HandleFunc("GET /api/workspaces/{projectID}/git", s.handleGitStatus)
	mux.HandleFunc("GET /api/workspaces/{projectID}/files", s.handleListFiles)
	mux.HandleFunc("GET /api/terminals", s.handleListTerminals)
	mux.HandleFunc("GET /api/unread", s.handleListUnread)

	handler := withRecover(s.withAuth(mux))

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("server_listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. Attached terminals are unmounted so
// their screens are captured; their shells keep running in the PTY host.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived handlers (SSE/WS) to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	s.terminals.unmountAll(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown. Force close
	// as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}

	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"focused":    s.cfg.Workspaces.Focused(),
		"background": len(s.cfg.Workspaces.Background()),
		"terminals":  s.terminals.count(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) newController(terminalID, projectID, projectPath string) *terminal.Controller {
	return terminal.NewController(terminal.Options{
		TerminalID:  terminalID,
		ProjectID:   projectID,
		ProjectPath: projectPath,
		PTY:         s.cfg.PTY,
		Buffers:     s.cfg.Buffers,
		Files:       s.cfg.Files,
		Bus:         s.cfg.Workspaces.Bus(),
		Clock:       s.cfg.Clock,
		Settings:    s.cfg.Terminal,
	})
}

// markDetachedOutput badges a terminal, and its project, that printed while
// nobody was watching.
func (s *Server) markDetachedOutput(terminalID string) {
	ctx := s.baseCtx
	if err := s.cfg.Unread.MarkUnread(ctx, terminalID, statedb.KindTerminal); err != nil {
		s.log.Warn("unread_mark_failed", slog.String("terminal", terminalID), slog.String("error", err.Error()))
		return
	}
	if projectID, _, ok := panel.ParseTerminalID(terminalID); ok && projectID != s.cfg.Workspaces.Focused() {
		_ = s.cfg.Unread.MarkUnread(ctx, projectID, statedb.KindProject)
	}
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompWeb).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, auth=%t)", s.cfg.ListenAddr, s.cfg.Token != "")
}
