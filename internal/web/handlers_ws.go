package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/panel"
	"github.com/asheshgoplani/panedeck/internal/terminal"
)

type wsClientMessage struct {
	Type string                `json:"type"`
	Data string                `json:"data,omitempty"`
	Cols int                   `json:"cols,omitempty"`
	Rows int                   `json:"rows,omitempty"`
	Path string                `json:"path,omitempty"`
	Task *terminal.TaskPayload `json:"task,omitempty"`
	Line string                `json:"line,omitempty"`
	Link *terminal.Link        `json:"link,omitempty"`
}

type wsServerMessage struct {
	Type       string          `json:"type"` // status, error, links
	Event      string          `json:"event,omitempty"`
	Code       string          `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
	TerminalID string          `json:"terminalId,omitempty"`
	State      string          `json:"state,omitempty"`
	Links      []terminal.Link `json:"links,omitempty"`
	Time       time.Time       `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

const (
	defaultCols = 80
	defaultRows = 24
)

func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	terminalID := r.PathValue("terminalID")
	if terminalID == "" || strings.Contains(terminalID, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "terminal id is required")
		return
	}
	if s.cfg.PTY == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NO_PTY_HOST", "terminals are not available")
		return
	}

	query := r.URL.Query()
	projectID := strings.TrimSpace(query.Get("project"))
	if projectID == "" {
		if parsed, _, ok := panel.ParseTerminalID(terminalID); ok {
			projectID = parsed
		}
	}
	if projectID == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "project is required")
		return
	}
	projectPath := strings.TrimSpace(query.Get("path"))
	if projectPath == "" {
		if c, ok := s.cfg.Workspaces.Get(projectID); ok {
			_, projectPath = c.Project()
		}
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := logging.ForComponent(logging.CompWeb).With(slog.String("terminal", terminalID))
	connID := uuid.NewString()
	writer := newWSConnWriter(conn)
	status := func(event string) {
		_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: event, TerminalID: terminalID, Time: time.Now().UTC()})
	}
	sendError := func(code, message string) {
		_ = writer.WriteJSON(wsServerMessage{Type: "error", Code: code, Message: message, TerminalID: terminalID, Time: time.Now().UTC()})
	}

	screen := terminal.NewScreen(terminal.ScreenOptions{
		Cols:            defaultCols,
		Rows:            defaultRows,
		Scrollback:      s.cfg.Terminal.ScrollbackLines,
		ScrollbackBytes: s.cfg.Terminal.ScrollbackBytes,
		Sink:            func(data []byte) { _ = writer.WriteBinary(data) },
		Notify:          status,
	})
	defer screen.Close()

	ctx := r.Context()
	ctrl := s.terminals.attach(ctx, terminalID, projectID, projectPath, connID, screen)
	_ = writer.WriteJSON(wsServerMessage{
		Type:       "status",
		Event:      "attached",
		TerminalID: terminalID,
		State:      ctrl.State().String(),
		Time:       time.Now().UTC(),
	})
	log.Info("terminal_socket_attached", slog.String("conn", connID), slog.String("state", ctrl.State().String()))

	closed := false
	defer func() {
		if !closed {
			// Surfaces come and go; the shell keeps running.
			s.terminals.release(context.WithoutCancel(ctx), terminalID, connID)
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			sendError("INVALID_MESSAGE", "invalid json payload")
			continue
		}

		if msg.Type != "ping" && !s.terminals.owns(terminalID, connID) {
			sendError("DETACHED", "terminal was attached elsewhere")
			return
		}

		switch msg.Type {
		case "ping":
			status("pong")
		case "input":
			if !ctrl.Input([]byte(msg.Data)) && msg.Data != "" {
				sendError("INPUT_REJECTED", "terminal is not attached")
			}
		case "resize":
			ctrl.ContainerResized(msg.Cols, msg.Rows)
		case "activate":
			ctrl.Activate()
		case "drop":
			if !ctrl.Drop(terminal.DropPayload{Path: msg.Path, Task: msg.Task}) {
				sendError("DROP_REJECTED", "nothing to drop or terminal is not attached")
			}
		case "links":
			_ = writer.WriteJSON(wsServerMessage{
				Type:       "links",
				TerminalID: terminalID,
				Links:      ctrl.Links(msg.Line),
				Time:       time.Now().UTC(),
			})
		case "open_link":
			if msg.Link == nil || !ctrl.ActivateLink(ctx, *msg.Link) {
				sendError("LINK_UNAVAILABLE", "link target does not exist")
			}
		case "close":
			closed = true
			s.terminals.close(context.WithoutCancel(ctx), terminalID)
			status("closed")
			log.Info("terminal_socket_closed_tab", slog.String("conn", connID))
			return
		default:
			sendError("UNSUPPORTED_MESSAGE", "supported message types: ping,input,resize,activate,drop,links,open_link,close")
		}
	}
}
