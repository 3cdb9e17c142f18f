package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/asheshgoplani/panedeck/internal/layout"
)

var workspaceEventsHeartbeatInterval = 15 * time.Second

// handleWorkspaceEvents streams the panel runtime state of a workspace as
// server-sent events, one "panels" event per settled change.
func (s *Server) handleWorkspaceEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.workspace(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEEvent(w, flusher, "panels", c.Engine().RuntimeState()); err != nil {
		return
	}

	// Only the latest state matters; a slow client skips intermediate ones.
	changes := make(chan []layout.RuntimeState, 1)
	dispose := c.Engine().OnRuntimeStateChange(func(state []layout.RuntimeState) {
		select {
		case <-changes:
		default:
		}
		select {
		case changes <- state:
		default:
		}
	})
	defer dispose()

	heartbeatTicker := time.NewTicker(workspaceEventsHeartbeatInterval)
	defer heartbeatTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case state := <-changes:
			if err := writeSSEEvent(w, flusher, "panels", state); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
