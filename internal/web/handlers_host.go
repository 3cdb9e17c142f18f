package web

import (
	"log/slog"
	"net/http"
	"time"
)

type unreadView struct {
	Subject   string    `json:"subject"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.cfg.PTY.(terminalLister)
	if !ok {
		writeAPIError(w, http.StatusServiceUnavailable, "TERMINALS_UNAVAILABLE", "terminal host cannot list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terminals": lister.List()})
}

func (s *Server) handleListUnread(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.cfg.Unread.(unreadLister)
	if !ok {
		writeAPIError(w, http.StatusServiceUnavailable, "UNREAD_UNAVAILABLE", "badge store cannot list badges")
		return
	}
	rows, err := lister.ListUnread(r.Context())
	if err != nil {
		s.log.Warn("unread_list_failed", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "UNREAD_LIST_FAILED", "failed to list badges")
		return
	}
	out := make([]unreadView, 0, len(rows))
	for _, row := range rows {
		out = append(out, unreadView{Subject: row.Subject, Kind: row.Kind, CreatedAt: row.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": out})
}
