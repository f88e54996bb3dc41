package server

import (
	"errors"
	"log/slog"
	"net/http"
)

type purgeResponse struct {
	BansRestored int `json:"bans_restored"`
}

// handlePurgeCache drops every cached entry, then re-asserts the ban flags
// of live bans so the purge does not lift them.
func (s *server) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, r, errors.New("cache not configured"))
		return
	}
	if err := s.deps.Cache.Purge(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	var resp purgeResponse
	if s.deps.Restorer != nil {
		n, err := s.deps.Restorer.Restore(r.Context())
		if err != nil {
			slog.LogAttrs(r.Context(), slog.LevelError, "ban restore after purge failed",
				slog.String("error", err.Error()),
			)
		}
		resp.BansRestored = n
	}
	slog.LogAttrs(r.Context(), slog.LevelInfo, "cache purged",
		slog.Int("bans_restored", resp.BansRestored),
	)
	writeData(w, http.StatusOK, "cache purged successfully", resp)
}
