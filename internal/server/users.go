package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
)

type banRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := shop.IdentityFromContext(r.Context())
	p, err := s.deps.Users.Me(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "user profile fetched successfully", p)
}

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.deps.Users.List(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "users fetched successfully", page)
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid user id"))
		return
	}
	u, err := s.deps.Users.Get(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "user fetched successfully", u)
}

// handleBan bans a user for ?ttb= seconds (the configured ban TTL when
// absent). The body is optional and may carry a reason.
func (s *server) handleBan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bans == nil {
		writeError(w, r, errors.New("ban flags not configured"))
		return
	}
	uid, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid user id"))
		return
	}
	ttl, err := banTTL(r, s.deps.BanTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req banRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	caller := shop.IdentityFromContext(r.Context())
	if uid == caller.UserID {
		writeError(w, r, badRequest("cannot ban yourself"))
		return
	}
	if _, err := s.deps.Users.Get(r.Context(), uid); err != nil {
		writeError(w, r, err)
		return
	}

	b, err := s.deps.Bans.Ban(r.Context(), uid, caller.UserID, req.Reason, ttl)
	if err != nil {
		if errors.Is(err, shop.ErrConflict) {
			err = fmt.Errorf("%w: user is already banned", shop.ErrConflict)
		}
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "user banned successfully", b)
}

// maxBanTTL bounds ?ttb.
const maxBanTTL = 365 * 24 * time.Hour

// banTTL reads the ttb query parameter: a positive number of seconds, at
// most a year.
func banTTL(r *http.Request, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get("ttb")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return 0, badRequest("ttb must be a positive number of seconds")
	}
	if n > int64(maxBanTTL/time.Second) {
		return 0, badRequest(fmt.Sprintf("ttb must be at most %d seconds", int64(maxBanTTL/time.Second)))
	}
	return time.Duration(n) * time.Second, nil
}

func (s *server) handlePromote(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid user id"))
		return
	}
	var perms map[string]bool
	if r.ContentLength != 0 && !decodeJSON(w, r, &perms) {
		return
	}
	mp, err := s.deps.Users.Promote(r.Context(), uid, perms)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "user promoted to moderator successfully", mp)
}

func (s *server) handleDemote(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid user id"))
		return
	}
	if err := s.deps.Users.Demote(r.Context(), uid); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "moderator demoted to user successfully", nil)
}

func (s *server) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid moderator id"))
		return
	}
	mp, err := s.deps.Users.Permissions(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "permissions fetched successfully", mp)
}

func (s *server) handleUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid moderator id"))
		return
	}
	var updates map[string]bool
	if !decodeJSON(w, r, &updates) {
		return
	}
	if len(updates) == 0 {
		writeError(w, r, badRequest("no permissions given"))
		return
	}
	mp, err := s.deps.Users.UpdatePermissions(r.Context(), uid, updates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "permissions updated successfully", mp)
}
