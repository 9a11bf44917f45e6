package api

import (
	"net/http"

	"github.com/okian/putmeon/internal/adapters/identity"
	"github.com/okian/putmeon/internal/domain/model"
)

type guestRequest struct {
	Handle string `json:"handle"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// handleGuest handles POST /auth/guest. An empty body signs in with a
// generated handle.
func (s *Server) handleGuest(w http.ResponseWriter, r *http.Request) {
	var req guestRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}
	u, token, err := s.deps.Authenticate(r.Context(), identity.Credentials{
		Mode:   identity.ModeGuest,
		Handle: req.Handle,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: u})
}

// handleSignOut handles POST /auth/signout.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.SignOut(r.Context(), bearer(r)); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe handles GET /me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Me(r.Context(), identityFrom(r.Context()).UID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
