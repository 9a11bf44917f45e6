package api

import (
	"net/http"

	"github.com/okian/putmeon/internal/domain/model"
)

type toggleRequest struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

type toggleResponse struct {
	Saved bool                `json:"saved"`
	Entry model.FavoriteEntry `json:"entry"`
}

// handleFavorites handles GET /favorites.
func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Favorites(r.Context(), identityFrom(r.Context()).UID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleToggleFavorite handles POST /favorites/toggle.
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(w, r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	saved, entry, err := s.deps.ToggleFavorite(r.Context(), identityFrom(r.Context()).UID, req.Artist, req.Title)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Saved: saved, Entry: entry})
}

// handlePresence handles GET /presence.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Presence(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
