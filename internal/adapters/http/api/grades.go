package api

import (
	"encoding/json"
	"net/http"

	"github.com/okian/putmeon/internal/domain/grading"
)

type gradeRequest struct {
	TrackID string          `json:"trackId"`
	Scores  json.RawMessage `json:"scores"`
}

// handleGrade handles POST /grades.
func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	scores, err := grading.Parse(req.Scores)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	res, err := s.deps.Grade(r.Context(), identityFrom(r.Context()), req.TrackID, scores)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleVotes handles GET /tracks/{id}/votes.
func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	vs, err := s.deps.Votes(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

// handleLeaderboard handles GET /leaderboard.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Leaderboard()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
