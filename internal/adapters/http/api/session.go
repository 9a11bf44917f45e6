package api

import (
	"net/http"
)

type submitRequest struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// handleListQueue handles GET /queue.
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.deps.Queue(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// handleSubmit handles POST /queue.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(w, r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	t, err := s.deps.Submit(r.Context(), identityFrom(r.Context()), req.Artist, req.Title)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleSession handles GET /session.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Session()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handlePromote handles POST /host/promote/{id}.
func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Promote(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleOpenGrading handles POST /host/grading/open.
func (s *Server) handleOpenGrading(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.OpenGrading(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCloseGrading handles POST /host/grading/close.
func (s *Server) handleCloseGrading(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.CloseGrading(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleClear handles POST /host/clear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Clear(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
