// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/okian/putmeon/internal/adapters/identity"
	service "github.com/okian/putmeon/internal/app"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/internal/domain/votes"
	"github.com/okian/putmeon/pkg/logger"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	Authenticate(ctx context.Context, c identity.Credentials) (model.User, string, error)
	Verify(ctx context.Context, token string) (model.Identity, error)
	SignOut(ctx context.Context, token string) error
	Me(ctx context.Context, uid string) (model.User, error)

	Submit(ctx context.Context, by model.Identity, artist, title string) (model.Track, error)
	Queue(ctx context.Context) ([]model.Track, error)
	Session() (model.SessionState, error)
	Promote(ctx context.Context, trackID string) (model.SessionState, error)
	OpenGrading(ctx context.Context) (model.SessionState, error)
	CloseGrading(ctx context.Context) (model.SessionState, error)
	Clear(ctx context.Context) (model.SessionState, error)

	Grade(ctx context.Context, who model.Identity, trackID string, scores model.Scores) (votes.Result, error)
	Votes(ctx context.Context, trackID string) ([]model.Vote, error)
	Leaderboard() ([]model.HistoryEntry, error)

	Favorites(ctx context.Context, uid string) ([]model.FavoriteEntry, error)
	ToggleFavorite(ctx context.Context, uid, artist, title string) (bool, model.FavoriteEntry, error)
	Presence(ctx context.Context) ([]model.PresenceRecord, error)

	Join(ctx context.Context, id model.Identity) (*service.Participant, error)
	GetStats(ctx context.Context) map[string]any
}

var _ Dependencies = (*service.Service)(nil)

// Server wires HTTP routes for the session API.
type Server struct {
	deps     Dependencies
	logger   logger.Logger
	upgrader websocket.Upgrader

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	ws            wsConfig
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.Nop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(deps),
		ws:            defaultWSConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /auth/guest", MetricsMiddleware(s.handleGuest, "auth_guest"))
	mux.HandleFunc("POST /auth/signout", MetricsMiddleware(s.handleSignOut, "auth_signout"))
	mux.HandleFunc("GET /me", MetricsMiddleware(s.authed(s.handleMe), "me"))

	mux.HandleFunc("GET /queue", MetricsMiddleware(s.authed(s.handleListQueue), "queue"))
	mux.HandleFunc("POST /queue", MetricsMiddleware(s.authed(s.handleSubmit), "queue"))
	mux.HandleFunc("GET /session", MetricsMiddleware(s.authed(s.handleSession), "session"))

	mux.HandleFunc("POST /host/promote/{id}", MetricsMiddleware(s.authed(s.handlePromote), "host_promote"))
	mux.HandleFunc("POST /host/grading/open", MetricsMiddleware(s.authed(s.handleOpenGrading), "host_grading_open"))
	mux.HandleFunc("POST /host/grading/close", MetricsMiddleware(s.authed(s.handleCloseGrading), "host_grading_close"))
	mux.HandleFunc("POST /host/clear", MetricsMiddleware(s.authed(s.handleClear), "host_clear"))

	mux.HandleFunc("POST /grades", MetricsMiddleware(s.authed(s.handleGrade), "grades"))
	mux.HandleFunc("GET /tracks/{id}/votes", MetricsMiddleware(s.authed(s.handleVotes), "votes"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.authed(s.handleLeaderboard), "leaderboard"))

	mux.HandleFunc("GET /favorites", MetricsMiddleware(s.authed(s.handleFavorites), "favorites"))
	mux.HandleFunc("POST /favorites/toggle", MetricsMiddleware(s.authed(s.handleToggleFavorite), "favorites_toggle"))
	mux.HandleFunc("GET /presence", MetricsMiddleware(s.authed(s.handlePresence), "presence"))

	mux.HandleFunc("GET /ws", s.authed(s.handleWS))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure reports err as the single notification of a rejected request.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= statusInternalError {
		s.logger.Error(r.Context(), "request failed", logger.String("path", r.URL.Path), logger.Error(err))
	} else {
		s.logger.Debug(r.Context(), "request rejected", logger.String("path", r.URL.Path), logger.Error(err))
	}
	writeError(w, status, errs.Code(err), err)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrGradingClosed),
		errors.Is(err, errs.ErrStaleTrack),
		errors.Is(err, errs.ErrAlreadyGraded),
		errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "api.decode"
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.WrapKind(op, errs.ErrValidation, fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	return nil
}
