// Package session holds the authoritative live-session state: which track
// is playing and whether grading is open.
//
// Transitions are validated against the current phase and persisted to
// streamState/nowPlaying and streamState/votingOpen before they take effect
// in memory. Grades are accepted only through WithOpenTrack, which holds a
// read lock so closing the grading window waits for grades in flight.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

// CloseHook runs when the grading window of track closes. A failing hook
// keeps grading open so the host can retry.
type CloseHook func(ctx context.Context, track model.Track) error

// Session is the single state authority of one live session.
type Session struct {
	store   repository.Store
	onClose CloseHook
	logger  logger.Logger

	mu    sync.RWMutex
	state model.SessionState
}

// New creates a session in the NoTrack phase. Call Restore to load persisted
// state.
func New(store repository.Store, opts ...Option) *Session {
	s := &Session{store: store, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the phase from storage. Inconsistent storage (grading open
// with nothing playing) is repaired to NoTrack.
func (s *Session) Restore(ctx context.Context) error {
	const op = "session.restore"
	s.mu.Lock()
	defer s.mu.Unlock()

	var track *model.Track
	doc, err := s.store.Get(ctx, model.NowPlayingPath)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return errs.Wrap(op, err)
	default:
		if err := json.Unmarshal(doc.Value, &track); err != nil {
			return errs.WrapKind(op, errs.ErrTransport, err)
		}
	}

	open := false
	doc, err = s.store.Get(ctx, model.VotingOpenPath)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return errs.Wrap(op, err)
	default:
		if err := json.Unmarshal(doc.Value, &open); err != nil {
			return errs.WrapKind(op, errs.ErrTransport, err)
		}
	}

	switch {
	case track == nil:
		s.state = model.SessionState{Phase: model.PhaseNoTrack}
		if open {
			s.logger.Warn(ctx, "grading was open with nothing playing; closing")
			if err := s.persistOpen(ctx, false); err != nil {
				return errs.Wrap(op, err)
			}
		}
	case open:
		s.state = model.SessionState{Phase: model.PhaseOpen, Track: track}
	default:
		s.state = model.SessionState{Phase: model.PhaseClosed, Track: track}
	}
	s.logger.Info(ctx, "session restored", logger.String("phase", s.state.Phase.String()))
	return nil
}

// State returns a copy of the current state.
func (s *Session) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Session) snapshot() model.SessionState {
	out := model.SessionState{Phase: s.state.Phase}
	if s.state.Track != nil {
		t := *s.state.Track
		out.Track = &t
	}
	return out
}

// Promote makes track the playing track with grading closed. Not allowed
// while grading is open.
func (s *Session) Promote(ctx context.Context, track model.Track) (model.SessionState, error) {
	const op = "session.promote"
	if track.ID == "" {
		return model.SessionState{}, errs.Newf(op, errs.ErrValidation, "track id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == model.PhaseOpen {
		return s.snapshot(), errs.Newf(op, errs.ErrInvalidTransition, "close grading before promoting")
	}
	if err := s.persistTrack(ctx, &track); err != nil {
		return s.snapshot(), errs.Wrap(op, err)
	}
	s.state = model.SessionState{Phase: model.PhaseClosed, Track: &track}
	s.transitioned(ctx, op)
	return s.snapshot(), nil
}

// OpenGrading starts accepting grades for the playing track. Opening an open
// window is a no-op.
func (s *Session) OpenGrading(ctx context.Context) (model.SessionState, error) {
	const op = "session.open_grading"
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Phase {
	case model.PhaseOpen:
		return s.snapshot(), nil
	case model.PhaseNoTrack:
		return s.snapshot(), errs.Newf(op, errs.ErrInvalidTransition, "nothing is playing")
	}
	if err := s.persistOpen(ctx, true); err != nil {
		return s.snapshot(), errs.Wrap(op, err)
	}
	s.state.Phase = model.PhaseOpen
	s.transitioned(ctx, op)
	return s.snapshot(), nil
}

// CloseGrading stops accepting grades and runs the close hook for the
// playing track. Closing a closed window is a no-op.
func (s *Session) CloseGrading(ctx context.Context) (model.SessionState, error) {
	const op = "session.close_grading"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase != model.PhaseOpen {
		return s.snapshot(), nil
	}
	if s.onClose != nil {
		if err := s.onClose(ctx, *s.state.Track); err != nil {
			s.logger.Error(ctx, "close hook failed; grading stays open", logger.Error(err))
			return s.snapshot(), errs.Wrap(op, err)
		}
	}
	if err := s.persistOpen(ctx, false); err != nil {
		return s.snapshot(), errs.Wrap(op, err)
	}
	s.state.Phase = model.PhaseClosed
	s.transitioned(ctx, op)
	return s.snapshot(), nil
}

// Clear stops playback. Not allowed while grading is open.
func (s *Session) Clear(ctx context.Context) (model.SessionState, error) {
	const op = "session.clear"
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Phase {
	case model.PhaseOpen:
		return s.snapshot(), errs.Newf(op, errs.ErrInvalidTransition, "close grading before clearing")
	case model.PhaseNoTrack:
		return s.snapshot(), nil
	}
	if err := s.persistTrack(ctx, nil); err != nil {
		return s.snapshot(), errs.Wrap(op, err)
	}
	s.state = model.SessionState{Phase: model.PhaseNoTrack}
	s.transitioned(ctx, op)
	return s.snapshot(), nil
}

// WithOpenTrack runs fn while holding the grading gate, provided grading is
// open and trackID is the playing track.
func (s *Session) WithOpenTrack(ctx context.Context, trackID string, fn func(model.Track) error) error {
	const op = "session.gate"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Phase != model.PhaseOpen {
		return errs.New(op, errs.ErrGradingClosed)
	}
	if s.state.Track.ID != trackID {
		return errs.Newf(op, errs.ErrStaleTrack, "track %q is not playing", trackID)
	}
	return fn(*s.state.Track)
}

func (s *Session) persistTrack(ctx context.Context, t *model.Track) error {
	v, err := repository.Encode(t)
	if err != nil {
		return err
	}
	_, err = s.store.Set(ctx, model.NowPlayingPath, v)
	return err
}

func (s *Session) persistOpen(ctx context.Context, open bool) error {
	v, err := repository.Encode(open)
	if err != nil {
		return err
	}
	_, err = s.store.Set(ctx, model.VotingOpenPath, v)
	return err
}

func (s *Session) transitioned(ctx context.Context, op string) {
	metrics.RecordSessionTransition(s.state.Phase.String())
	fields := []logger.Field{logger.String("op", op), logger.String("phase", s.state.Phase.String())}
	if s.state.Track != nil {
		fields = append(fields, logger.String("track_id", s.state.Track.ID), logger.String("artist", s.state.Track.Artist))
	}
	s.logger.Info(ctx, "session transition", fields...)
}
