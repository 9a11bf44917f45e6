package service

import (
	"context"

	"github.com/okian/putmeon/internal/adapters/identity"
	"github.com/okian/putmeon/internal/adapters/pubsub"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/internal/domain/votes"
)

// Authenticate signs a participant in and persists their profile on first
// sight.
func (s *Service) Authenticate(ctx context.Context, c identity.Credentials) (model.User, string, error) {
	if err := s.ready(); err != nil {
		return model.User{}, "", err
	}
	id, token, err := s.identity.Authenticate(ctx, c)
	if err != nil {
		return model.User{}, "", err
	}
	u, err := s.users.EnsureProfile(ctx, id)
	if err != nil {
		return model.User{}, "", err
	}
	return u, token, nil
}

// Verify resolves a bearer token.
func (s *Service) Verify(ctx context.Context, token string) (model.Identity, error) {
	if err := s.ready(); err != nil {
		return model.Identity{}, err
	}
	return s.identity.Verify(ctx, token)
}

// SignOut revokes token and ends every live connection of its user.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if err := s.ready(); err != nil {
		return err
	}
	id, err := s.identity.Verify(ctx, token)
	if err != nil {
		return err
	}
	if err := s.identity.SignOut(ctx, token); err != nil {
		return err
	}
	s.leaveAll(ctx, id.UID)
	return nil
}

// Me returns the profile, stats and rank of uid.
func (s *Service) Me(ctx context.Context, uid string) (model.User, error) {
	if err := s.ready(); err != nil {
		return model.User{}, err
	}
	return s.users.Get(ctx, uid)
}

// Submit queues a song.
func (s *Service) Submit(ctx context.Context, by model.Identity, artist, title string) (model.Track, error) {
	if err := s.ready(); err != nil {
		return model.Track{}, err
	}
	return s.queue.Submit(ctx, artist, title, by)
}

// Queue lists queued songs, freshest first.
func (s *Service) Queue(ctx context.Context) ([]model.Track, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.queue.List(ctx)
}

// Session returns the current session state.
func (s *Service) Session() (model.SessionState, error) {
	if err := s.ready(); err != nil {
		return model.SessionState{}, err
	}
	return s.session.State(), nil
}

// Promote plays a queued song.
func (s *Service) Promote(ctx context.Context, trackID string) (model.SessionState, error) {
	if err := s.ready(); err != nil {
		return model.SessionState{}, err
	}
	if _, err := s.queue.Promote(ctx, trackID); err != nil {
		return s.session.State(), err
	}
	return s.session.State(), nil
}

// OpenGrading opens the grading window.
func (s *Service) OpenGrading(ctx context.Context) (model.SessionState, error) {
	if err := s.ready(); err != nil {
		return model.SessionState{}, err
	}
	return s.session.OpenGrading(ctx)
}

// CloseGrading closes the grading window and records the track.
func (s *Service) CloseGrading(ctx context.Context) (model.SessionState, error) {
	if err := s.ready(); err != nil {
		return model.SessionState{}, err
	}
	return s.session.CloseGrading(ctx)
}

// Clear stops playback.
func (s *Service) Clear(ctx context.Context) (model.SessionState, error) {
	if err := s.ready(); err != nil {
		return model.SessionState{}, err
	}
	return s.session.Clear(ctx)
}

// Grade submits a grade for the playing track.
func (s *Service) Grade(ctx context.Context, who model.Identity, trackID string, scores model.Scores) (votes.Result, error) {
	if err := s.ready(); err != nil {
		return votes.Result{}, err
	}
	return s.votes.Submit(ctx, who, trackID, scores)
}

// Votes lists the grades of a track in submission order.
func (s *Service) Votes(ctx context.Context, trackID string) ([]model.Vote, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.votes.ForTrack(ctx, trackID)
}

// Leaderboard returns the top of the history.
func (s *Service) Leaderboard() ([]model.HistoryEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.board.Top(), nil
}

// Favorites lists the crate of uid, newest first.
func (s *Service) Favorites(ctx context.Context, uid string) ([]model.FavoriteEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.favorites.List(ctx, uid)
}

// ToggleFavorite adds or removes a track from the crate of uid.
func (s *Service) ToggleFavorite(ctx context.Context, uid, artist, title string) (bool, model.FavoriteEntry, error) {
	if err := s.ready(); err != nil {
		return false, model.FavoriteEntry{}, err
	}
	return s.favorites.Toggle(ctx, uid, artist, title)
}

// Presence lists attendance records.
func (s *Service) Presence(ctx context.Context) ([]model.PresenceRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.presence.List(ctx)
}

// Subscribe opens a subscription released when ctx ends.
func (s *Service) Subscribe(ctx context.Context, prefix string) (*pubsub.Subscription, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, prefix)
}
