// Package users owns participant profiles and reputation stats.
package users

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/internal/domain/rank"
	"github.com/okian/putmeon/pkg/logger"
)

// Service reads and writes users/{uid} and users/{uid}/stats.
type Service struct {
	store  repository.Store
	stamp  clock.Stamper
	txOpts []repository.TxOption
	logger logger.Logger
}

// New creates a user service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		stamp:  clock.NewMonotonic(nil),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureProfile persists the profile and zeroed stats of id unless they
// already exist, then returns the merged user.
func (s *Service) EnsureProfile(ctx context.Context, id model.Identity) (model.User, error) {
	const op = "users.ensure"
	if id.UID == "" {
		return model.User{}, errs.Newf(op, errs.ErrValidation, "empty uid")
	}

	profile, err := repository.Encode(model.Profile{Handle: id.Handle, IsGuest: id.IsGuest, Joined: s.stamp.NowMillis()})
	if err != nil {
		return model.User{}, errs.Wrap(op, err)
	}
	created, err := s.createIfAbsent(ctx, model.UserPath(id.UID), profile)
	if err != nil {
		return model.User{}, errs.Wrap(op, err)
	}
	if created {
		s.logger.Info(ctx, "profile created", logger.String("uid", id.UID), logger.String("handle", id.Handle))
	}

	stats, err := repository.Encode(model.Stats{})
	if err != nil {
		return model.User{}, errs.Wrap(op, err)
	}
	if _, err := s.createIfAbsent(ctx, model.StatsPath(id.UID), stats); err != nil {
		return model.User{}, errs.Wrap(op, err)
	}
	return s.Get(ctx, id.UID)
}

func (s *Service) createIfAbsent(ctx context.Context, path string, value json.RawMessage) (bool, error) {
	_, err := s.store.CompareAndSet(ctx, path, value, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrVersionMismatch):
		return false, nil
	default:
		return false, err
	}
}

// Get returns the profile of uid merged with its stats, rank and average.
func (s *Service) Get(ctx context.Context, uid string) (model.User, error) {
	const op = "users.get"
	doc, err := s.store.Get(ctx, model.UserPath(uid))
	if err != nil {
		return model.User{}, errs.Wrap(op, err)
	}
	p, err := repository.Decode[model.Profile](doc)
	if err != nil {
		return model.User{}, errs.Wrap(op, err)
	}
	st, err := s.Stats(ctx, uid)
	if err != nil {
		return model.User{}, err
	}
	return model.User{
		UID:     uid,
		Handle:  p.Handle,
		IsGuest: p.IsGuest,
		Joined:  p.Joined,
		Stats:   st,
		Rank:    string(rank.For(st.TotalVotes)),
		Average: rank.Average(st),
	}, nil
}

// Stats returns the reputation of uid. A user that never graded has zero
// stats.
func (s *Service) Stats(ctx context.Context, uid string) (model.Stats, error) {
	const op = "users.stats"
	doc, err := s.store.Get(ctx, model.StatsPath(uid))
	if errors.Is(err, errs.ErrNotFound) {
		return model.Stats{}, nil
	}
	if err != nil {
		return model.Stats{}, errs.Wrap(op, err)
	}
	st, err := repository.Decode[model.Stats](doc)
	if err != nil {
		return model.Stats{}, errs.Wrap(op, err)
	}
	return st, nil
}

// RecordGrade adds one graded vote of total to the reputation of uid in a
// single optimistic transaction.
func (s *Service) RecordGrade(ctx context.Context, uid string, total int) (model.Stats, error) {
	const op = "users.record_grade"
	if uid == "" {
		return model.Stats{}, errs.Newf(op, errs.ErrValidation, "empty uid")
	}
	if total < 0 {
		return model.Stats{}, errs.Newf(op, errs.ErrValidation, "negative total %d", total)
	}

	var out model.Stats
	_, err := repository.RunTransaction(ctx, s.store, model.StatsPath(uid), func(cur json.RawMessage, exists bool) (json.RawMessage, error) {
		var st model.Stats
		if exists {
			if err := json.Unmarshal(cur, &st); err != nil {
				return nil, errs.WrapKind(op, errs.ErrValidation, err)
			}
		}
		st.TotalVotes++
		st.TotalScoreSum += int64(total)
		out = st
		return repository.Encode(st)
	}, s.txOpts...)
	if err != nil {
		s.logger.Warn(ctx, "reputation update failed", logger.String("uid", uid), logger.Error(err))
		return model.Stats{}, errs.Wrap(op, err)
	}
	return out, nil
}
