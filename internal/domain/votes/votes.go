// Package votes accepts grades for the playing track and folds them into
// each grader's reputation.
package votes

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/dedupe"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/grading"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

// Gate admits a grade only while trackID is playing with grading open.
type Gate interface {
	WithOpenTrack(ctx context.Context, trackID string, fn func(model.Track) error) error
}

// Reputation applies an accepted grade to the grader's stats.
type Reputation interface {
	RecordGrade(ctx context.Context, uid string, total int) (model.Stats, error)
}

// Result is an accepted grade and the grader's updated stats.
type Result struct {
	Vote  model.Vote  `json:"vote"`
	Stats model.Stats `json:"stats"`
}

// Engine runs the grading protocol.
type Engine struct {
	store      repository.Store
	gate       Gate
	reputation Reputation
	seen       dedupe.Deduper
	onePerUser bool
	stamp      clock.Stamper
	logger     logger.Logger
}

// New creates a vote engine. By default a user may grade each track once.
func New(store repository.Store, gate Gate, rep Reputation, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		gate:       gate,
		reputation: rep,
		onePerUser: true,
		stamp:      clock.NewMonotonic(nil),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.seen == nil {
		e.seen = dedupe.NewInMemoryDeduper()
	}
	return e
}

// Submit grades trackID on behalf of who. Rejections are checked in order:
// grading closed, stale track, invalid scores, already graded. A rejected
// grade has no side effects.
func (e *Engine) Submit(ctx context.Context, who model.Identity, trackID string, scores model.Scores) (Result, error) {
	const op = "votes.submit"
	if who.UID == "" {
		return Result{}, e.reject(ctx, errs.Newf(op, errs.ErrUnauthorized, "anonymous grade"))
	}

	var res Result
	err := e.gate.WithOpenTrack(ctx, trackID, func(track model.Track) error {
		total, err := grading.Score(scores)
		if err != nil {
			return err
		}
		res, err = e.accept(ctx, who, track, scores, total)
		return err
	})
	if err != nil {
		return Result{}, e.reject(ctx, errs.Wrap(op, err))
	}

	metrics.RecordGradeAccepted()
	e.logger.Info(ctx, "grade accepted",
		logger.String("track_id", trackID),
		logger.String("uid", who.UID),
		logger.Int("total", res.Vote.Total),
	)
	return res, nil
}

func (e *Engine) accept(ctx context.Context, who model.Identity, track model.Track, scores model.Scores, total int) (Result, error) {
	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	if e.onePerUser {
		key := dedupe.Key(track.ID, who.UID)
		if e.seen.SeenAndRecord(ctx, key) {
			return Result{}, errs.New("votes.guard", errs.ErrAlreadyGraded)
		}
		marker, err := repository.Encode(map[string]any{"uid": who.UID, "at": e.stamp.NowMillis()})
		if err != nil {
			e.seen.Unrecord(ctx, key)
			return Result{}, err
		}
		path := model.GraderPath(track.ID, who.UID)
		if _, err := e.store.CompareAndSet(ctx, path, marker, 0); err != nil {
			if errors.Is(err, repository.ErrVersionMismatch) {
				return Result{}, errs.New("votes.guard", errs.ErrAlreadyGraded)
			}
			e.seen.Unrecord(ctx, key)
			return Result{}, err
		}
		undo = append(undo,
			func() { e.seen.Unrecord(ctx, key) },
			func() { e.undo(ctx, path) },
		)
	}

	v := model.Vote{
		ID:         uuid.NewString(),
		TrackID:    track.ID,
		UserHandle: who.Handle,
		UserUID:    who.UID,
		Scores:     scores,
		Total:      total,
		Timestamp:  e.stamp.NowMillis(),
	}
	value, err := repository.Encode(v)
	if err != nil {
		rollback()
		return Result{}, err
	}
	votePath := model.VotePath(track.ID, v.ID)
	if _, err := e.store.CompareAndSet(ctx, votePath, value, 0); err != nil {
		rollback()
		return Result{}, err
	}
	undo = append(undo, func() { e.undo(ctx, votePath) })

	st, err := e.reputation.RecordGrade(ctx, who.UID, total)
	if err != nil {
		rollback()
		return Result{}, err
	}
	return Result{Vote: v, Stats: st}, nil
}

func (e *Engine) undo(ctx context.Context, path string) {
	if err := e.store.Delete(context.WithoutCancel(ctx), path); err != nil {
		e.logger.Error(ctx, "rollback failed", logger.String("path", path), logger.Error(err))
	}
}

func (e *Engine) reject(ctx context.Context, err error) error {
	code := errs.Code(err)
	metrics.RecordGradeRejected(code)
	e.logger.Debug(ctx, "grade rejected", logger.String("reason", code), logger.Error(err))
	return err
}

// ForTrack returns every vote on trackID in submission order.
func (e *Engine) ForTrack(ctx context.Context, trackID string) ([]model.Vote, error) {
	const op = "votes.for_track"
	if trackID == "" {
		return nil, errs.Newf(op, errs.ErrValidation, "track id is required")
	}
	prefix := model.TrackVotesPath(trackID)
	docs, err := e.store.List(ctx, prefix)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	out, err := repository.DecodeAll[model.Vote](repository.Children(prefix, docs))
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// HasGraded reports whether uid holds a grader marker for trackID.
func (e *Engine) HasGraded(ctx context.Context, trackID, uid string) (bool, error) {
	_, err := e.store.Get(ctx, model.GraderPath(trackID, uid))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, errs.Wrap("votes.has_graded", err)
	}
}
