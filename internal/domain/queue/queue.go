// Package queue manages song submissions waiting to be played.
package queue

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

// Promoter makes a track the playing track.
type Promoter interface {
	Promote(ctx context.Context, track model.Track) (model.SessionState, error)
}

// Manager stores submissions under queue/{id}.
type Manager struct {
	store    repository.Store
	promoter Promoter
	stamp    clock.Stamper
	logger   logger.Logger
}

// New creates a queue manager promoting through p.
func New(store repository.Store, p Promoter, opts ...Option) *Manager {
	m := &Manager{store: store, promoter: p, stamp: clock.NewMonotonic(nil), logger: logger.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit queues a track. Artist is required; a blank title becomes
// "Untitled".
func (m *Manager) Submit(ctx context.Context, artist, title string, by model.Identity) (model.Track, error) {
	const op = "queue.submit"
	artist = strings.TrimSpace(artist)
	if artist == "" {
		return model.Track{}, errs.Newf(op, errs.ErrValidation, "artist is required")
	}
	if by.UID == "" {
		return model.Track{}, errs.Newf(op, errs.ErrValidation, "submitter is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultTitle
	}

	t := model.Track{
		ID:             uuid.NewString(),
		Artist:         artist,
		Title:          title,
		SubmittedBy:    by.Handle,
		SubmittedByUID: by.UID,
		SubmittedAt:    m.stamp.NowMillis(),
		Tier:           model.DefaultTier,
	}
	v, err := repository.Encode(t)
	if err != nil {
		return model.Track{}, errs.Wrap(op, err)
	}
	if _, err := m.store.CompareAndSet(ctx, model.QueuePath(t.ID), v, 0); err != nil {
		return model.Track{}, errs.Wrap(op, err)
	}
	metrics.RecordQueueSubmission()
	m.logger.Info(ctx, "track submitted",
		logger.String("track_id", t.ID),
		logger.String("artist", t.Artist),
		logger.String("by", t.SubmittedBy),
	)
	m.Refresh(ctx)
	return t, nil
}

// List returns queued tracks, most recent submission first.
func (m *Manager) List(ctx context.Context) ([]model.Track, error) {
	const op = "queue.list"
	docs, err := m.store.List(ctx, model.QueueRoot)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	out, err := repository.DecodeAll[model.Track](repository.Children(model.QueueRoot, docs))
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubmittedAt != out[j].SubmittedAt {
			return out[i].SubmittedAt > out[j].SubmittedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Restore raises the stamper floor above every queued submission so tracks
// submitted after a restart sort as fresher than the ones already waiting.
func (m *Manager) Restore(ctx context.Context) error {
	tracks, err := m.List(ctx)
	if err != nil {
		return errs.Wrap("queue.restore", err)
	}
	if len(tracks) > 0 {
		if o, ok := m.stamp.(interface{ Observe(int64) }); ok {
			o.Observe(tracks[0].SubmittedAt)
		}
	}
	m.logger.Info(ctx, "queue restored", logger.Int("tracks", len(tracks)))
	m.Refresh(ctx)
	return nil
}

// Get returns one queued track.
func (m *Manager) Get(ctx context.Context, id string) (model.Track, error) {
	const op = "queue.get"
	if id == "" {
		return model.Track{}, errs.Newf(op, errs.ErrValidation, "track id is required")
	}
	doc, err := m.store.Get(ctx, model.QueuePath(id))
	if err != nil {
		return model.Track{}, errs.Wrap(op, err)
	}
	t, err := repository.Decode[model.Track](doc)
	if err != nil {
		return model.Track{}, errs.Wrap(op, err)
	}
	return t, nil
}

// Len returns the number of queued tracks.
func (m *Manager) Len(ctx context.Context) (int, error) {
	docs, err := m.store.List(ctx, model.QueueRoot)
	if err != nil {
		return 0, errs.Wrap("queue.len", err)
	}
	return len(repository.Children(model.QueueRoot, docs)), nil
}

// Promote removes track id from the queue and makes it the playing track.
// If the session refuses the promotion the track is put back.
func (m *Manager) Promote(ctx context.Context, id string) (model.Track, error) {
	const op = "queue.promote"
	if id == "" {
		return model.Track{}, errs.Newf(op, errs.ErrValidation, "track id is required")
	}
	path := model.QueuePath(id)
	doc, err := m.store.Get(ctx, path)
	if err != nil {
		return model.Track{}, errs.Wrap(op, err)
	}
	t, err := repository.Decode[model.Track](doc)
	if err != nil {
		return model.Track{}, errs.Wrap(op, err)
	}

	// Claim the entry first so two hosts cannot promote it twice.
	if err := m.store.CompareAndDelete(ctx, path, doc.Version); err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			return model.Track{}, errs.Newf(op, errs.ErrNotFound, "track %q was already taken", id)
		}
		return model.Track{}, errs.Wrap(op, err)
	}

	if _, err := m.promoter.Promote(ctx, t); err != nil {
		if _, rerr := m.store.CompareAndSet(ctx, path, doc.Value, 0); rerr != nil {
			m.logger.Error(ctx, "failed to return track to queue", logger.String("track_id", id), logger.Error(rerr))
		}
		return model.Track{}, errs.Wrap(op, err)
	}

	metrics.RecordPromotion()
	m.logger.Info(ctx, "track promoted", logger.String("track_id", id), logger.String("artist", t.Artist))
	m.Refresh(ctx)
	return t, nil
}

// Refresh re-exports the queue length gauge.
func (m *Manager) Refresh(ctx context.Context) {
	n, err := m.Len(ctx)
	if err != nil {
		m.logger.Warn(ctx, "queue length failed", logger.Error(err))
		return
	}
	metrics.UpdateQueueLength(n)
}
