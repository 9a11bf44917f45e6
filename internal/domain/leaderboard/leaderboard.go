// Package leaderboard records graded tracks and serves the top of the
// history.
//
// Entries are persisted under history/{trackId}; an in-memory treap indexes
// them by rank and the top view is republished as an immutable snapshot
// after every change so readers never take the write lock.
package leaderboard

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

// DefaultSize is the number of entries in the top view.
const DefaultSize = 15

// Board is the leaderboard aggregator.
type Board struct {
	store  repository.Store
	stamp  clock.Stamper
	size   int
	logger logger.Logger

	mu   sync.Mutex
	root *node
	byID map[string]model.HistoryEntry

	top atomic.Pointer[[]model.HistoryEntry]
}

// New creates an empty board. Call Load to index persisted history.
func New(store repository.Store, opts ...Option) *Board {
	b := &Board{
		store:  store,
		stamp:  clock.NewMonotonic(nil),
		size:   DefaultSize,
		logger: logger.Nop(),
		byID:   make(map[string]model.HistoryEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.publish()
	return b
}

// Load rebuilds the index from history/*.
func (b *Board) Load(ctx context.Context) error {
	const op = "leaderboard.load"
	docs, err := b.store.List(ctx, model.HistoryRoot)
	if err != nil {
		return errs.Wrap(op, err)
	}
	entries, err := repository.DecodeAll[model.HistoryEntry](repository.Children(model.HistoryRoot, docs))
	if err != nil {
		return errs.Wrap(op, err)
	}

	b.mu.Lock()
	b.root = nil
	b.byID = make(map[string]model.HistoryEntry, len(entries))
	for _, e := range entries {
		b.index(e)
	}
	b.publish()
	b.mu.Unlock()

	if m, ok := b.stamp.(interface{ Observe(int64) }); ok {
		for _, e := range entries {
			m.Observe(e.Timestamp)
		}
	}
	b.logger.Info(ctx, "leaderboard loaded", logger.Int("entries", len(entries)))
	return nil
}

// Record appends the graded track to the history. The track's score is the
// total of its most recent vote. A track without votes is not recorded and
// ok is false. Recording the same track again replaces its entry.
func (b *Board) Record(ctx context.Context, track model.Track, votes []model.Vote) (model.HistoryEntry, bool, error) {
	const op = "leaderboard.record"
	if track.ID == "" {
		return model.HistoryEntry{}, false, errs.Newf(op, errs.ErrValidation, "track id is required")
	}
	last, ok := latest(votes)
	if !ok {
		b.logger.Info(ctx, "no votes; nothing recorded", logger.String("track_id", track.ID))
		return model.HistoryEntry{}, false, nil
	}

	e := model.HistoryEntry{
		ID:        track.ID,
		TrackID:   track.ID,
		Artist:    track.Artist,
		Title:     track.Title,
		Score:     last.Total,
		Timestamp: b.stamp.NowMillis(),
	}
	v, err := repository.Encode(e)
	if err != nil {
		return model.HistoryEntry{}, false, errs.Wrap(op, err)
	}
	if _, err := b.store.Set(ctx, model.HistoryPath(e.ID), v); err != nil {
		return model.HistoryEntry{}, false, errs.Wrap(op, err)
	}

	b.mu.Lock()
	b.index(e)
	b.publish()
	b.mu.Unlock()

	metrics.RecordLeaderboardAppend()
	b.logger.Info(ctx, "track recorded",
		logger.String("track_id", track.ID),
		logger.String("artist", track.Artist),
		logger.Int("score", e.Score),
		logger.Int("votes", len(votes)),
	)
	return e, true, nil
}

// latest picks the vote with the highest timestamp, breaking ties by id.
func latest(votes []model.Vote) (model.Vote, bool) {
	if len(votes) == 0 {
		return model.Vote{}, false
	}
	best := votes[0]
	for _, v := range votes[1:] {
		if v.Timestamp > best.Timestamp || (v.Timestamp == best.Timestamp && v.ID > best.ID) {
			best = v
		}
	}
	return best, true
}

// index inserts e, replacing an older entry with the same id. Caller holds mu.
func (b *Board) index(e model.HistoryEntry) {
	if old, ok := b.byID[e.ID]; ok {
		b.root = remove(b.root, old)
	}
	b.byID[e.ID] = e
	b.root = insert(b.root, e)
}

// publish stores a fresh top view. Caller holds mu or owns b exclusively.
func (b *Board) publish() {
	top := make([]model.HistoryEntry, 0, b.size)
	collect(b.root, b.size, &top)
	b.top.Store(&top)
	metrics.UpdateLeaderboardSize(len(b.byID))
}

// Top returns the highest-scoring entries, best first.
func (b *Board) Top() []model.HistoryEntry {
	p := b.top.Load()
	out := make([]model.HistoryEntry, len(*p))
	copy(out, *p)
	return out
}

// All returns the whole history in rank order.
func (b *Board) All() []model.HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.HistoryEntry, 0, len(b.byID))
	collect(b.root, -1, &out)
	return out
}

// Count returns the number of recorded tracks.
func (b *Board) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return nsize(b.root)
}

// Size returns the length of the top view.
func (b *Board) Size() int { return b.size }
