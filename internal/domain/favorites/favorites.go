// Package favorites keeps each participant's crate of saved tracks.
package favorites

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

const maxToggleAttempts = 16

var keyReplacer = strings.NewReplacer(
	".", "_",
	"#", "_",
	"$", "_",
	"/", "_",
	"[", "_",
	"]", "_",
)

// Key derives the storage key of a track: artist and title joined by an
// underscore with path-unsafe characters replaced.
func Key(artist, title string) string {
	return keyReplacer.Replace(artist + "_" + title)
}

// Store toggles and lists favorites.
type Store struct {
	store  repository.Store
	stamp  clock.Stamper
	logger logger.Logger
}

// New creates a favorites store.
func New(store repository.Store, opts ...Option) *Store {
	s := &Store{store: store, stamp: clock.NewMonotonic(nil), logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalize(op, uid, artist, title string) (string, string, error) {
	if uid == "" {
		return "", "", errs.Newf(op, errs.ErrValidation, "empty uid")
	}
	artist = strings.TrimSpace(artist)
	if artist == "" {
		return "", "", errs.Newf(op, errs.ErrValidation, "artist is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultTitle
	}
	return artist, title, nil
}

// Toggle removes the track from the crate of uid if present, otherwise adds
// it. added reports which happened. Each call flips membership exactly once
// even under concurrent toggles.
func (s *Store) Toggle(ctx context.Context, uid, artist, title string) (bool, model.FavoriteEntry, error) {
	const op = "favorites.toggle"
	artist, title, err := normalize(op, uid, artist, title)
	if err != nil {
		return false, model.FavoriteEntry{}, err
	}
	key := Key(artist, title)
	path := model.FavoritePath(uid, key)

	type result struct {
		added bool
		entry model.FavoriteEntry
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 20 * time.Millisecond
	r, err := backoff.Retry(ctx, func() (result, error) {
		doc, err := s.store.Get(ctx, path)
		switch {
		case err == nil:
			entry, err := repository.Decode[model.FavoriteEntry](doc)
			if err != nil {
				return result{}, backoff.Permanent(err)
			}
			if err := s.store.CompareAndDelete(ctx, path, doc.Version); err != nil {
				return result{}, retryable(err)
			}
			return result{added: false, entry: entry}, nil
		case errors.Is(err, errs.ErrNotFound):
			entry := model.FavoriteEntry{Key: key, Artist: artist, Title: title, AddedAt: s.stamp.NowMillis()}
			value, err := repository.Encode(entry)
			if err != nil {
				return result{}, backoff.Permanent(err)
			}
			if _, err := s.store.CompareAndSet(ctx, path, value, 0); err != nil {
				return result{}, retryable(err)
			}
			return result{added: true, entry: entry}, nil
		default:
			return result{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxToggleAttempts), backoff.WithMaxElapsedTime(0))
	if err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			return false, model.FavoriteEntry{}, errs.WrapKind(op, errs.ErrConflict, err)
		}
		return false, model.FavoriteEntry{}, errs.Wrap(op, err)
	}

	action := "removed"
	if r.added {
		action = "added"
	}
	metrics.RecordFavoriteToggle(action)
	s.logger.Debug(ctx, "favorite "+action, logger.String("uid", uid), logger.String("key", key))
	return r.added, r.entry, nil
}

// retryable lets version conflicts be retried and stops on anything else.
func retryable(err error) error {
	if errors.Is(err, repository.ErrVersionMismatch) {
		return err
	}
	return backoff.Permanent(err)
}

// List returns the crate of uid, most recently added first.
func (s *Store) List(ctx context.Context, uid string) ([]model.FavoriteEntry, error) {
	const op = "favorites.list"
	if uid == "" {
		return nil, errs.Newf(op, errs.ErrValidation, "empty uid")
	}
	docs, err := s.store.List(ctx, model.FavoritesPath(uid))
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	out, err := repository.DecodeAll[model.FavoriteEntry](repository.Children(model.FavoritesPath(uid), docs))
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt > out[j].AddedAt })
	return out, nil
}

// Has reports whether the track is in the crate of uid.
func (s *Store) Has(ctx context.Context, uid, artist, title string) (bool, error) {
	const op = "favorites.has"
	artist, title, err := normalize(op, uid, artist, title)
	if err != nil {
		return false, err
	}
	_, err = s.store.Get(ctx, model.FavoritePath(uid, Key(artist, title)))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, errs.Wrap(op, err)
	}
}
