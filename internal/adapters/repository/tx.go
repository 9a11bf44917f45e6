package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/pkg/metrics"
)

// Transaction defaults.
const (
	DefaultTxMaxAttempts   = 16
	defaultTxInitialWait   = 2 * time.Millisecond
	defaultTxMaxWait       = 50 * time.Millisecond
	defaultTxRandomization = 0.5
)

// TxFunc computes the next value of a document from its current value.
// exists is false when the document is absent. Returning an error aborts the
// transaction without retry.
type TxFunc func(current json.RawMessage, exists bool) (json.RawMessage, error)

type txConfig struct {
	maxAttempts uint
	backOff     backoff.BackOff
	onRetry     func(attempt int)
}

// TxOption configures RunTransaction.
type TxOption func(*txConfig)

// WithMaxAttempts bounds the number of read-modify-write attempts.
func WithMaxAttempts(n int) TxOption {
	return func(c *txConfig) {
		if n > 0 {
			c.maxAttempts = uint(n)
		}
	}
}

// WithBackOff replaces the wait policy between attempts.
func WithBackOff(b backoff.BackOff) TxOption {
	return func(c *txConfig) {
		if b != nil {
			c.backOff = b
		}
	}
}

// WithRetryHook is called before every retry with the failed attempt number.
func WithRetryHook(fn func(attempt int)) TxOption {
	return func(c *txConfig) {
		c.onRetry = fn
	}
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultTxInitialWait
	b.MaxInterval = defaultTxMaxWait
	b.RandomizationFactor = defaultTxRandomization
	return b
}

// RunTransaction applies fn to the document at path with optimistic
// concurrency: read, compute, compare-and-set, and retry on version
// conflicts. Exhausted retries surface as errs.ErrConflict.
func RunTransaction(ctx context.Context, s Store, path string, fn TxFunc, opts ...TxOption) (Document, error) {
	const op = "repository.transaction"
	cfg := txConfig{maxAttempts: DefaultTxMaxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backOff == nil {
		cfg.backOff = newBackOff()
	}

	start := time.Now()
	attempt := 0
	doc, err := backoff.Retry(ctx, func() (Document, error) {
		attempt++
		if attempt > 1 {
			metrics.RecordTxRetry()
			if cfg.onRetry != nil {
				cfg.onRetry(attempt - 1)
			}
		}

		cur, err := s.Get(ctx, path)
		exists := true
		switch {
		case errors.Is(err, errs.ErrNotFound):
			exists = false
		case err != nil:
			return Document{}, backoff.Permanent(err)
		}

		next, err := fn(cur.Value, exists)
		if err != nil {
			return Document{}, backoff.Permanent(err)
		}

		d, err := s.CompareAndSet(ctx, path, next, cur.Version)
		if errors.Is(err, ErrVersionMismatch) {
			return Document{}, err
		}
		if err != nil {
			return Document{}, backoff.Permanent(err)
		}
		return d, nil
	}, backoff.WithBackOff(cfg.backOff), backoff.WithMaxTries(cfg.maxAttempts), backoff.WithMaxElapsedTime(0))
	metrics.RecordTxDuration(time.Since(start))

	if err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			metrics.RecordTxConflict()
			return Document{}, errs.WrapKind(op, errs.ErrConflict, err)
		}
		return Document{}, errs.Wrap(op, err)
	}
	return doc, nil
}
