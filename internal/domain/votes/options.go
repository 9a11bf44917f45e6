package votes

import (
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/dedupe"
	"github.com/okian/putmeon/pkg/logger"
)

// Option configures an Engine.
type Option func(*Engine)

// WithOneVotePerTrack toggles the server-side duplicate grade guard. With
// the guard off, repeat grades are accepted and each counts toward stats.
func WithOneVotePerTrack(on bool) Option {
	return func(e *Engine) { e.onePerUser = on }
}

// WithDeduper sets the in-memory cache fronting the grader markers.
func WithDeduper(d dedupe.Deduper) Option {
	return func(e *Engine) {
		if d != nil {
			e.seen = d
		}
	}
}

// WithStamper sets the source of vote timestamps.
func WithStamper(c clock.Stamper) Option {
	return func(e *Engine) {
		if c != nil {
			e.stamp = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
