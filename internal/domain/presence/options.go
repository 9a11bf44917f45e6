package presence

import (
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/pkg/logger"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithStamper sets the source of lastChanged timestamps.
func WithStamper(c clock.Stamper) Option {
	return func(t *Tracker) {
		if c != nil {
			t.stamp = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}
