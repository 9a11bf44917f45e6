package favorites

import (
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/pkg/logger"
)

// Option configures a Store.
type Option func(*Store)

// WithStamper sets the source of addedAt timestamps.
func WithStamper(c clock.Stamper) Option {
	return func(s *Store) {
		if c != nil {
			s.stamp = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}
