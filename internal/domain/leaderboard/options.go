package leaderboard

import (
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/pkg/logger"
)

// Option configures a Board.
type Option func(*Board)

// WithSize sets the length of the top view.
func WithSize(n int) Option {
	return func(b *Board) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithStamper sets the source of entry timestamps.
func WithStamper(c clock.Stamper) Option {
	return func(b *Board) {
		if c != nil {
			b.stamp = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.logger = l
		}
	}
}
