package queue

import (
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/pkg/logger"
)

// Option configures a Manager.
type Option func(*Manager)

// WithStamper sets the source of submission timestamps.
func WithStamper(c clock.Stamper) Option {
	return func(m *Manager) {
		if c != nil {
			m.stamp = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
