package users

import (
	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithStamper sets the timestamp source for join times.
func WithStamper(c clock.Stamper) Option {
	return func(s *Service) {
		if c != nil {
			s.stamp = c
		}
	}
}

// WithTxOptions tunes the reputation transaction.
func WithTxOptions(opts ...repository.TxOption) Option {
	return func(s *Service) {
		s.txOpts = append(s.txOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
