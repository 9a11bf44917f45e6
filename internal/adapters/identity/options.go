package identity

import (
	"time"

	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/pkg/logger"
)

// Option configures a GuestProvider.
type Option func(*GuestProvider)

// WithTTL sets token lifetime.
func WithTTL(d time.Duration) Option {
	return func(p *GuestProvider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithIssuer sets the iss claim issued and required.
func WithIssuer(iss string) Option {
	return func(p *GuestProvider) {
		if iss != "" {
			p.issuer = iss
		}
	}
}

// WithClock sets the time source for issuing and validating tokens.
func WithClock(c clock.Clock) Option {
	return func(p *GuestProvider) {
		if c != nil {
			p.now = c.Now
		}
	}
}

// WithHandleSource overrides the guest number generator. fn must return a
// value in [0,1000).
func WithHandleSource(fn func() int) Option {
	return func(p *GuestProvider) {
		if fn != nil {
			p.handle = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *GuestProvider) {
		if l != nil {
			p.logger = l
		}
	}
}
