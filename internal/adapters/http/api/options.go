package api

import (
	"time"

	"github.com/okian/putmeon/pkg/logger"
)

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.Named("api")
		}
	}
}

// WithPingInterval sets how often websocket peers are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ws.pingInterval = d
		}
	}
}

// WithPongTimeout sets how long a silent websocket peer is tolerated before
// it counts as dropped.
func WithPongTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ws.pongTimeout = d
		}
	}
}
