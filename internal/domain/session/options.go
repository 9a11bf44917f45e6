package session

import "github.com/okian/putmeon/pkg/logger"

// Option configures a Session.
type Option func(*Session)

// WithCloseHook sets the hook run when grading closes.
func WithCloseHook(h CloseHook) Option {
	return func(s *Session) { s.onClose = h }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}
