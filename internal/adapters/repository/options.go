package repository

import (
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
)

type options struct {
	hook   ChangeHook
	clock  clock.Clock
	logger logger.Logger
}

// Option configures a store backend.
type Option func(*options)

// WithChangeHook reports every committed write to hook. The hook runs after
// the write is durable and outside any store lock.
func WithChangeHook(hook ChangeHook) Option {
	return func(o *options) {
		o.hook = hook
	}
}

// WithClock sets the clock used for UpdatedAt and disconnect stamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.System{}, logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) now() int64 { return o.clock.Now().UnixMilli() }

func (o options) emit(path string, at int64, deleted bool) {
	if o.hook != nil {
		o.hook(model.Change{Path: path, At: at, Deleted: deleted})
	}
}
