// Package pubsub delivers full-state snapshots of store subtrees to
// subscribers on subscribe and after every committed change.
package pubsub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

const defaultBufferSize = 1

// Reader is the read side of the store.
type Reader interface {
	Get(ctx context.Context, path string) (repository.Document, error)
	List(ctx context.Context, prefix string) ([]repository.Document, error)
}

// Snapshot is the full current value of a subscribed subtree: the document
// at the prefix itself (if present) followed by every descendant in path
// order.
type Snapshot struct {
	Prefix string                `json:"prefix"`
	Docs   []repository.Document `json:"docs"`
	At     int64                 `json:"at"`
}

// Hub tracks subscriptions and fans changes out to them.
type Hub struct {
	store      Reader
	logger     logger.Logger
	bufferSize int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewHub creates a hub reading snapshots from store.
func NewHub(store Reader, opts ...Option) *Hub {
	h := &Hub{
		store:      store,
		logger:     logger.Nop(),
		bufferSize: defaultBufferSize,
		subs:       make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one subscriber's channel of snapshots. Undelivered
// snapshots are replaced by newer ones, so a slow reader always catches up
// to the latest state.
type Subscription struct {
	id     uint64
	prefix string
	hub    *Hub
	ch     chan Snapshot
	done   chan struct{}

	mu       sync.Mutex
	released bool
}

// C returns the snapshot channel. It is closed on Release.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Prefix returns the subscribed path.
func (s *Subscription) Prefix() string { return s.prefix }

// Release stops deliveries. Other subscriptions are unaffected.
func (s *Subscription) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	close(s.ch)
	close(s.done)
	s.mu.Unlock()

	s.hub.remove(s.id)
}

// Subscribe registers interest in prefix and delivers its current value.
// The subscription is released when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, prefix string) (*Subscription, error) {
	const op = "pubsub.subscribe"
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return nil, errs.Newf(op, errs.ErrValidation, "prefix is required")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errs.Newf(op, errs.ErrTransport, "hub closed")
	}
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		prefix: prefix,
		hub:    h,
		ch:     make(chan Snapshot, h.bufferSize),
		done:   make(chan struct{}),
	}
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()
	metrics.UpdateSubscribers(n)

	if err := h.deliver(ctx, sub, 0); err != nil {
		sub.Release()
		return nil, errs.Wrap(op, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Release()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Done is closed once the subscription is released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Handle delivers a fresh snapshot to every subscription the change touches.
func (h *Hub) Handle(ctx context.Context, c model.Change) error {
	var errList []error
	for _, sub := range h.matching(c.Path) {
		if err := h.deliver(ctx, sub, c.At); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (h *Hub) matching(path string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Subscription
	for _, sub := range h.subs {
		if touches(sub.prefix, path) {
			out = append(out, sub)
		}
	}
	return out
}

// touches reports whether a write at path changes the subtree at prefix.
func touches(prefix, path string) bool {
	return path == prefix ||
		strings.HasPrefix(path, prefix+"/") ||
		strings.HasPrefix(prefix, path+"/")
}

// deliver reads and offers a snapshot while holding the subscription lock,
// so the last snapshot offered is always from the last read.
func (h *Hub) deliver(ctx context.Context, sub *Subscription, at int64) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.released {
		return nil
	}

	snap, err := h.read(ctx, sub.prefix)
	if err != nil {
		metrics.RecordErrorByComponent("pubsub", "read")
		h.logger.Error(ctx, "snapshot read failed", logger.String("prefix", sub.prefix), logger.Error(err))
		return err
	}
	snap.At = at

	for {
		select {
		case sub.ch <- snap:
			metrics.RecordFanoutDelivery()
			if at > 0 {
				metrics.RecordFanoutLatency(time.Since(time.UnixMilli(at)))
			}
			return nil
		default:
		}
		select {
		case <-sub.ch:
			metrics.RecordFanoutCoalesced()
		default:
		}
	}
}

func (h *Hub) read(ctx context.Context, prefix string) (Snapshot, error) {
	snap := Snapshot{Prefix: prefix}
	self, err := h.store.Get(ctx, prefix)
	switch {
	case err == nil:
		snap.Docs = append(snap.Docs, self)
	case !errors.Is(err, errs.ErrNotFound):
		return Snapshot{}, err
	}
	docs, err := h.store.List(ctx, prefix)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Docs = append(snap.Docs, docs...)
	return snap, nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()
	metrics.UpdateSubscribers(n)
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close releases every subscription and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.Release()
	}
}
