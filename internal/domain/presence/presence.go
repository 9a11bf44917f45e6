// Package presence tracks which participants currently hold a live
// connection.
//
// A participant is marked online only after the store has accepted the
// offline write that must happen if the connection drops. The order matters:
// a crash between the two steps leaves the participant offline, never stuck
// online.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/clock"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

const stampField = "lastChanged"

// Liveness is a connection that can register writes for the store to apply
// when it drops.
type Liveness interface {
	OnDisconnect(ctx context.Context, path string, value json.RawMessage, stampField string) error
	Cancel(ctx context.Context, path string) error
}

// Tracker writes attendance/{uid} records.
type Tracker struct {
	store  repository.Store
	stamp  clock.Stamper
	logger logger.Logger

	mu      sync.Mutex
	current map[string]Liveness
}

// New creates a presence tracker.
func New(store repository.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		stamp:   clock.NewMonotonic(nil),
		logger:  logger.Nop(),
		current: make(map[string]Liveness),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach registers conn as the live connection of uid. Every new connection
// of a user calls Attach again; the registration of the previous connection
// is cancelled so its later drop cannot mark the user offline.
func (t *Tracker) Attach(ctx context.Context, conn Liveness, uid, handle string) error {
	const op = "presence.attach"
	if uid == "" {
		return errs.Newf(op, errs.ErrValidation, "empty uid")
	}
	path := model.AttendancePath(uid)

	offline, err := repository.Encode(model.PresenceRecord{UID: uid, State: model.Offline, Handle: handle})
	if err != nil {
		return errs.Wrap(op, err)
	}
	if err := conn.OnDisconnect(ctx, path, offline, stampField); err != nil {
		t.logger.Error(ctx, "disconnect registration failed", logger.String("uid", uid), logger.Error(err))
		return errs.Wrap(op, err)
	}

	t.mu.Lock()
	prev := t.current[uid]
	t.current[uid] = conn
	t.mu.Unlock()
	if prev != nil && prev != conn {
		if err := prev.Cancel(ctx, path); err != nil {
			t.logger.Warn(ctx, "stale registration cancel failed", logger.String("uid", uid), logger.Error(err))
		}
	}

	if err := t.write(ctx, uid, handle, model.Online); err != nil {
		return errs.Wrap(op, err)
	}
	t.logger.Info(ctx, "participant online", logger.String("uid", uid), logger.String("handle", handle))
	t.Refresh(ctx)
	return nil
}

// Detach signs uid off cleanly: the registration on conn is cancelled and
// the offline record is written immediately. Detaching a connection that was
// superseded by a newer one only cancels its registration.
func (t *Tracker) Detach(ctx context.Context, conn Liveness, uid, handle string) error {
	const op = "presence.detach"
	if uid == "" {
		return errs.Newf(op, errs.ErrValidation, "empty uid")
	}
	if conn != nil {
		if err := conn.Cancel(ctx, model.AttendancePath(uid)); err != nil {
			t.logger.Warn(ctx, "disconnect cancel failed", logger.String("uid", uid), logger.Error(err))
		}
	}
	if !t.release(uid, conn) {
		return nil
	}
	if err := t.write(ctx, uid, handle, model.Offline); err != nil {
		return errs.Wrap(op, err)
	}
	t.logger.Info(ctx, "participant offline", logger.String("uid", uid))
	t.Refresh(ctx)
	return nil
}

// Forget drops the bookkeeping for conn after the store applied its
// disconnect writes.
func (t *Tracker) Forget(ctx context.Context, uid string, conn Liveness) {
	t.release(uid, conn)
	t.Refresh(ctx)
}

// release clears conn as the current connection of uid. A nil conn always
// releases. It reports whether conn was current.
func (t *Tracker) release(uid string, conn Liveness) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.current[uid]
	if conn != nil && ok && cur != conn {
		return false
	}
	delete(t.current, uid)
	return true
}

func (t *Tracker) write(ctx context.Context, uid, handle, state string) error {
	rec := model.PresenceRecord{UID: uid, State: state, LastChanged: t.stamp.NowMillis(), Handle: handle}
	value, err := repository.Encode(rec)
	if err != nil {
		return err
	}
	if _, err := t.store.Set(ctx, model.AttendancePath(uid), value); err != nil {
		return err
	}
	metrics.RecordPresenceChange(state)
	return nil
}

// List returns every attendance record ordered by uid.
func (t *Tracker) List(ctx context.Context) ([]model.PresenceRecord, error) {
	const op = "presence.list"
	docs, err := t.store.List(ctx, model.AttendanceRoot)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	out, err := repository.DecodeAll[model.PresenceRecord](repository.Children(model.AttendanceRoot, docs))
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// Online counts participants currently online.
func (t *Tracker) Online(ctx context.Context) (int, error) {
	recs, err := t.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if r.State == model.Online {
			n++
		}
	}
	return n, nil
}

// Refresh re-exports the online gauge. Called after writes the store applied
// on behalf of a dropped connection.
func (t *Tracker) Refresh(ctx context.Context) {
	n, err := t.Online(ctx)
	if err != nil {
		t.logger.Warn(ctx, "online count failed", logger.Error(err))
		return
	}
	metrics.UpdateOnlineParticipants(n)
}
