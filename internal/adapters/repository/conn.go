package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/okian/putmeon/internal/domain/errs"
)

// disconnectWrite is a write the store performs when a connection drops
// without a clean close.
type disconnectWrite struct {
	Path       string          `json:"path"`
	Value      json.RawMessage `json:"value"`
	StampField string          `json:"stampField,omitempty"`
}

// registry persists pending disconnect writes so they survive the process.
type registry interface {
	saveDisconnect(ctx context.Context, connID string, w disconnectWrite) error
	dropDisconnect(ctx context.Context, connID, path string) error
	dropDisconnects(ctx context.Context, connID string) error
}

// Conn is the liveness handle of one client connection. Disconnect writes
// registered on a Conn belong to it alone: a new connection starts empty and
// must register again.
type Conn struct {
	id    string
	store Store
	reg   registry
	now   func() int64

	mu     sync.Mutex
	writes map[string]disconnectWrite
	done   bool
}

func newConn(id string, store Store, reg registry, now func() int64) *Conn {
	return &Conn{
		id:     id,
		store:  store,
		reg:    reg,
		now:    now,
		writes: make(map[string]disconnectWrite),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// OnDisconnect registers value to be written at path if the connection
// drops. When stampField is set, the field is overwritten with the drop time
// (unix millis) at write time.
func (c *Conn) OnDisconnect(ctx context.Context, path string, value json.RawMessage, stampField string) error {
	const op = "conn.on_disconnect"
	if err := validatePath(op, path); err != nil {
		return err
	}
	if !json.Valid(value) {
		return errs.Newf(op, errs.ErrValidation, "value is not valid JSON")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return errs.WrapKind(op, errs.ErrTransport, ErrConnClosed)
	}
	w := disconnectWrite{Path: path, Value: value, StampField: stampField}
	if c.reg != nil {
		if err := c.reg.saveDisconnect(ctx, c.id, w); err != nil {
			return errs.Wrap(op, err)
		}
	}
	c.writes[path] = w
	return nil
}

// Cancel removes the registration for path.
func (c *Conn) Cancel(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.writes[path]; !ok {
		return nil
	}
	if c.reg != nil {
		if err := c.reg.dropDisconnect(ctx, c.id, path); err != nil {
			return errs.Wrap("conn.cancel", err)
		}
	}
	delete(c.writes, path)
	return nil
}

// Pending returns the number of registered disconnect writes.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// Close ends the connection cleanly. Registered writes are discarded.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil
	}
	c.done = true
	c.writes = map[string]disconnectWrite{}
	if c.reg != nil {
		return errs.Wrap("conn.close", c.reg.dropDisconnects(ctx, c.id))
	}
	return nil
}

// Drop ends the connection abruptly. The store performs every registered
// write on behalf of the vanished client. The connection stays locked until
// those writes commit, so a Cancel that returns leaves no drop write in
// flight.
func (c *Conn) Drop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil
	}
	c.done = true
	pending := c.writes
	c.writes = map[string]disconnectWrite{}

	var first error
	for _, w := range pending {
		if err := applyDisconnect(ctx, c.store, w, c.now()); err != nil && first == nil {
			first = err
		}
	}
	if c.reg != nil {
		if err := c.reg.dropDisconnects(ctx, c.id); err != nil && first == nil {
			first = err
		}
	}
	return errs.Wrap("conn.drop", first)
}

func applyDisconnect(ctx context.Context, s Store, w disconnectWrite, at int64) error {
	value, err := stamp(w.Value, w.StampField, at)
	if err != nil {
		return err
	}
	_, err = s.Set(ctx, w.Path, value)
	return err
}

func stamp(value json.RawMessage, field string, at int64) (json.RawMessage, error) {
	if field == "" {
		return value, nil
	}
	var m map[string]any
	if err := json.Unmarshal(value, &m); err != nil || m == nil {
		return nil, errs.Newf("conn.stamp", errs.ErrValidation, "stamped value must be a JSON object")
	}
	m[field] = at
	return Encode(m)
}
