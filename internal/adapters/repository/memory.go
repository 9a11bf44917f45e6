package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/pkg/metrics"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	opts options

	mu     sync.RWMutex
	docs   map[string]Document
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts: buildOptions(opts),
		docs: make(map[string]Document),
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (Document, error) {
	const op = "memory.get"
	if err := validatePath(op, path); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Document{}, errs.Wrap(op, ErrStoreClosed)
	}
	d, ok := s.docs[path]
	if !ok {
		return Document{}, errs.WrapKind(op, errs.ErrNotFound, ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Document, error) {
	const op = "memory.list"
	if err := validatePath(op, prefix); err != nil {
		return nil, err
	}
	base := prefix + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap(op, ErrStoreClosed)
	}
	var out []Document
	for p, d := range s.docs {
		if strings.HasPrefix(p, base) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value json.RawMessage) (Document, error) {
	return s.write("memory.set", path, value, -1)
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, path string, value json.RawMessage, expected int64) (Document, error) {
	if expected < 0 {
		return Document{}, errs.Newf("memory.cas", errs.ErrValidation, "negative expected version")
	}
	return s.write("memory.cas", path, value, expected)
}

// write stores value; expected < 0 skips the version check.
func (s *MemoryStore) write(op, path string, value json.RawMessage, expected int64) (Document, error) {
	if err := validatePath(op, path); err != nil {
		return Document{}, err
	}
	if !json.Valid(value) {
		return Document{}, errs.Newf(op, errs.ErrValidation, "value is not valid JSON")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Document{}, errs.Wrap(op, ErrStoreClosed)
	}
	cur := s.docs[path]
	if expected >= 0 && cur.Version != expected {
		s.mu.Unlock()
		metrics.RecordStoreConflict()
		return Document{}, errs.WrapKind(op, errs.ErrConflict, ErrVersionMismatch)
	}
	d := Document{
		Path:      path,
		Value:     append(json.RawMessage(nil), value...),
		Version:   cur.Version + 1,
		UpdatedAt: s.opts.now(),
	}
	s.docs[path] = d
	s.mu.Unlock()

	metrics.RecordStoreWrite("set")
	s.opts.emit(path, d.UpdatedAt, false)
	return d, nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	return s.remove("memory.delete", path, -1)
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, path string, expected int64) error {
	if expected <= 0 {
		return errs.Newf("memory.cad", errs.ErrValidation, "expected version must be positive")
	}
	return s.remove("memory.cad", path, expected)
}

func (s *MemoryStore) remove(op, path string, expected int64) error {
	if err := validatePath(op, path); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.Wrap(op, ErrStoreClosed)
	}
	cur, ok := s.docs[path]
	if expected >= 0 && cur.Version != expected {
		s.mu.Unlock()
		metrics.RecordStoreConflict()
		return errs.WrapKind(op, errs.ErrConflict, ErrVersionMismatch)
	}
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs, path)
	s.mu.Unlock()

	metrics.RecordStoreWrite("delete")
	s.opts.emit(path, s.opts.now(), true)
	return nil
}

// Connect returns a liveness handle. Registrations live only as long as the
// process.
func (s *MemoryStore) Connect(ctx context.Context, id string) (*Conn, error) {
	if id == "" {
		return nil, errs.Newf("memory.connect", errs.ErrValidation, "connection id is required")
	}
	return newConn(id, s, nil, s.opts.now), nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
