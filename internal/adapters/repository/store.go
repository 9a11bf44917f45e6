// Package repository is the durable keyed state store behind the session.
//
// Values are JSON documents addressed by slash-separated paths. Every
// document carries a version that increases on each write, which backs
// optimistic-concurrency transactions. Committed writes are reported to an
// optional change hook that drives subscriber fan-out.
package repository

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
)

// Document is a stored value.
type Document struct {
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt int64           `json:"updatedAt"`
}

// Store provides keyed document storage.
type Store interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)

	// List returns every document strictly below prefix, ordered by path.
	List(ctx context.Context, prefix string) ([]Document, error)

	// Set writes value unconditionally (last write wins).
	Set(ctx context.Context, path string, value json.RawMessage) (Document, error)

	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// CompareAndSet writes value only if the stored version equals expected.
	// expected == 0 means the path must not exist. Returns ErrVersionMismatch
	// when the precondition fails.
	CompareAndSet(ctx context.Context, path string, value json.RawMessage, expected int64) (Document, error)

	// CompareAndDelete removes path only if the stored version equals expected.
	CompareAndDelete(ctx context.Context, path string, expected int64) error

	// Connect opens a liveness handle for one client connection.
	Connect(ctx context.Context, id string) (*Conn, error)

	// Close releases backend resources.
	Close() error
}

// Recoverer is implemented by backends that keep disconnect registrations
// across restarts.
type Recoverer interface {
	// Recover performs the disconnect writes left behind by a previous
	// process and reports how many ran.
	Recover(ctx context.Context) (int, error)
}

// ChangeHook observes committed writes.
type ChangeHook func(model.Change)

// Encode marshals v for storage.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.WrapKind("repository.encode", errs.ErrValidation, err)
	}
	return b, nil
}

// Decode unmarshals a stored document.
func Decode[T any](d Document) (T, error) {
	var v T
	if err := json.Unmarshal(d.Value, &v); err != nil {
		return v, errs.WrapKind("repository.decode", errs.ErrTransport, err)
	}
	return v, nil
}

// DecodeAll unmarshals a listing, skipping nothing.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := Decode[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Children filters a subtree listing down to direct children of prefix.
func Children(prefix string, docs []Document) []Document {
	base := strings.TrimSuffix(prefix, "/") + "/"
	out := docs[:0:0]
	for _, d := range docs {
		rest := strings.TrimPrefix(d.Path, base)
		if rest != d.Path && rest != "" && !strings.Contains(rest, "/") {
			out = append(out, d)
		}
	}
	return out
}

func validatePath(op, path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return errs.WrapKind(op, errs.ErrValidation, ErrInvalidPath)
	}
	return nil
}
