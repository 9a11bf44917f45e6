package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/okian/putmeon/internal/adapters/repository/migrations"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
	_ "modernc.org/sqlite"
)

const migrationTable = "schema_migrations"

// SQLiteStore persists documents in a SQLite database.
type SQLiteStore struct {
	opts options
	db   *sql.DB

	mu     sync.Mutex // serializes writes so hooks observe commit order
	closed bool
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ Recoverer = (*SQLiteStore)(nil)
)

// OpenSQLite opens (or creates) the database at path and applies migrations.
// Disconnect writes left behind by a previous process stay pending until
// Recover runs.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Newf("sqlite.open", errs.ErrValidation, "sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o755); err != nil {
			return nil, errs.WrapKind("sqlite.open", errs.ErrTransport, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.WrapKind("sqlite.open", errs.ErrTransport, fmt.Errorf("open database: %w", err))
	}
	// One connection keeps pragmas and :memory: databases consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		_ = db.Close()
		return nil, errs.WrapKind("sqlite.open", errs.ErrTransport, fmt.Errorf("configure database: %w", err))
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, errs.WrapKind("sqlite.open", errs.ErrTransport, err)
	}

	return &SQLiteStore{opts: buildOptions(opts), db: db}, nil
}

// applyMigrations runs each embedded .sql file once, in name order.
func applyMigrations(ctx context.Context, db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range files {
		var found int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM `+migrationTable+` WHERE name = ?`, name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}

		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, strftime('%s','now'))`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	i := strings.Index(content, up)
	if i < 0 {
		return content
	}
	rest := content[i+len(up):]
	if j := strings.Index(rest, down); j >= 0 {
		return rest[:j]
	}
	return rest
}

func (s *SQLiteStore) Get(ctx context.Context, path string) (Document, error) {
	const op = "sqlite.get"
	if err := validatePath(op, path); err != nil {
		return Document{}, err
	}
	d := Document{Path: path}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version, updated_at FROM documents WHERE path = ?`, path,
	).Scan(&raw, &d.Version, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, errs.WrapKind(op, errs.ErrNotFound, ErrNotFound)
	}
	if err != nil {
		return Document{}, s.transport(op, err)
	}
	d.Value = json.RawMessage(raw)
	return d, nil
}

// List uses the range [prefix+"/", prefix+"0") since '0' sorts right after '/'.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Document, error) {
	const op = "sqlite.list"
	if err := validatePath(op, prefix); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value, version, updated_at FROM documents
		 WHERE path > ? AND path < ? ORDER BY path`,
		prefix+"/", prefix+"0",
	)
	if err != nil {
		return nil, s.transport(op, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d   Document
			raw string
		)
		if err := rows.Scan(&d.Path, &raw, &d.Version, &d.UpdatedAt); err != nil {
			return nil, s.transport(op, err)
		}
		d.Value = json.RawMessage(raw)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.transport(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) Set(ctx context.Context, path string, value json.RawMessage) (Document, error) {
	return s.write(ctx, "sqlite.set", path, value, -1)
}

func (s *SQLiteStore) CompareAndSet(ctx context.Context, path string, value json.RawMessage, expected int64) (Document, error) {
	if expected < 0 {
		return Document{}, errs.Newf("sqlite.cas", errs.ErrValidation, "negative expected version")
	}
	return s.write(ctx, "sqlite.cas", path, value, expected)
}

func (s *SQLiteStore) write(ctx context.Context, op, path string, value json.RawMessage, expected int64) (Document, error) {
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
	now := s.opts.now()
	var (
		res sql.Result
		err error
	)
	switch {
	case expected < 0:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO documents (path, value, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(path) DO UPDATE SET value = excluded.value, version = documents.version + 1, updated_at = excluded.updated_at`,
			path, string(value), now)
	case expected == 0:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO documents (path, value, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(path) DO NOTHING`,
			path, string(value), now)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE documents SET value = ?, version = version + 1, updated_at = ?
			WHERE path = ? AND version = ?`,
			string(value), now, path, expected)
	}
	if err != nil {
		s.mu.Unlock()
		return Document{}, s.transport(op, err)
	}
	if expected >= 0 {
		if n, _ := res.RowsAffected(); n == 0 {
			s.mu.Unlock()
			metrics.RecordStoreConflict()
			return Document{}, errs.WrapKind(op, errs.ErrConflict, ErrVersionMismatch)
		}
	}
	var version int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM documents WHERE path = ?`, path).Scan(&version); err != nil {
		s.mu.Unlock()
		return Document{}, s.transport(op, err)
	}
	s.mu.Unlock()

	metrics.RecordStoreWrite("set")
	s.opts.emit(path, now, false)
	return Document{Path: path, Value: value, Version: version, UpdatedAt: now}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	return s.remove(ctx, "sqlite.delete", path, -1)
}

func (s *SQLiteStore) CompareAndDelete(ctx context.Context, path string, expected int64) error {
	if expected <= 0 {
		return errs.Newf("sqlite.cad", errs.ErrValidation, "expected version must be positive")
	}
	return s.remove(ctx, "sqlite.cad", path, expected)
}

func (s *SQLiteStore) remove(ctx context.Context, op, path string, expected int64) error {
	if err := validatePath(op, path); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.Wrap(op, ErrStoreClosed)
	}
	var (
		res sql.Result
		err error
	)
	if expected > 0 {
		res, err = s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ? AND version = ?`, path, expected)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	}
	if err != nil {
		s.mu.Unlock()
		return s.transport(op, err)
	}
	n, _ := res.RowsAffected()
	s.mu.Unlock()

	if n == 0 {
		if expected > 0 {
			metrics.RecordStoreConflict()
			return errs.WrapKind(op, errs.ErrConflict, ErrVersionMismatch)
		}
		return nil
	}
	metrics.RecordStoreWrite("delete")
	s.opts.emit(path, s.opts.now(), true)
	return nil
}

// Connect returns a liveness handle whose registrations are persisted.
func (s *SQLiteStore) Connect(ctx context.Context, id string) (*Conn, error) {
	if id == "" {
		return nil, errs.Newf("sqlite.connect", errs.ErrValidation, "connection id is required")
	}
	return newConn(id, s, s, s.opts.now), nil
}

func (s *SQLiteStore) saveDisconnect(ctx context.Context, connID string, w disconnectWrite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disconnect_writes (conn_id, path, value, stamp_field, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conn_id, path) DO UPDATE SET value = excluded.value, stamp_field = excluded.stamp_field`,
		connID, w.Path, string(w.Value), w.StampField, s.opts.now())
	if err != nil {
		return s.transport("sqlite.save_disconnect", err)
	}
	return nil
}

func (s *SQLiteStore) dropDisconnect(ctx context.Context, connID, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM disconnect_writes WHERE conn_id = ? AND path = ?`, connID, path); err != nil {
		return s.transport("sqlite.drop_disconnect", err)
	}
	return nil
}

func (s *SQLiteStore) dropDisconnects(ctx context.Context, connID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM disconnect_writes WHERE conn_id = ?`, connID); err != nil {
		return s.transport("sqlite.drop_disconnects", err)
	}
	return nil
}

// Recover treats every registration still on disk as a dropped connection of
// a process that died, and reports how many writes it performed. The writes
// go through the change hook, so whatever drains the hook must be running.
func (s *SQLiteStore) Recover(ctx context.Context) (int, error) {
	const op = "sqlite.recover"
	rows, err := s.db.QueryContext(ctx, `SELECT conn_id, path, value, stamp_field FROM disconnect_writes ORDER BY created_at`)
	if err != nil {
		return 0, s.transport(op, err)
	}
	var pending []disconnectWrite
	for rows.Next() {
		var (
			connID, raw string
			w           disconnectWrite
		)
		if err := rows.Scan(&connID, &w.Path, &raw, &w.StampField); err != nil {
			_ = rows.Close()
			return 0, s.transport(op, err)
		}
		w.Value = json.RawMessage(raw)
		pending = append(pending, w)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, s.transport(op, err)
	}

	for _, w := range pending {
		if err := applyDisconnect(ctx, s, w, s.opts.now()); err != nil {
			return 0, errs.Wrap(op, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM disconnect_writes`); err != nil {
		return 0, s.transport(op, err)
	}
	if len(pending) > 0 {
		s.opts.logger.Info(ctx, "applied disconnect writes from previous run", logger.Int("count", len(pending)))
	}
	return len(pending), nil
}

func (s *SQLiteStore) transport(op string, err error) error {
	metrics.RecordErrorByComponent("repository", "sqlite")
	return errs.WrapKind(op, errs.ErrTransport, err)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
