// Package kvstore persists small JSON-encoded flags and settings in a
// SQLite file of their own.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the settings database created next to the main store.
const FileName = "settings.sqlite"

// ErrNotFound is returned by Load for absent keys.
var ErrNotFound = errors.New("kvstore: key not found")

// DecodeError is returned by Load when a stored value does not decode
// into the requested type.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("kvstore: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Store is a key/value store backed by a key_values table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for lenient-load warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the settings database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	s, err := New(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a Store on an already opened database, creating the
// key_values table if needed.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS key_values (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create key_values table: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) raw(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM key_values WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load %q: %w", key, err)
	}
	return value, nil
}

// Load decodes the value stored under key. It returns ErrNotFound for an
// absent key and a *DecodeError for a value that does not decode into T.
func Load[T any](ctx context.Context, s *Store, key string) (T, error) {
	var out T
	value, err := s.raw(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		var zero T
		return zero, &DecodeError{Key: key, Err: err}
	}
	return out, nil
}

// LoadOrDefault is the lenient form of Load: absent keys, corrupt values
// and storage failures all yield def. Everything but absence is logged.
func LoadOrDefault[T any](ctx context.Context, s *Store, key string, def T) T {
	v, err := Load[T](ctx, s, key)
	if err == nil {
		return v
	}
	if !errors.Is(err, ErrNotFound) {
		s.logger.Warn("using default for unreadable setting", "key", key, "error", err)
	}
	return def
}

// Save stores value under key as JSON, replacing any previous value.
func (s *Store) Save(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO key_values (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM key_values WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Entry is a raw stored setting.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entries lists every stored setting ordered by key.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, updated_at FROM key_values ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var updated string
		if err := rows.Scan(&e.Key, &e.Value, &updated); err != nil {
			return nil, err
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
