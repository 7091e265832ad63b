package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DatabaseFileName is the store file created inside the container.
	DatabaseFileName = "pagelog.sqlite"

	// DefaultHistoryRetention bounds the change log.
	DefaultHistoryRetention = 7 * 24 * time.Hour
)

// Options configures Open.
type Options struct {
	// ContainerDir must be an existing directory.
	ContainerDir string
	// FileName defaults to DatabaseFileName.
	FileName string
	// Model defaults to nothing; callers pass DefaultModel().
	Model *Model
	// JournalMode defaults to WAL.
	JournalMode string
	// BusyTimeout defaults to five seconds.
	BusyTimeout time.Duration
	Logger      *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is the process-wide persistent store. It hands out execution
// contexts and serializes commits through a single writer lock.
type Store struct {
	mu sync.RWMutex
	db *sql.DB

	writeMu sync.Mutex
	model   *Model
	path    string
	logger  *slog.Logger
	now     func() time.Time

	viewMu sync.Mutex
	view   *ExecutionContext
	seq    atomic.Int64
}

// Open validates the container and model, opens the SQLite file, runs
// migrations and checks that every modelled entity has a table.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.ContainerDir == "" {
		return nil, ErrMissingContainer
	}
	info, err := os.Stat(opts.ContainerDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrMissingContainer, opts.ContainerDir)
	}
	if opts.Model == nil {
		return nil, ErrMissingModel
	}
	if len(opts.Model.migrations) == 0 {
		return nil, fmt.Errorf("%w: model %q has no migrations", ErrMissingSchema, opts.Model.name)
	}

	if opts.FileName == "" {
		opts.FileName = DatabaseFileName
	}
	if opts.JournalMode == "" {
		opts.JournalMode = "WAL"
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	path := filepath.Join(opts.ContainerDir, opts.FileName)
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d", path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	runner := NewMigrationRunner(db, opts.Model)
	runner.journalMode = opts.JournalMode
	if err := runner.Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := verifySchema(ctx, db, opts.Model); err != nil {
		db.Close()
		return nil, err
	}

	opts.Logger.Debug("opened store", "path", path, "model", opts.Model.name)
	return &Store{
		db:     db,
		model:  opts.Model,
		path:   path,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

func verifySchema(ctx context.Context, db *sql.DB, m *Model) error {
	for _, d := range m.entities {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", d.table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: table %s for %s", ErrMissingSchema, d.table, d.name)
		}
		if err != nil {
			return fmt.Errorf("verify schema: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Model returns the store's data model.
func (s *Store) Model() *Model { return s.model }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrMissingStore
	}
	return s.db, nil
}

// NewBackgroundContext returns a fresh isolated execution context.
func (s *Store) NewBackgroundContext() (*ExecutionContext, error) {
	if _, err := s.handle(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("background-%d", s.seq.Add(1))
	return newExecutionContext(s, name, false), nil
}

// ViewContext returns the observation context. Background commits are
// merged into it at the start of each of its Perform calls.
func (s *Store) ViewContext() (*ExecutionContext, error) {
	if _, err := s.handle(); err != nil {
		return nil, err
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	if s.view == nil {
		s.view = newExecutionContext(s, "view", true)
	}
	return s.view, nil
}

// ResetViewContext drops every object registered in the view context.
// It does nothing before the view context is first requested.
func (s *Store) ResetViewContext(ctx context.Context) error {
	s.viewMu.Lock()
	view := s.view
	s.viewMu.Unlock()
	if view == nil {
		return nil
	}
	return view.Perform(ctx, func(context.Context) error {
		view.Reset()
		return nil
	})
}

// Close releases the database. Later operations fail with ErrMissingStore.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// PruneTransactionHistory deletes change-log entries older than olderThan
// (DefaultHistoryRetention when zero). Entities are never touched.
func (s *Store) PruneTransactionHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = DefaultHistoryRetention
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)
	res, err := db.ExecContext(ctx,
		"DELETE FROM transaction_history WHERE committed_at < ?", formatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune transaction history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Info("pruned transaction history", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// HousekeepingResult counts what PerformHousekeeping removed.
type HousekeepingResult struct {
	Pages      int
	Categories int
}

// PerformHousekeeping deletes Pages created before January 1 of last year
// that have neither views nor a SaveInfo, and Categories with no views.
// Page views are never removed here.
func (s *Store) PerformHousekeeping(ctx context.Context) (HousekeepingResult, error) {
	var res HousekeepingResult
	now := s.now().UTC()
	cutoff := time.Date(now.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)

	pages, err := s.deleteWhere(ctx, "housekeeping", pageEntity, `timestamp < ?
		AND NOT EXISTS (SELECT 1 FROM page_views v WHERE v.page_id = pages.id)
		AND NOT EXISTS (SELECT 1 FROM save_infos i WHERE i.page_id = pages.id)`,
		[]any{formatTimestamp(cutoff)})
	if err != nil {
		return res, fmt.Errorf("delete orphan pages: %w", err)
	}
	res.Pages = len(pages)

	cats, err := s.deleteWhere(ctx, "housekeeping", categoryEntity, `NOT EXISTS (
		SELECT 1 FROM page_view_categories a WHERE a.category_id = categories.id)`, nil)
	if err != nil {
		return res, fmt.Errorf("delete empty categories: %w", err)
	}
	res.Categories = len(cats)

	s.logger.Info("housekeeping complete", "pages", res.Pages, "categories", res.Categories)
	return res, nil
}

// deleteWhere deletes rows of d matching a raw SQL condition in one
// transaction, records them in the change log and tells the view context.
func (s *Store) deleteWhere(ctx context.Context, contextName string, d *entityDescription, where string, args []any) ([]string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, "DELETE FROM "+d.table+" WHERE "+where+" RETURNING id", args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cs := &changeSet{id: newObjectID(), context: contextName, committedAt: s.now()}
	for _, id := range ids {
		cs.changes = append(cs.changes, objectChange{entity: d, id: id, op: opDelete})
	}
	if err := writeHistory(ctx, tx, cs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	s.broadcast(nil, cs)
	return ids, nil
}

// BatchDelete deletes every committed object of type T matching pred
// immediately, bypassing the context's pending changes, and evicts the
// deleted objects from ec.
func BatchDelete[T any, PT interface {
	*T
	Entity
}](ctx context.Context, ec *ExecutionContext, pred Predicate) (int, error) {
	d := PT(new(T)).entity()
	if err := validateKeys(d, pred, nil); err != nil {
		return 0, err
	}
	where, args := And(pred).sql(d)
	ids, err := ec.store.deleteWhere(ctx, ec.name, d, where, args)
	if err != nil {
		return 0, fmt.Errorf("batch delete %s: %w", d.name, err)
	}
	ec.evict(ids)
	return len(ids), nil
}

// Count returns the number of committed objects of type T matching pred.
func Count[T any, PT interface {
	*T
	Entity
}](ctx context.Context, ec *ExecutionContext, pred Predicate) (int64, error) {
	d := PT(new(T)).entity()
	var n int64
	err := ec.store.queryAggregate(ctx, d, "COUNT(*)", pred, &n)
	return n, err
}

// Sum returns the sum of the integer key over committed objects of type T
// matching pred, or 0 when nothing matches.
func Sum[T any, PT interface {
	*T
	Entity
}](ctx context.Context, ec *ExecutionContext, key string, pred Predicate) (int64, error) {
	d := PT(new(T)).entity()
	i, ok := d.columnIndex(key)
	if !ok || d.columns[i].kind != kindInt {
		return 0, fmt.Errorf("%w %q: not an integer column of %s", ErrUnknownKey, key, d.name)
	}
	var n int64
	err := ec.store.queryAggregate(ctx, d, "COALESCE(SUM("+key+"), 0)", pred, &n)
	return n, err
}

// CountGrouped counts committed objects of type T matching pred, grouped
// by the value of key.
func CountGrouped[T any, PT interface {
	*T
	Entity
}](ctx context.Context, ec *ExecutionContext, key string, pred Predicate) (map[string]int64, error) {
	d := PT(new(T)).entity()
	if err := validateKeys(d, pred, []SortDescriptor{{Key: key}}); err != nil {
		return nil, err
	}
	db, err := ec.store.handle()
	if err != nil {
		return nil, err
	}
	where, args := And(pred).sql(d)
	rows, err := db.QueryContext(ctx,
		"SELECT "+key+", COUNT(*) FROM "+d.table+" WHERE "+where+" GROUP BY "+key, args...)
	if err != nil {
		return nil, fmt.Errorf("count %s by %s: %w", d.name, key, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k sql.NullString
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k.String] = n
	}
	return out, rows.Err()
}

// maxInSetSize bounds the values bound to one IN clause by FetchIn and
// CountGroupedIn.
const maxInSetSize = 500

func chunked[V any](values []V, size int) [][]V {
	var out [][]V
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

// FetchIn is Fetch restricted to objects whose key is one of values. Large
// value sets are queried in chunks; sort and limit apply to the union.
func FetchIn[T any, PT interface {
	*T
	Entity
}, V any](ctx context.Context, ec *ExecutionContext, key string, values []V, req FetchRequest) ([]PT, error) {
	d := PT(new(T)).entity()
	limit := req.Limit
	req.Limit = 0
	base := req.Predicate

	var all []Entity
	seen := make(map[string]bool)
	for _, chunk := range chunked(values, maxInSetSize) {
		req.Predicate = And(base, In(key, chunk))
		found, err := Fetch[T, PT](ctx, ec, req)
		if err != nil {
			return nil, err
		}
		for _, obj := range found {
			if id := obj.ObjectID(); !seen[id] {
				seen[id] = true
				all = append(all, obj)
			}
		}
	}
	sortEntities(d, all, req.SortBy)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]PT, len(all))
	for i, o := range all {
		out[i] = o.(PT)
	}
	return out, nil
}

// CountGroupedIn is CountGrouped over objects whose inKey is one of
// values, queried in chunks.
func CountGroupedIn[T any, PT interface {
	*T
	Entity
}, V any](ctx context.Context, ec *ExecutionContext, key, inKey string, values []V, pred Predicate) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, chunk := range chunked(values, maxInSetSize) {
		counts, err := CountGrouped[T, PT](ctx, ec, key, And(pred, In(inKey, chunk)))
		if err != nil {
			return nil, err
		}
		for k, n := range counts {
			out[k] += n
		}
	}
	return out, nil
}

func (s *Store) queryAggregate(ctx context.Context, d *entityDescription, expr string, pred Predicate, dest any) error {
	if err := validateKeys(d, pred, nil); err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	where, args := And(pred).sql(d)
	if err := db.QueryRowContext(ctx, "SELECT "+expr+" FROM "+d.table+" WHERE "+where, args...).Scan(dest); err != nil {
		return fmt.Errorf("aggregate %s: %w", d.name, err)
	}
	return nil
}

// Stats returns aggregate statistics about the store.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	stats := &Stats{}

	counts := []struct {
		table string
		dest  *int64
	}{
		{"pages", &stats.Pages},
		{"save_infos", &stats.SavedPages},
		{"page_views", &stats.PageViews},
		{"categories", &stats.Categories},
		{"transaction_history", &stats.HistoryEntries},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	if stats.PageViews > 0 {
		var oldest, newest string
		err := db.QueryRowContext(ctx,
			"SELECT MIN(timestamp), MAX(timestamp) FROM page_views").Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("page view time range: %w", err)
		}
		stats.OldestPageView, _ = parseTimestamp(oldest)
		stats.NewestPageView, _ = parseTimestamp(newest)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT p.project_id, COUNT(*) AS cnt
		FROM page_views v JOIN pages p ON p.id = v.page_id
		GROUP BY p.project_id ORDER BY cnt DESC, p.project_id LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("top projects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pc ProjectCount
		if err := rows.Scan(&pc.ProjectID, &pc.Views); err != nil {
			return nil, err
		}
		stats.TopProjects = append(stats.TopProjects, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeBytes = info.Size()
	}
	return stats, nil
}
