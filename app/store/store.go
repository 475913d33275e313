// Package store owns the per-session row store: one temporary SQLite file
// holding the ingested rows, the annotation tables and the search index.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"casefile/app/settings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("store is closed")
	// ErrNoSchema is returned when rows are inserted before CreateSchema.
	ErrNoSchema = errors.New("store has no schema")
	// ErrUnknownRow is returned when an annotation names a row key that does not exist.
	ErrUnknownRow = errors.New("unknown row key")
)

// Logger interface for store logging
type Logger interface {
	Log(level, message string)
}

type nopLogger struct{}

func (nopLogger) Log(string, string) {}

// Options configures a store. Zero values fall back to the defaults of
// settings.Default().
type Options struct {
	Dir                  string
	BatchSize            int
	MaxBoundParams       int
	MaxRowsPerInsert     int
	NumericSampleRows    int
	NumericThreshold     float64
	SearchIndexChunkRows int
	Logger               Logger
}

// OptionsFromSettings maps engine settings onto store options.
func OptionsFromSettings(s settings.Settings, logger Logger) Options {
	return Options{
		Dir:                  s.StoreDir(),
		BatchSize:            s.BatchSize,
		MaxBoundParams:       s.MaxBoundParams,
		MaxRowsPerInsert:     s.MaxRowsPerInsert,
		NumericSampleRows:    s.NumericSampleRows,
		NumericThreshold:     s.NumericThreshold,
		SearchIndexChunkRows: s.SearchIndexChunkRows,
		Logger:               logger,
	}
}

func (o Options) withDefaults() Options {
	d := settings.Default()
	if o.Dir == "" {
		o.Dir = d.StoreDir()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxBoundParams <= 0 {
		o.MaxBoundParams = d.MaxBoundParams
	}
	if o.MaxRowsPerInsert <= 0 {
		o.MaxRowsPerInsert = d.MaxRowsPerInsert
	}
	if o.NumericSampleRows <= 0 {
		o.NumericSampleRows = d.NumericSampleRows
	}
	if o.NumericThreshold <= 0 {
		o.NumericThreshold = d.NumericThreshold
	}
	if o.SearchIndexChunkRows <= 0 {
		o.SearchIndexChunkRows = d.SearchIndexChunkRows
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	return o
}

// Store is one session's storage. All access goes through a single
// connection, so callers must finish reading a result set before issuing
// the next statement.
type Store struct {
	db   *sql.DB
	path string
	opts Options

	mu       sync.RWMutex
	columns  []Column
	byName   map[string]int
	rowCount int64
	final    bool
	sortIdx  map[string]bool

	loadMu sync.Mutex
	args   []any

	search searchIndex

	closed            atomic.Bool
	annotationVersion atomic.Int64
}

// New creates an empty store backed by a fresh file in opts.Dir and applies
// bulk-load tuning.
func New(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	path := filepath.Join(opts.Dir, "casefile-"+uuid.NewString()+".db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:      db,
		path:    path,
		opts:    opts,
		byName:  make(map[string]int),
		sortIdx: make(map[string]bool),
	}
	s.search.state = stateNotBuilt
	if err := s.execAll(ctx, bulkPragmas); err != nil {
		s.discard()
		return nil, fmt.Errorf("failed to configure store: %w", err)
	}
	return s, nil
}

var bulkPragmas = []string{
	"PRAGMA journal_mode=OFF",
	"PRAGMA synchronous=OFF",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA cache_size=-262144",
	"PRAGMA page_size=65536",
}

var queryPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA cache_size=-131072",
	"PRAGMA mmap_size=1073741824",
}

func (s *Store) execAll(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

// Close runs a best-effort optimize, releases the connection and deletes
// the backing files. Failures are logged and otherwise ignored.
func (s *Store) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.search.abort()
	if _, err := s.db.Exec("PRAGMA optimize"); err != nil {
		s.opts.Logger.Log("debug", fmt.Sprintf("[CLOSE] optimize skipped: %v", err))
	}
	s.discard()
}

// discard releases the connection and removes the file and its WAL/SHM
// side files.
func (s *Store) discard() {
	s.closed.Store(true)
	if err := s.db.Close(); err != nil {
		s.opts.Logger.Log("warn", fmt.Sprintf("[CLOSE] failed to close %s: %v", s.path, err))
	}
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm", s.path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.opts.Logger.Log("warn", fmt.Sprintf("[CLOSE] failed to remove %s: %v", p, err))
		}
	}
}

// QueryContext runs a read against the store and returns ErrClosed once
// the store is closed. The store has a single connection: the returned rows
// hold it until they are closed, so callers must not issue another
// statement on s while iterating.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row read. Errors, including a closed
// store, surface from Scan.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// AnnotationVersion changes whenever a bookmark or tag changes.
func (s *Store) AnnotationVersion() int64 {
	return s.annotationVersion.Load()
}
