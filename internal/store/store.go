// Package store is the local persistence engine. It owns a versioned SQLite
// database holding one table per entity collection plus the sync queue, and
// exposes collection-agnostic CRUD on JSON documents.
//
// Every logical operation checks out its own connection, runs one
// transaction, and releases the connection. No handle is held across calls.
//
// Only this package may open or query the database. All other packages
// receive an [*Engine] and call its functions.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/vaultsync/internal/events"
)

// Engine is the SQLite-backed collection store.
type Engine struct {
	db   *sqlx.DB
	path string
	log  *slog.Logger
	bus  events.Publisher

	newID        func() int64
	now          func() time.Time
	atomicOutbox bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPublisher sets where database status events go. nil keeps the
// default, which drops them.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.bus = p
		}
	}
}

// WithClock overrides the time source used for ids, timestamps and queue
// entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the generator used for records created without
// an id.
func WithIDGenerator(gen func() int64) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithAtomicOutbox makes each domain write and its sync queue entry commit
// in one transaction. When false (the default) the queue entry is written
// afterwards and a failure there is logged without failing the write.
func WithAtomicOutbox(atomic bool) Option {
	return func(e *Engine) { e.atomicOutbox = atomic }
}

// NewEngine wraps an already-open database without touching its schema.
// Open is the normal entry point; this exists for callers that manage the
// handle themselves.
func NewEngine(db *sqlx.DB, opts ...Option) *Engine {
	e := &Engine{
		db:  db,
		log: slog.Default(),
		bus: events.Discard,
		now: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.newID == nil {
		e.newID = func() int64 { return NewID(e.now()) }
	}
	return e
}

// Open opens (or creates) the database at path, verifies its integrity and
// brings the schema up to [SchemaVersion]. Any failure is reported as
// [ErrStorageUnavailable].
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	e := NewEngine(nil, opts...)
	e.path = path

	e.bus.Publish(events.Event{Kind: events.DBInitializing, Message: "Opening database connection..."})

	db, err := e.open(ctx, path)
	if err != nil {
		e.bus.Publish(events.Event{Kind: events.DBError, Message: err.Error(), Err: err})
		return nil, err
	}
	e.db = db

	e.bus.Publish(events.Event{Kind: events.DBReady, Message: "Database connection established"})
	return e, nil
}

func (e *Engine) open(ctx context.Context, path string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating database directory: %w", ErrStorageUnavailable, err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database %q: %w", ErrStorageUnavailable, path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	fail := func(format string, err error) (*sqlx.DB, error) {
		_ = db.Close()
		return nil, fmt.Errorf("%w: "+format+": %w", ErrStorageUnavailable, err)
	}

	if err := db.PingContext(ctx); err != nil {
		return fail("connecting to database", err)
	}

	var check string
	if err := db.GetContext(ctx, &check, `PRAGMA quick_check`); err != nil {
		return fail("integrity check", err)
	}
	if check != "ok" {
		return fail("integrity check", fmt.Errorf("database is corrupt: %s", check))
	}

	from, err := migrate(ctx, db)
	if err != nil {
		return fail("applying schema", err)
	}
	if from < SchemaVersion {
		e.bus.Publish(events.Event{Kind: events.DBInitializing, Message: "Creating database schema..."})
		e.log.Info("database schema upgraded", "from", from, "to", SchemaVersion, "path", path)
	}
	return db, nil
}

// Close releases the underlying database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Ping reports whether the database is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Info describes the open database.
type Info struct {
	Path        string
	Version     int
	Collections []string
}

// Info returns the schema version and table names of the open database.
func (e *Engine) Info(ctx context.Context) (Info, error) {
	info := Info{Path: e.path}
	err := e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &info.Version, `PRAGMA user_version`); err != nil {
			return err
		}
		return tx.SelectContext(ctx, &info.Collections,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	})
	if err != nil {
		return Info{}, fmt.Errorf("reading database info: %w", err)
	}
	sort.Strings(info.Collections)
	return info, nil
}

// withTx runs fn inside one transaction on a freshly checked-out connection.
// Connection failures are ErrStorageUnavailable; everything else is
// ErrTransactionFailed unless fn already classified it.
func (e *Engine) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	conn, err := e.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquiring connection: %w", ErrStorageUnavailable, err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, err)
	}
	committed = true
	return nil
}
