package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/njoerd114/vaultsync/internal/model"
)

// SchemaVersion is the version stamped into PRAGMA user_version once all
// migrations have run.
const SchemaVersion = 1

const queueTable = "sync_queue"

// tables maps each collection to its SQLite table. Table names are only ever
// taken from here, never from caller input.
var tables = map[model.Collection]string{
	model.Habits:    "habits",
	model.Dailies:   "dailies",
	model.Todos:     "todos",
	model.Rewards:   "rewards",
	model.Users:     "users",
	model.SyncQueue: queueTable,
}

func tableFor(c model.Collection) (string, error) {
	t, ok := tables[c]
	if !ok || t == queueTable {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return t, nil
}

type migration struct {
	version int
	stmts   []string
}

// migrations are applied in order for every version above the stored one.
// Every statement is IF NOT EXISTS so a partially applied step can re-run.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS habits (
				id   INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_habits_updated_at ON habits (json_extract(data, '$.updatedAt'))`,

			`CREATE TABLE IF NOT EXISTS dailies (
				id   INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dailies_updated_at ON dailies (json_extract(data, '$.updatedAt'))`,
			`CREATE INDEX IF NOT EXISTS idx_dailies_due_date   ON dailies (json_extract(data, '$.dueDate'))`,

			`CREATE TABLE IF NOT EXISTS todos (
				id   INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_todos_updated_at ON todos (json_extract(data, '$.updatedAt'))`,
			`CREATE INDEX IF NOT EXISTS idx_todos_priority   ON todos (json_extract(data, '$.priority'))`,
			`CREATE INDEX IF NOT EXISTS idx_todos_completed  ON todos (json_extract(data, '$.completed'))`,

			`CREATE TABLE IF NOT EXISTS rewards (
				id   INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rewards_updated_at ON rewards (json_extract(data, '$.updatedAt'))`,
			`CREATE INDEX IF NOT EXISTS idx_rewards_cost       ON rewards (json_extract(data, '$.cost'))`,

			`CREATE TABLE IF NOT EXISTS users (
				id   INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_updated_at ON users (json_extract(data, '$.updatedAt'))`,

			`CREATE TABLE IF NOT EXISTS sync_queue (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				operation TEXT    NOT NULL,
				store     TEXT    NOT NULL,
				data      TEXT    NOT NULL,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_timestamp ON sync_queue (timestamp)`,
		},
	},
}

// migrate brings the schema up to SchemaVersion. Running it against a
// current schema changes nothing.
func migrate(ctx context.Context, db *sqlx.DB) (from int, err error) {
	if err := db.GetContext(ctx, &from, `PRAGMA user_version`); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if from >= SchemaVersion {
		return from, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return from, fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range migrations {
		if m.version <= from {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return from, fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
		return from, fmt.Errorf("stamping schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return from, fmt.Errorf("commit migration: %w", err)
	}
	return from, nil
}
