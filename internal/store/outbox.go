package store

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/njoerd114/vaultsync/internal/model"
)

// queueRow is the sync_queue row shape; model.SyncQueueItem uses named
// string types that database/sql cannot scan into directly.
type queueRow struct {
	ID        int64  `db:"id"`
	Operation string `db:"operation"`
	Store     string `db:"store"`
	Data      string `db:"data"`
	Timestamp int64  `db:"timestamp"`
}

func (r queueRow) item() model.SyncQueueItem {
	return model.SyncQueueItem{
		ID:        r.ID,
		Operation: model.Operation(r.Operation),
		Store:     model.Collection(r.Store),
		Data:      json.RawMessage(r.Data),
		Timestamp: r.Timestamp,
	}
}

// Append writes one sync queue entry in its own transaction.
func (e *Engine) Append(ctx context.Context, op model.Operation, c model.Collection, data json.RawMessage) error {
	return e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := appendTx(ctx, tx, op, c, data, e.now().UnixMilli()); err != nil {
			return fmt.Errorf("%w: appending to sync queue: %w", ErrTransactionFailed, err)
		}
		return nil
	})
}

func appendTx(ctx context.Context, tx sqlx.ExecerContext, op model.Operation, c model.Collection, data json.RawMessage, ts int64) error {
	q, args, err := sq.Insert(queueTable).
		Columns("operation", "store", "data", "timestamp").
		Values(string(op), string(c), string(data), ts).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	_, err = tx.ExecContext(ctx, q, args...)
	return err
}

// Queue returns every pending sync queue entry in insertion order.
func (e *Engine) Queue(ctx context.Context) ([]model.SyncQueueItem, error) {
	q, args, err := sq.Select("id", "operation", "store", "data", "timestamp").
		From(queueTable).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var rows []queueRow
	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, q, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("reading sync queue: %w", err)
	}

	items := make([]model.SyncQueueItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item())
	}
	return items, nil
}

// QueueLen reports how many entries are pending.
func (e *Engine) QueueLen(ctx context.Context) (int, error) {
	var n int
	err := e.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM sync_queue`)
	})
	if err != nil {
		return 0, fmt.Errorf("counting sync queue: %w", err)
	}
	return n, nil
}

// ClearQueue removes every pending entry.
func (e *Engine) ClearQueue(ctx context.Context) error {
	return e.clearQueue(ctx, sq.Delete(queueTable))
}

// ClearQueueThrough removes entries with id <= maxID, leaving anything
// appended after a batch was read.
func (e *Engine) ClearQueueThrough(ctx context.Context, maxID int64) error {
	return e.clearQueue(ctx, sq.Delete(queueTable).Where(sq.LtOrEq{"id": maxID}))
}

func (e *Engine) clearQueue(ctx context.Context, b sq.DeleteBuilder) error {
	q, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	return e.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%w: clearing sync queue: %w", ErrTransactionFailed, err)
		}
		return nil
	})
}
