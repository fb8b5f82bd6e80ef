package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/njoerd114/vaultsync/internal/model"
)

// recordPtr lets the generic functions take *T while still calling the
// Record methods declared on the pointer receiver.
type recordPtr[T any] interface {
	*T
	model.Record
}

// GetAll returns every record in collection c, oldest id first.
//
// Read failures after the connection has been acquired are logged and
// reported as an empty result, so a broken table never takes a read path
// down. A connection failure is still returned as ErrStorageUnavailable.
// Records that no longer decode are skipped.
func GetAll[T any](ctx context.Context, e *Engine, c model.Collection) ([]T, error) {
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	q, args, err := sq.Select("data").From(table).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var docs []string
	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &docs, q, args...)
	})
	if errors.Is(err, ErrStorageUnavailable) {
		return nil, err
	}
	if err != nil {
		e.log.Error("reading collection failed", "collection", c, "error", err)
		return []T{}, nil
	}

	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			e.log.Error("skipping undecodable record", "collection", c, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// GetByID returns the record with the given id, or (nil, nil) if there is
// none.
func GetByID[T any](ctx context.Context, e *Engine, c model.Collection, id int64) (*T, error) {
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	q, args, err := sq.Select("data").From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var doc string
	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &doc, q, args...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s id %d: %w", ErrTransactionFailed, c, id, err)
	}

	var v T
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("%w: decoding %s id %d: %w", ErrTransactionFailed, c, id, err)
	}
	return &v, nil
}

// Create inserts item into c and queues a create operation. When item has
// no id one is generated; if the generated id collides it is regenerated and
// the insert retried once. A collision on a caller-supplied id, or a second
// collision, fails with ErrTransactionFailed and ErrDuplicateID.
func Create[T any, PT recordPtr[T]](ctx context.Context, e *Engine, c model.Collection, item PT) error {
	table, err := tableFor(c)
	if err != nil {
		return err
	}

	generated := item.RecordID() == 0
	if generated {
		item.SetRecordID(e.newID())
	}

	insert := func(tx *sqlx.Tx) (json.RawMessage, error) {
		return insertDoc(ctx, tx, table, item)
	}

	err = e.mutate(ctx, c, model.OpCreate, insert)
	if generated && errors.Is(err, errPrimaryKey) {
		e.log.Warn("id collision, generating new id", "collection", c, "id", item.RecordID())
		item.SetRecordID(e.newID())
		err = e.mutate(ctx, c, model.OpCreate, insert)
	}
	if errors.Is(err, errPrimaryKey) {
		return fmt.Errorf("%w: %w: %s id %d", ErrTransactionFailed, ErrDuplicateID, c, item.RecordID())
	}
	return err
}

// Put inserts or replaces item by primary key and queues an update
// operation. An item without an id is handed to Create instead.
func Put[T any, PT recordPtr[T]](ctx context.Context, e *Engine, c model.Collection, item PT) error {
	if item.RecordID() == 0 {
		return Create[T, PT](ctx, e, c, item)
	}
	table, err := tableFor(c)
	if err != nil {
		return err
	}

	return e.mutate(ctx, c, model.OpUpdate, func(tx *sqlx.Tx) (json.RawMessage, error) {
		doc, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding record: %w", ErrTransactionFailed, err)
		}
		q, args, err := sq.Insert(table).
			Columns("id", "data").
			Values(item.RecordID(), string(doc)).
			Suffix("ON CONFLICT(id) DO UPDATE SET data = excluded.data").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("%w: writing %s id %d: %w", ErrTransactionFailed, c, item.RecordID(), err)
		}
		return doc, nil
	})
}

// Delete removes the record with the given id from c. Deleting an id that
// does not exist is not an error and queues nothing; otherwise the removed
// record is queued as a delete operation.
func (e *Engine) Delete(ctx context.Context, c model.Collection, id int64) error {
	_, err := e.remove(ctx, c, id)
	return err
}

// DeleteExisting is Delete for callers that need the record to have
// existed. It returns ErrNotFound otherwise.
func (e *Engine) DeleteExisting(ctx context.Context, c model.Collection, id int64) error {
	existed, err := e.remove(ctx, c, id)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s id %d", ErrNotFound, c, id)
	}
	return nil
}

func (e *Engine) remove(ctx context.Context, c model.Collection, id int64) (bool, error) {
	table, err := tableFor(c)
	if err != nil {
		return false, err
	}
	sel, selArgs, err := sq.Select("data").From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("building query: %w", err)
	}
	del, delArgs, err := sq.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("building query: %w", err)
	}

	existed := false
	err = e.mutate(ctx, c, model.OpDelete, func(tx *sqlx.Tx) (json.RawMessage, error) {
		var doc string
		err := tx.GetContext(ctx, &doc, sel, selArgs...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s id %d: %w", ErrTransactionFailed, c, id, err)
		}
		if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
			return nil, fmt.Errorf("%w: deleting %s id %d: %w", ErrTransactionFailed, c, id, err)
		}
		existed = true
		return json.RawMessage(doc), nil
	})
	return existed, err
}

func insertDoc(ctx context.Context, tx *sqlx.Tx, table string, item model.Record) (json.RawMessage, error) {
	doc, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding record: %w", ErrTransactionFailed, err)
	}
	q, args, err := sq.Insert(table).Columns("id", "data").Values(item.RecordID(), string(doc)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		if isPrimaryKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s id %d", errPrimaryKey, table, item.RecordID())
		}
		return nil, fmt.Errorf("%w: inserting into %s: %w", ErrTransactionFailed, table, err)
	}
	return doc, nil
}

// mutate runs a domain write and records it in the sync queue. fn returns
// the snapshot to queue, or nil when nothing changed.
func (e *Engine) mutate(ctx context.Context, c model.Collection, op model.Operation, fn func(tx *sqlx.Tx) (json.RawMessage, error)) error {
	if e.atomicOutbox {
		return e.withTx(ctx, func(tx *sqlx.Tx) error {
			snap, err := fn(tx)
			if err != nil || snap == nil {
				return err
			}
			if err := appendTx(ctx, tx, op, c, snap, e.now().UnixMilli()); err != nil {
				return fmt.Errorf("%w: appending to sync queue: %w", ErrTransactionFailed, err)
			}
			return nil
		})
	}

	var snap json.RawMessage
	err := e.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		snap, err = fn(tx)
		return err
	})
	if err != nil || snap == nil {
		return err
	}

	// The write has committed; losing its queue entry must not undo it.
	if err := e.Append(ctx, op, c, snap); err != nil {
		e.log.Error("sync queue append failed, mutation kept",
			"collection", c, "operation", op, "error", err)
	}
	return nil
}
