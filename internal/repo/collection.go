// Package repo provides the typed collections callers use to read and
// mutate habits, dailies, todos, rewards and the user record. Each
// collection is a thin layer over the store engine that fills in ids,
// timestamps and per-entity defaults.
package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/store"
)

// ErrMissingID is returned by Update for a record that was never added.
var ErrMissingID = errors.New("record has no id")

// Store is the typed interface one entity collection exposes.
type Store[T any] interface {
	GetAll(ctx context.Context) ([]T, error)
	GetByID(ctx context.Context, id int64) (*T, error)
	Add(ctx context.Context, item T) (*T, error)
	Update(ctx context.Context, item T) (*T, error)
	Delete(ctx context.Context, id int64) error
}

type (
	HabitStore  = Store[model.Habit]
	DailyStore  = Store[model.Daily]
	TodoStore   = Store[model.Todo]
	RewardStore = Store[model.Reward]
)

type entityPtr[T any] interface {
	*T
	model.Entity
}

// Collection implements Store for one entity type on top of a store.Engine.
type Collection[T any, PT entityPtr[T]] struct {
	engine   *store.Engine
	name     model.Collection
	defaults func(PT)
}

func newCollection[T any, PT entityPtr[T]](e *store.Engine, name model.Collection, defaults func(PT)) *Collection[T, PT] {
	return &Collection[T, PT]{engine: e, name: name, defaults: defaults}
}

// Name returns the collection the records live in.
func (c *Collection[T, PT]) Name() model.Collection { return c.name }

// GetAll returns every record in the collection.
func (c *Collection[T, PT]) GetAll(ctx context.Context) ([]T, error) {
	return store.GetAll[T](ctx, c.engine, c.name)
}

// GetByID returns the record or nil when there is none.
func (c *Collection[T, PT]) GetByID(ctx context.Context, id int64) (*T, error) {
	return store.GetByID[T](ctx, c.engine, c.name, id)
}

// Add stores a new record built from item. Any id on item is discarded and
// a fresh one generated; createdAt and updatedAt are both set to now and
// the entity defaults applied. The stored record is returned.
func (c *Collection[T, PT]) Add(ctx context.Context, item T) (*T, error) {
	p := PT(&item)
	p.SetRecordID(0)
	p.ResetTransient()
	now := c.engine.Now().UnixMilli()
	p.SetTimestamps(now, now)
	if c.defaults != nil {
		c.defaults(p)
	}

	if err := store.Create[T, PT](ctx, c.engine, c.name, p); err != nil {
		return nil, fmt.Errorf("adding to %s: %w", c.name, err)
	}
	return &item, nil
}

// Update replaces the stored record with item in full and refreshes
// updatedAt. The new updatedAt is always later than the one item carried.
func (c *Collection[T, PT]) Update(ctx context.Context, item T) (*T, error) {
	p := PT(&item)
	if p.RecordID() == 0 {
		return nil, fmt.Errorf("updating %s: %w", c.name, ErrMissingID)
	}
	p.ResetTransient()
	touch(p, c.engine.Now().UnixMilli())

	if err := store.Put[T, PT](ctx, c.engine, c.name, p); err != nil {
		return nil, fmt.Errorf("updating %s id %d: %w", c.name, p.RecordID(), err)
	}
	return &item, nil
}

// Delete removes the record. Deleting an unknown id is not an error.
func (c *Collection[T, PT]) Delete(ctx context.Context, id int64) error {
	if err := c.engine.Delete(ctx, c.name, id); err != nil {
		return fmt.Errorf("deleting %s id %d: %w", c.name, id, err)
	}
	return nil
}

// touch sets updatedAt to now, or one past the previous value when the
// clock has not advanced since.
func touch(e model.Entity, now int64) {
	created, updated := e.Timestamps()
	e.SetTimestamps(created, max(now, updated+1))
}
