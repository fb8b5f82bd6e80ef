package repo

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/store"
)

// frozenClock returns a clock that stays put until advanced.
type frozenClock struct{ ms atomic.Int64 }

func newFrozenClock(ms int64) *frozenClock {
	c := &frozenClock{}
	c.ms.Store(ms)
	return c
}

func (c *frozenClock) Now() time.Time { return time.UnixMilli(c.ms.Load()) }
func (c *frozenClock) Advance(ms int64) { c.ms.Add(ms) }

func openTestCollections(t *testing.T, opts ...store.Option) (*Collections, *store.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.db")
	e, err := store.Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return New(e), e
}

func lastQueued(t *testing.T, e *store.Engine) model.SyncQueueItem {
	t.Helper()
	q, err := e.Queue(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, q)
	return q[len(q)-1]
}

func TestHabits_ExerciseScenario(t *testing.T) {
	clock := newFrozenClock(1_700_000_000_000)
	c, e := openTestCollections(t, store.WithClock(clock.Now))
	ctx := context.Background()

	h, err := c.Habits.Add(ctx, model.Habit{
		Task:     model.Task{Name: "Exercise", XPValue: 10},
		Positive: true,
		Negative: false,
	})
	require.NoError(t, err)
	assert.NotZero(t, h.ID)
	assert.Zero(t, h.Count)
	assert.Equal(t, h.CreatedAt, h.UpdatedAt)

	all, err := c.Habits.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, *h, all[0])

	clock.Advance(500)
	next := *h
	next.Count++
	updated, err := c.Habits.Update(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Count)
	assert.Greater(t, updated.UpdatedAt, h.UpdatedAt)
	assert.Equal(t, h.CreatedAt, updated.CreatedAt)

	item := lastQueued(t, e)
	assert.Equal(t, model.OpUpdate, item.Operation)
	assert.Equal(t, model.Habits, item.Store)
	var snap model.Habit
	require.NoError(t, json.Unmarshal(item.Data, &snap))
	assert.Equal(t, 1, snap.Count)

	n, err := e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAdd_IgnoresCallerIDAndDefaults(t *testing.T) {
	c, _ := openTestCollections(t)
	ctx := context.Background()

	h, err := c.Habits.Add(ctx, model.Habit{Task: model.Task{ID: 42, Name: "Read", Animating: true}, Count: 7})
	require.NoError(t, err)
	assert.NotEqual(t, int64(42), h.ID)
	assert.Zero(t, h.Count)
	assert.False(t, h.Animating)

	last := int64(99)
	d, err := c.Dailies.Add(ctx, model.Daily{Task: model.Task{Name: "Water plants"}, Completed: true, Streak: 9, LastCompletedAt: &last})
	require.NoError(t, err)
	assert.False(t, d.Completed)
	assert.Zero(t, d.Streak)
	assert.Nil(t, d.LastCompletedAt)

	td, err := c.Todos.Add(ctx, model.Todo{Task: model.Task{Name: "Fix radio"}, Completed: true})
	require.NoError(t, err)
	assert.False(t, td.Completed)
	assert.Equal(t, model.PriorityMedium, td.Priority)

	r, err := c.Rewards.Add(ctx, model.Reward{Task: model.Task{Name: "Nuka-Cola", XPValue: 5}, Cost: 50})
	require.NoError(t, err)
	assert.Zero(t, r.XPValue)
	assert.Equal(t, 50, r.Cost)
}

func TestAdd_UniqueIDsAndRoundTrip(t *testing.T) {
	c, _ := openTestCollections(t)
	ctx := context.Background()

	seen := map[int64]bool{}
	for i := range 25 {
		td, err := c.Todos.Add(ctx, model.Todo{Task: model.Task{Name: "todo", XPValue: i}, Priority: model.PriorityHigh})
		require.NoError(t, err)
		assert.False(t, seen[td.ID], "duplicate id %d", td.ID)
		seen[td.ID] = true

		got, err := c.Todos.GetByID(ctx, td.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *td, *got)
	}
}

func TestUpdate_StrictlyIncreasesUpdatedAtOnStalledClock(t *testing.T) {
	clock := newFrozenClock(1_700_000_000_000)
	c, _ := openTestCollections(t, store.WithClock(clock.Now))
	ctx := context.Background()

	r, err := c.Rewards.Add(ctx, model.Reward{Task: model.Task{Name: "Stimpak"}, Cost: 10})
	require.NoError(t, err)

	prev := r.UpdatedAt
	for range 3 {
		r, err = c.Rewards.Update(ctx, *r)
		require.NoError(t, err)
		assert.Greater(t, r.UpdatedAt, prev)
		prev = r.UpdatedAt
	}
}

func TestUpdate_FullReplacement(t *testing.T) {
	c, _ := openTestCollections(t)
	ctx := context.Background()

	td, err := c.Todos.Add(ctx, model.Todo{Task: model.Task{Name: "Repair", Description: "power armor"}})
	require.NoError(t, err)

	replacement := model.Todo{Task: model.Task{ID: td.ID, Name: "Repair", CreatedAt: td.CreatedAt, UpdatedAt: td.UpdatedAt}, Priority: model.PriorityLow}
	_, err = c.Todos.Update(ctx, replacement)
	require.NoError(t, err)

	got, err := c.Todos.GetByID(ctx, td.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Description)
	assert.Equal(t, model.PriorityLow, got.Priority)
}

func TestUpdate_MissingID(t *testing.T) {
	c, _ := openTestCollections(t)
	_, err := c.Dailies.Update(context.Background(), model.Daily{Task: model.Task{Name: "x"}})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestDelete_TwiceAndQueue(t *testing.T) {
	c, e := openTestCollections(t)
	ctx := context.Background()

	d, err := c.Dailies.Add(ctx, model.Daily{Task: model.Task{Name: "Patrol"}})
	require.NoError(t, err)

	require.NoError(t, c.Dailies.Delete(ctx, d.ID))
	require.NoError(t, c.Dailies.Delete(ctx, d.ID))

	got, err := c.Dailies.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	item := lastQueued(t, e)
	assert.Equal(t, model.OpDelete, item.Operation)
	assert.Equal(t, model.Dailies, item.Store)
}

func TestUsers_Scenario(t *testing.T) {
	c, _ := openTestCollections(t)
	ctx := context.Background()

	u, err := c.User.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = c.User.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.UserID, u.ID)
	assert.Equal(t, 1, u.Level)
	assert.Zero(t, u.XP)
	assert.Zero(t, u.Caps)

	again, err := c.User.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, *u, *again)
}

func TestUsers_InitializeTwiceKeepsExisting(t *testing.T) {
	c, e := openTestCollections(t)
	ctx := context.Background()

	u, err := c.User.Initialize(ctx)
	require.NoError(t, err)
	u.Caps = 40
	_, err = c.User.Update(ctx, *u)
	require.NoError(t, err)

	second, err := c.User.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, second.Caps)

	n, err := e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "create + update, nothing for the repeated initialize")
}

func TestUsers_UpdateQueuesSnapshot(t *testing.T) {
	c, e := openTestCollections(t)
	ctx := context.Background()

	u, err := c.User.Initialize(ctx)
	require.NoError(t, err)
	u.XP = 250
	updated, err := c.User.Update(ctx, *u)
	require.NoError(t, err)
	assert.Greater(t, updated.UpdatedAt, u.UpdatedAt)

	item := lastQueued(t, e)
	assert.Equal(t, model.OpUpdate, item.Operation)
	assert.Equal(t, model.Users, item.Store)
	var snap model.User
	require.NoError(t, json.Unmarshal(item.Data, &snap))
	assert.Equal(t, 250, snap.XP)
}
