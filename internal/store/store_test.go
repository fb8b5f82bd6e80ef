package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/vaultsync/internal/events"
	"github.com/njoerd114/vaultsync/internal/model"
)

func openTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-vault.db")
	e, err := Open(context.Background(), path, opts...)
	require.NoError(t, err, "Open")
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// sequence returns an id generator that hands out ids in order and then
// keeps returning the last one.
func sequence(ids ...int64) func() int64 {
	i := 0
	return func() int64 {
		id := ids[i]
		if i < len(ids)-1 {
			i++
		}
		return id
	}
}

func sampleHabit() *model.Habit {
	return &model.Habit{
		Task:     model.Task{Name: "Exercise", XPValue: 10, CreatedAt: 1000, UpdatedAt: 1000},
		Positive: true,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	e := openTestEngine(t)

	info, err := e.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, info.Version)
	assert.Equal(t, []string{"dailies", "habits", "rewards", "sync_queue", "todos", "users"}, info.Collections)
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")

	e1, err := Open(ctx, path)
	require.NoError(t, err, "first Open")
	h := sampleHabit()
	require.NoError(t, Create(ctx, e1, model.Habits, h))
	require.NoError(t, e1.Close())

	// Re-opening the same file must not fail or wipe data.
	e2, err := Open(ctx, path)
	require.NoError(t, err, "second Open")
	defer e2.Close()

	got, err := GetByID[model.Habit](ctx, e2, model.Habits, h.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Exercise", got.Name)
}

func TestOpen_PublishesStatus(t *testing.T) {
	bus := events.NewBus()
	var kinds []events.Kind
	bus.Subscribe(func(ev events.Event) { kinds = append(kinds, ev.Kind) })

	openTestEngine(t, WithPublisher(bus))

	require.NotEmpty(t, kinds)
	assert.Equal(t, events.DBInitializing, kinds[0])
	assert.Equal(t, events.DBReady, kinds[len(kinds)-1])
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	garbage := make([]byte, 8192)
	for i := range garbage {
		garbage[i] = byte('x')
	}
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	bus := events.NewBus()
	var last events.Event
	bus.Subscribe(func(ev events.Event) { last = ev })

	_, err := Open(context.Background(), path, WithPublisher(bus))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, events.DBError, last.Kind)
}

func TestOpen_UncreatableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Open(context.Background(), filepath.Join(blocker, "sub", "vault.db"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestCreate_GeneratesIDAndRoundTrips(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	h := sampleHabit()
	require.NoError(t, Create(ctx, e, model.Habits, h))
	assert.NotZero(t, h.ID)

	got, err := GetByID[model.Habit](ctx, e, model.Habits, h.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *h, *got)
}

func TestCreate_QueuesSnapshot(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	e := openTestEngine(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	h := sampleHabit()
	require.NoError(t, Create(ctx, e, model.Habits, h))

	q, err := e.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, model.OpCreate, q[0].Operation)
	assert.Equal(t, model.Habits, q[0].Store)
	assert.Equal(t, now.UnixMilli(), q[0].Timestamp)

	var snap model.Habit
	require.NoError(t, json.Unmarshal(q[0].Data, &snap))
	assert.Equal(t, *h, snap)
}

func TestCreate_RetriesOnceOnCollision(t *testing.T) {
	e := openTestEngine(t, WithIDGenerator(sequence(111, 111, 222)))
	ctx := context.Background()

	first := sampleHabit()
	require.NoError(t, Create(ctx, e, model.Habits, first))
	assert.Equal(t, int64(111), first.ID)

	second := sampleHabit()
	require.NoError(t, Create(ctx, e, model.Habits, second))
	assert.Equal(t, int64(222), second.ID)

	all, err := GetAll[model.Habit](ctx, e, model.Habits)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the failed attempt must not be queued")
}

func TestCreate_SecondCollisionFails(t *testing.T) {
	e := openTestEngine(t, WithIDGenerator(sequence(111)))
	ctx := context.Background()

	require.NoError(t, Create(ctx, e, model.Habits, sampleHabit()))

	err := Create(ctx, e, model.Habits, sampleHabit())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, ErrDuplicateID)

	n, err := e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate_ExplicitIDCollisionIsNotRetried(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	u := &model.User{ID: model.UserID, Level: 1}
	require.NoError(t, Create(ctx, e, model.Users, u))

	err := Create(ctx, e, model.Users, &model.User{ID: model.UserID, Level: 5})
	assert.ErrorIs(t, err, ErrDuplicateID)

	got, err := GetByID[model.User](ctx, e, model.Users, model.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Level, "existing record must be untouched")
}

func TestPut_ReplacesWholeRecord(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	h := sampleHabit()
	h.Description = "morning run"
	require.NoError(t, Create(ctx, e, model.Habits, h))

	replacement := &model.Habit{Task: model.Task{ID: h.ID, Name: "Exercise", UpdatedAt: 2000}, Count: 1}
	require.NoError(t, Put(ctx, e, model.Habits, replacement))

	got, err := GetByID[model.Habit](ctx, e, model.Habits, h.ID)
	require.NoError(t, err)
	assert.Equal(t, *replacement, *got)
	assert.Empty(t, got.Description, "no partial merge")

	q, err := e.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, model.OpUpdate, q[1].Operation)
}

func TestPut_WithoutIDCreates(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	h := sampleHabit()
	require.NoError(t, Put(ctx, e, model.Habits, h))
	assert.NotZero(t, h.ID)

	q, err := e.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, model.OpCreate, q[0].Operation)
}

func TestDelete_Idempotent(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	h := sampleHabit()
	require.NoError(t, Create(ctx, e, model.Habits, h))

	require.NoError(t, e.Delete(ctx, model.Habits, h.ID))
	require.NoError(t, e.Delete(ctx, model.Habits, h.ID), "second delete must not fail")

	got, err := GetByID[model.Habit](ctx, e, model.Habits, h.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	q, err := e.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, q, 2, "create + one delete")
	assert.Equal(t, model.OpDelete, q[1].Operation)

	var snap model.Habit
	require.NoError(t, json.Unmarshal(q[1].Data, &snap))
	assert.Equal(t, h.ID, snap.ID)
}

func TestDeleteExisting_NotFound(t *testing.T) {
	e := openTestEngine(t)
	err := e.DeleteExisting(context.Background(), model.Todos, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByID_NotFound(t *testing.T) {
	e := openTestEngine(t)
	got, err := GetByID[model.Todo](context.Background(), e, model.Todos, 12345)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetAll_EmptyCollection(t *testing.T) {
	e := openTestEngine(t)
	got, err := GetAll[model.Reward](context.Background(), e, model.Rewards)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnknownCollection(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	_, err := GetAll[model.Habit](ctx, e, model.Collection("bogus"))
	assert.ErrorIs(t, err, ErrUnknownCollection)

	err = e.Delete(ctx, model.SyncQueue, 1)
	assert.ErrorIs(t, err, ErrUnknownCollection, "the queue is not a domain collection")
}

func TestQueue_OrderAndClearThrough(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, Create(ctx, e, model.Todos, &model.Todo{Task: model.Task{Name: name}}))
	}

	q, err := e.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, q, 3)
	for i := 1; i < len(q); i++ {
		assert.Greater(t, q[i].ID, q[i-1].ID, "queue must be oldest first")
	}

	require.NoError(t, e.ClearQueueThrough(ctx, q[1].ID))
	rest, err := e.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, q[2].ID, rest[0].ID)

	require.NoError(t, e.ClearQueue(ctx))
	n, err := e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAtomicOutbox_WritesBoth(t *testing.T) {
	e := openTestEngine(t, WithAtomicOutbox(true))
	ctx := context.Background()

	h := sampleHabit()
	require.NoError(t, Create(ctx, e, model.Habits, h))
	require.NoError(t, e.Delete(ctx, model.Habits, h.ID))

	q, err := e.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, model.OpCreate, q[0].Operation)
	assert.Equal(t, model.OpDelete, q[1].Operation)
}

func TestNewID_EmbedsTimestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	for range 100 {
		id := NewID(now)
		assert.Equal(t, now.UnixMilli(), id/1000)
		assert.GreaterOrEqual(t, id%1000, int64(0))
		assert.Less(t, id%1000, int64(1000))
	}
}

func TestPing(t *testing.T) {
	e := openTestEngine(t)
	assert.NoError(t, e.Ping(context.Background()))
}
