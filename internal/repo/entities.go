package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/store"
)

// NewHabits returns the habit collection. New habits start with count 0.
func NewHabits(e *store.Engine) *Collection[model.Habit, *model.Habit] {
	return newCollection(e, model.Habits, func(h *model.Habit) {
		h.Count = 0
	})
}

// NewDailies returns the daily collection. New dailies start incomplete
// with no streak.
func NewDailies(e *store.Engine) *Collection[model.Daily, *model.Daily] {
	return newCollection(e, model.Dailies, func(d *model.Daily) {
		d.Completed = false
		d.Streak = 0
		d.LastCompletedAt = nil
	})
}

// NewTodos returns the todo collection. New todos start incomplete and
// carry a canonical priority.
func NewTodos(e *store.Engine) *Collection[model.Todo, *model.Todo] {
	return newCollection(e, model.Todos, func(t *model.Todo) {
		t.Completed = false
		t.Priority = model.NormalizePriority(string(t.Priority))
	})
}

// NewRewards returns the reward collection.
func NewRewards(e *store.Engine) *Collection[model.Reward, *model.Reward] {
	return newCollection(e, model.Rewards, func(r *model.Reward) {
		r.XPValue = 0
		r.RedemptionCount = max(r.RedemptionCount, 0)
	})
}

// Users is the singleton user collection.
type Users struct {
	engine *store.Engine
}

// NewUsers returns the user collection.
func NewUsers(e *store.Engine) *Users {
	return &Users{engine: e}
}

// Get returns the user record, or nil if none has been initialized.
func (u *Users) Get(ctx context.Context) (*model.User, error) {
	all, err := store.GetAll[model.User](ctx, u.engine, model.Users)
	if err != nil {
		return nil, fmt.Errorf("reading user: %w", err)
	}
	if len(all) == 0 {
		return nil, nil //nolint:nilnil // no user yet
	}
	return &all[0], nil
}

// Initialize creates the user at level 1 with no xp or caps. If the record
// already exists it is returned unchanged. Callers normally Get first;
// Initialize is still safe when two callers race past that check.
func (u *Users) Initialize(ctx context.Context) (*model.User, error) {
	now := u.engine.Now().UnixMilli()
	user := &model.User{
		ID:        model.UserID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := store.Create(ctx, u.engine, model.Users, user)
	if errors.Is(err, store.ErrDuplicateID) {
		existing, err := store.GetByID[model.User](ctx, u.engine, model.Users, model.UserID)
		if err != nil {
			return nil, fmt.Errorf("reading existing user: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("initializing user: %w", err)
	}
	return user, nil
}

// Update replaces the user record and refreshes updatedAt.
func (u *Users) Update(ctx context.Context, user model.User) (*model.User, error) {
	if user.ID == 0 {
		return nil, fmt.Errorf("updating user: %w", ErrMissingID)
	}
	touch(&user, u.engine.Now().UnixMilli())
	if err := store.Put(ctx, u.engine, model.Users, &user); err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	return &user, nil
}

// Collections bundles every entity collection over one engine.
type Collections struct {
	Habits  *Collection[model.Habit, *model.Habit]
	Dailies *Collection[model.Daily, *model.Daily]
	Todos   *Collection[model.Todo, *model.Todo]
	Rewards *Collection[model.Reward, *model.Reward]
	User    *Users
}

// New returns all collections backed by e.
func New(e *store.Engine) *Collections {
	return &Collections{
		Habits:  NewHabits(e),
		Dailies: NewDailies(e),
		Todos:   NewTodos(e),
		Rewards: NewRewards(e),
		User:    NewUsers(e),
	}
}

// compile-time checks
var (
	_ HabitStore  = (*Collection[model.Habit, *model.Habit])(nil)
	_ DailyStore  = (*Collection[model.Daily, *model.Daily])(nil)
	_ TodoStore   = (*Collection[model.Todo, *model.Todo])(nil)
	_ RewardStore = (*Collection[model.Reward, *model.Reward])(nil)
)
