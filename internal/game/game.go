// Package game applies the progression rules that sit on top of the entity
// collections: scoring habits, completing dailies and todos, redeeming
// rewards, and levelling the user from accumulated XP.
//
// Balance checks live here rather than in storage. The store accepts any
// record it is given; a Service only writes once a rule has passed.
package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/repo"
	"github.com/njoerd114/vaultsync/internal/store"
)

// XPPerLevel is the amount of XP needed to advance one level.
const XPPerLevel = 1000

var (
	// ErrInsufficientCaps means the user cannot afford a reward. Nothing
	// was written.
	ErrInsufficientCaps = errors.New("insufficient caps")

	// ErrInvalidHabit means the habit cannot be scored in the requested
	// direction.
	ErrInvalidHabit = errors.New("habit cannot be scored in that direction")
)

// UserStore is the subset of the user collection the rules need.
type UserStore interface {
	Get(ctx context.Context) (*model.User, error)
	Initialize(ctx context.Context) (*model.User, error)
	Update(ctx context.Context, user model.User) (*model.User, error)
}

// Service applies game rules against the collections.
type Service struct {
	habits  repo.HabitStore
	dailies repo.DailyStore
	todos   repo.TodoStore
	rewards repo.RewardStore
	users   UserStore
	now     func() int64
}

// NewService returns a Service over the given collections. now supplies the
// epoch-millisecond time recorded on completed dailies.
func NewService(c *repo.Collections, now func() int64) *Service {
	return &Service{
		habits:  c.Habits,
		dailies: c.Dailies,
		todos:   c.Todos,
		rewards: c.Rewards,
		users:   c.User,
		now:     now,
	}
}

// LevelForXP returns the level reached with xp total experience.
func LevelForXP(xp int) int {
	if xp < 0 {
		return 1
	}
	return xp/XPPerLevel + 1
}

// GetOrInitializeUser returns the user record, creating it first if the
// database has none.
func (s *Service) GetOrInitializeUser(ctx context.Context) (*model.User, error) {
	u, err := s.users.Get(ctx)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	return s.users.Initialize(ctx)
}

// ScoreHabit counts one occurrence of a habit. Scoring up requires a
// positive habit and awards its XP; scoring down requires a negative habit
// and takes the XP away. Neither the count nor the user's XP drop below 0.
func (s *Service) ScoreHabit(ctx context.Context, id int64, up bool) (*model.Habit, *model.User, error) {
	h, err := s.habits.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if h == nil {
		return nil, nil, fmt.Errorf("habit %d: %w", id, store.ErrNotFound)
	}
	if (up && !h.Positive) || (!up && !h.Negative) {
		return nil, nil, fmt.Errorf("habit %d: %w", id, ErrInvalidHabit)
	}

	delta := h.XPValue
	if up {
		h.Count++
	} else {
		h.Count = max(h.Count-1, 0)
		delta = -delta
	}

	updated, err := s.habits.Update(ctx, *h)
	if err != nil {
		return nil, nil, err
	}
	u, err := s.addXP(ctx, delta)
	if err != nil {
		return updated, nil, err
	}
	return updated, u, nil
}

// ToggleDaily flips a daily's completion. Completing it extends the streak,
// stamps lastCompletedAt and awards XP; un-completing reverses the streak
// and XP, floored at 0.
func (s *Service) ToggleDaily(ctx context.Context, id int64) (*model.Daily, *model.User, error) {
	d, err := s.dailies.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if d == nil {
		return nil, nil, fmt.Errorf("daily %d: %w", id, store.ErrNotFound)
	}

	delta := d.XPValue
	if d.Completed {
		d.Completed = false
		d.Streak = max(d.Streak-1, 0)
		delta = -delta
	} else {
		d.Completed = true
		d.Streak++
		at := s.now()
		d.LastCompletedAt = &at
	}

	updated, err := s.dailies.Update(ctx, *d)
	if err != nil {
		return nil, nil, err
	}
	u, err := s.addXP(ctx, delta)
	if err != nil {
		return updated, nil, err
	}
	return updated, u, nil
}

// ToggleTodo flips a todo's completion and awards or removes its XP.
func (s *Service) ToggleTodo(ctx context.Context, id int64) (*model.Todo, *model.User, error) {
	t, err := s.todos.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, nil, fmt.Errorf("todo %d: %w", id, store.ErrNotFound)
	}

	t.Completed = !t.Completed
	delta := t.XPValue
	if !t.Completed {
		delta = -delta
	}

	updated, err := s.todos.Update(ctx, *t)
	if err != nil {
		return nil, nil, err
	}
	u, err := s.addXP(ctx, delta)
	if err != nil {
		return updated, nil, err
	}
	return updated, u, nil
}

// RedeemReward spends the reward's cost in caps. If the user cannot afford
// it, ErrInsufficientCaps is returned and neither record changes.
func (s *Service) RedeemReward(ctx context.Context, id int64) (*model.Reward, *model.User, error) {
	r, err := s.rewards.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r == nil {
		return nil, nil, fmt.Errorf("reward %d: %w", id, store.ErrNotFound)
	}
	u, err := s.GetOrInitializeUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	if u.Caps < r.Cost {
		return nil, nil, fmt.Errorf("reward %q costs %d, have %d: %w", r.Name, r.Cost, u.Caps, ErrInsufficientCaps)
	}

	u.Caps -= r.Cost
	updatedUser, err := s.users.Update(ctx, *u)
	if err != nil {
		return nil, nil, err
	}
	r.RedemptionCount++
	updated, err := s.rewards.Update(ctx, *r)
	if err != nil {
		return nil, updatedUser, err
	}
	return updated, updatedUser, nil
}

func (s *Service) addXP(ctx context.Context, delta int) (*model.User, error) {
	u, err := s.GetOrInitializeUser(ctx)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return u, nil
	}
	u.XP = max(u.XP+delta, 0)
	u.Level = LevelForXP(u.XP)
	return s.users.Update(ctx, *u)
}
