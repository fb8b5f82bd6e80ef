// Package model defines the entity types persisted by the local vault and
// replayed to the remote collector through the sync queue.
//
// All timestamps are epoch milliseconds, matching the wire format the remote
// endpoint receives.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Collection names a partition of the local database holding one entity type.
// The value is also what the sync queue records in its store field.
type Collection string

const (
	Habits    Collection = "habits"
	Dailies   Collection = "dailies"
	Todos     Collection = "todos"
	Rewards   Collection = "rewards"
	Users     Collection = "user"
	SyncQueue Collection = "syncQueue"
)

// DomainCollections lists the collections whose mutations are recorded in
// the sync queue.
var DomainCollections = []Collection{Habits, Dailies, Todos, Rewards, Users}

// ParseCollection maps a user-supplied name to a domain collection.
func ParseCollection(name string) (Collection, error) {
	for _, c := range DomainCollections {
		if strings.EqualFold(name, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", name)
}

// Priority is the urgency of a Todo.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// String returns the human-readable label for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityMedium:
		return "Medium"
	case PriorityLow:
		return "Low"
	default:
		return "None"
	}
}

// NormalizePriority maps any case-insensitive label to one of the three
// canonical levels. Unknown or empty input falls back to medium.
func NormalizePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "h":
		return PriorityHigh
	case "low", "l":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Record is anything stored in a collection keyed by a 64-bit id.
type Record interface {
	RecordID() int64
	SetRecordID(id int64)
}

// Entity is a Record carrying creation and modification timestamps.
type Entity interface {
	Record
	Timestamps() (createdAt, updatedAt int64)
	SetTimestamps(createdAt, updatedAt int64)
	// ResetTransient clears UI-only state that is never persisted.
	ResetTransient()
}

// Task holds the fields shared by every task-like entity.
type Task struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	XPValue     int    `json:"xpValue"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`

	// Animating is a UI concern and is never written to storage.
	Animating bool `json:"-"`
}

func (t *Task) RecordID() int64      { return t.ID }
func (t *Task) SetRecordID(id int64) { t.ID = id }

func (t *Task) Timestamps() (int64, int64) { return t.CreatedAt, t.UpdatedAt }

func (t *Task) SetTimestamps(createdAt, updatedAt int64) {
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt
}

func (t *Task) ResetTransient() { t.Animating = false }

// Habit is a repeatable action scored up or down.
type Habit struct {
	Task
	Count    int  `json:"count"`
	Positive bool `json:"positive"`
	Negative bool `json:"negative"`
}

// Daily is a recurring task whose consecutive completions build a streak.
type Daily struct {
	Task
	Completed       bool   `json:"completed"`
	Streak          int    `json:"streak"`
	DueDate         int64  `json:"dueDate"`
	LastCompletedAt *int64 `json:"lastCompletedAt,omitempty"`
}

// Todo is a one-off task.
type Todo struct {
	Task
	Completed bool     `json:"completed"`
	Priority  Priority `json:"priority"`
	DueDate   *int64   `json:"dueDate,omitempty"`
}

// Reward is something the user buys with caps. XPValue is unused.
type Reward struct {
	Task
	Cost            int `json:"cost"`
	RedemptionCount int `json:"redemptionCount"`
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
