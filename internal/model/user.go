package model

import "encoding/json"

// UserID is the fixed key of the single local user record.
const UserID int64 = 1

// User is the singleton progression record.
type User struct {
	ID        int64 `json:"id"`
	Level     int   `json:"level"`
	XP        int   `json:"xp"`
	Caps      int   `json:"caps"`
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

func (u *User) RecordID() int64      { return u.ID }
func (u *User) SetRecordID(id int64) { u.ID = id }

func (u *User) Timestamps() (int64, int64) { return u.CreatedAt, u.UpdatedAt }

func (u *User) SetTimestamps(createdAt, updatedAt int64) {
	u.CreatedAt = createdAt
	u.UpdatedAt = updatedAt
}

func (u *User) ResetTransient() {}

// Operation is the kind of mutation a sync queue item records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// SyncQueueItem is one pending mutation awaiting replay to the remote
// collector. Data is the full entity snapshot taken at mutation time.
type SyncQueueItem struct {
	ID        int64           `json:"id"`
	Operation Operation       `json:"operation"`
	Store     Collection      `json:"store"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}
