package store

import (
	"math/rand/v2"
	"time"
)

// NewID returns a record id that sorts by creation time: the epoch
// millisecond times 1000 plus a random suffix in [0, 999]. Ids only need to
// be unique within the local database; collisions are retried by Create.
func NewID(now time.Time) int64 {
	return now.UnixMilli()*1000 + rand.Int64N(1000) //nolint:gosec // uniqueness, not secrecy
}
