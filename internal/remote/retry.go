package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// DefaultMaxAttempts is how many times a batch is offered to the collector
// when sync.max_attempts is unset.
const DefaultMaxAttempts = 3

// Backoff between batch deliveries starts at firstBackoff and doubles up to
// backoffCap. Each wait is jittered into the upper half of that window.
const (
	firstBackoff = 500 * time.Millisecond
	backoffCap   = 5 * time.Second
)

// permanentError marks a delivery the collector will never accept as sent.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it at once. The client uses it for
// 4xx replies and explicit success:false answers.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry delivers one sync batch through send, trying up to maxAttempts times
// (at least once). Transient failures wait a jittered exponential backoff
// before the next try; a [Permanent] error or a cancelled ctx ends the loop
// early. The returned error wraps the last failure.
func Retry(ctx context.Context, maxAttempts int, send func() error) error {
	maxAttempts = max(maxAttempts, 1)

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, backoffDelay(attempt-1)); werr != nil {
				return fmt.Errorf("retry cancelled: %w", errors.Join(werr, err))
			}
		} else if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("retry cancelled: %w", cerr)
		}

		err = send()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, err)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay returns the wait after the given failed attempt, uniform in
// [window/2, window) where window = firstBackoff * 2^attempt, capped.
func backoffDelay(attempt int) time.Duration {
	window := backoffCap
	if attempt < 8 {
		window = min(firstBackoff<<attempt, backoffCap)
	}
	half := int64(window) / 2
	return time.Duration(half + rand.Int64N(half)) //nolint:gosec // jitter does not need crypto/rand
}
