// Package remote sends sync queue batches to the remote collector. The
// endpoint accepts a JSON array of queue items and answers with a
// {success, message} envelope; a batch is accepted or rejected as a whole.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/vaultsync/internal/model"
)

// BatchHeader carries a per-flush UUID so the collector can spot a batch
// that is replayed after a lost response.
const BatchHeader = "X-Sync-Batch-ID"

// ErrBatchRejected means the collector did not accept the batch. The queue
// must be kept for a later attempt.
var ErrBatchRejected = errors.New("sync batch rejected")

// Response is the collector's reply envelope.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client posts batches to one endpoint.
type Client struct {
	endpoint    string
	hc          *http.Client
	maxAttempts int
	log         *slog.Logger
}

// NewClient returns a Client for endpoint. timeout bounds each HTTP attempt
// and maxAttempts the number of tries per batch.
func NewClient(endpoint string, timeout time.Duration, maxAttempts int, logger *slog.Logger) *Client {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:    endpoint,
		hc:          &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		log:         logger,
	}
}

// Endpoint returns the collector URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Send posts items as one batch. It returns nil only when the collector
// accepted the whole batch. Server errors and transport failures are
// retried with backoff; a 4xx status or an explicit success=false is not.
func (c *Client) Send(ctx context.Context, items []model.SyncQueueItem) error {
	if items == nil {
		items = []model.SyncQueueItem{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("%w: encoding batch: %w", ErrBatchRejected, err)
	}

	batchID := newBatchID()
	log := c.log.With("batch_id", batchID, "items", len(items))

	attempt := 0
	return Retry(ctx, c.maxAttempts, func() error {
		attempt++
		err := c.post(ctx, batchID, body)
		if err != nil {
			log.Warn("sync batch attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
}

func (c *Client) post(ctx context.Context, batchID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("create sync request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(BatchHeader, batchID)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute sync request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var reply struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &reply)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: collector returned %d: %s", ErrBatchRejected, resp.StatusCode, reply.Message)
	case resp.StatusCode >= 300:
		return Permanent(fmt.Errorf("%w: collector returned %d: %s", ErrBatchRejected, resp.StatusCode, reply.Message))
	case reply.Success != nil && !*reply.Success:
		return Permanent(fmt.Errorf("%w: %s", ErrBatchRejected, reply.Message))
	}
	return nil
}

func newBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
