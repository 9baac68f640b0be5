package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

// Executor replays queued sync operations against the upstream API by
// POSTing them to a single execute endpoint. The upstream routes on the
// operation type.
type Executor struct {
	url    string
	client *http.Client
}

// NewExecutor creates an Executor for the given endpoint.
func NewExecutor(url string) *Executor {
	return &Executor{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Execute delivers one operation. Any transport error or non-2xx status
// is a retryable failure.
func (e *Executor) Execute(ctx context.Context, op domain.SyncOperation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation %s: %w", op.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operation-ID", op.ID)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute %s: %w", op.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("execute %s: upstream returned %d", op.Type, resp.StatusCode)
	}
	return nil
}
