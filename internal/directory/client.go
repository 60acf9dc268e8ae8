// Package directory resolves workshop workers from the external staff
// profile service and caches them in Redis.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fixflow-erp/fixflow/internal/repair"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// Client fetches worker profiles over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a profile client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type workerPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Active     bool   `json:"active"`
}

// FetchWorker retrieves one worker profile.
func (c *Client) FetchWorker(ctx context.Context, id string) (*repair.Worker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/workers/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: fetch worker: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("directory: worker %s: %w", id, shared.ErrNotFound)
	default:
		return nil, fmt.Errorf("directory: profile service returned %d", resp.StatusCode)
	}

	var payload workerPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("directory: decode worker: %w", err)
	}
	return &repair.Worker{
		ID:         payload.ID,
		Name:       payload.Name,
		Department: shared.Department(payload.Department),
		Active:     payload.Active,
	}, nil
}
