// ABOUTME: HTTP client for the forgestate API; also the HTTP Fetcher for the Syncer
// ABOUTME: Writes carry a bearer token when configured and a fresh Idempotency-Key

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/forgestate/internal/checklist"
	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/wire"
)

// Fetcher retrieves a complete project state.
type Fetcher interface {
	Fetch(ctx context.Context) (*projectstate.ProjectState, error)
}

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// HTTPClient calls the forgestate HTTP API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewHTTPClient creates a client for baseURL. A nil hc gets a client with a 10s timeout.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// WithToken sets the bearer token sent on writes.
func (c *HTTPClient) WithToken(token string) *HTTPClient {
	c.token = token
	return c
}

// Fetch implements Fetcher.
func (c *HTTPClient) Fetch(ctx context.Context) (*projectstate.ProjectState, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/project-state", nil)
	if err != nil {
		return nil, err
	}
	return c.state(status, body)
}

// Checklist returns the lock and progress view.
func (c *HTTPClient) Checklist(ctx context.Context) (*checklist.View, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/checklist", nil)
	if err != nil {
		return nil, err
	}
	data, err := unwrapEnvelope(status, body)
	if err != nil {
		return nil, err
	}
	var v checklist.View
	if err := decodeData(status, data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// BatchUpdate applies checklist updates.
func (c *HTTPClient) BatchUpdate(ctx context.Context, updates []wire.StepUpdate) (*projectstate.ProjectState, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/checklist/batch", wire.BatchRequest{Updates: updates})
	if err != nil {
		return nil, err
	}
	return c.state(status, body)
}

// RunSingularity completes every step.
func (c *HTTPClient) RunSingularity(ctx context.Context) (*projectstate.ProjectState, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/singularity/one-click", nil)
	if err != nil {
		return nil, err
	}
	return c.state(status, body)
}

// Health probes /health.
func (c *HTTPClient) Health(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &ResponseError{Status: status, Reason: strings.TrimSpace(string(body))}
	}
	return nil
}

func (c *HTTPClient) state(status int, body []byte) (*projectstate.ProjectState, error) {
	data, err := unwrapEnvelope(status, body)
	if err != nil {
		return nil, err
	}
	return decodeState(status, data)
}

// do performs one request. Only transport failures become NetworkError;
// any HTTP status is returned for envelope inspection.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.New().String())
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &NetworkError{Op: "reading " + path, Err: err}
	}
	return resp.StatusCode, body, nil
}
