// Package agentapi is the HTTP client for the agent backend: it opens
// streaming chat responses, creates background runs, and issues the
// point-in-time run status queries shared by the per-thread poller and the
// global scanner.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentconsole/internal/assembly"
	"github.com/agentconsole/internal/backgroundrun"
)

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("agent API request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one agent backend. Status queries go through a shared rate
// limiter so many pollers on the same backend cannot stampede it.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
}

// NewClient constructs a client with sensible defaults. Streaming requests
// use a client without an overall timeout: a live stream legitimately
// outlives any fixed deadline and is bounded by its context instead.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(20), 40),
	}
}

type submitRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// OpenStream submits a message and returns the raw event-stream body. The
// caller closes the body; cancelling ctx aborts the underlying request.
func (c *Client) OpenStream(ctx context.Context, agentID, threadID, message string) (io.ReadCloser, error) {
	payload, err := json.Marshal(submitRequest{ThreadID: threadID, Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/agents/%s/streams", c.baseURL, url.PathEscape(agentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// CreateRunResponse is the backend's answer to a background submit.
type CreateRunResponse struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
}

// CreateRun submits a message for background execution and returns the run
// id plus the thread id (newly assigned when the request carried none).
func (c *Client) CreateRun(ctx context.Context, agentID, threadID, message string) (CreateRunResponse, error) {
	payload, err := json.Marshal(submitRequest{ThreadID: threadID, Message: message})
	if err != nil {
		return CreateRunResponse{}, fmt.Errorf("failed to marshal run request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/agents/%s/runs", c.baseURL, url.PathEscape(agentID))
	var out CreateRunResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &out); err != nil {
		return CreateRunResponse{}, err
	}
	return out, nil
}

// RunStatus implements backgroundrun.StatusFetcher. A 404 surfaces as an
// error: the scanner counts it toward orphan eviction.
func (c *Client) RunStatus(ctx context.Context, agentID, threadID, runID string) (backgroundrun.RunRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return backgroundrun.RunRecord{}, fmt.Errorf("status query aborted: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/agents/%s/runs/%s?thread_id=%s",
		c.baseURL, url.PathEscape(agentID), url.PathEscape(runID), url.QueryEscape(threadID))
	var record backgroundrun.RunRecord
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &record); err != nil {
		return backgroundrun.RunRecord{}, err
	}
	return record, nil
}

// History fetches a thread's persisted messages.
func (c *Client) History(ctx context.Context, agentID, threadID string) ([]*assembly.Message, error) {
	endpoint := fmt.Sprintf("%s/api/agents/%s/threads/%s/messages",
		c.baseURL, url.PathEscape(agentID), url.PathEscape(threadID))
	var messages []*assembly.Message
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
