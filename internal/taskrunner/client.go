// Package taskrunner is the client for the external task-execution service.
// A health probe is submitted as a bounded task whose structured output must
// match a boolean-result schema; the service routes the task's network
// traffic through the proxy named in the request.
package taskrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Terminal task states reported by the service.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// BoolResultSchema constrains task output to {"result": bool}.
const BoolResultSchema = `{"type":"object","properties":{"result":{"type":"boolean"}},"required":["result"]}`

const (
	defaultPollInterval  = 2 * time.Second
	cancelRequestTimeout = 10 * time.Second
)

type TaskRequest struct {
	Prompt       string          `json:"prompt"`
	OutputSchema json.RawMessage `json:"output_schema"`
	ProxyURL     string          `json:"proxy_url,omitempty"`
}

type TaskOutput struct {
	Result *bool `json:"result"`
}

type TaskStatus struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Output *TaskOutput `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func (status *TaskStatus) Terminal() bool {
	return status.Status == StatusCompleted || status.Status == StatusFailed
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{},
		pollInterval: defaultPollInterval,
	}
}

// WithPollInterval overrides the status polling cadence; tests shorten it.
func (client *Client) WithPollInterval(interval time.Duration) *Client {
	if interval > 0 {
		client.pollInterval = interval
	}
	return client
}

func (client *Client) Submit(ctx context.Context, task TaskRequest) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/v1/tasks", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var status TaskStatus
	if err := client.do(req, &status); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if status.ID == "" {
		return "", fmt.Errorf("submit task: response missing task id")
	}

	return status.ID, nil
}

// Await polls the task until it reaches a terminal state or ctx expires.
// On ctx expiry the context error is returned; cancelling the remote task is
// the caller's responsibility.
func (client *Client) Await(ctx context.Context, taskID string) (*TaskStatus, error) {
	ticker := time.NewTicker(client.pollInterval)
	defer ticker.Stop()

	for {
		status, err := client.fetchStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel aborts an in-flight task. It uses its own deadline so a cancel
// still goes out after the caller's context has already expired.
func (client *Client) Cancel(taskID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cancelRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/v1/tasks/"+taskID+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("create cancel request: %w", err)
	}

	if err := client.do(req, nil); err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	return nil
}

func (client *Client) fetchStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}

	var status TaskStatus
	if err := client.do(req, &status); err != nil {
		return nil, fmt.Errorf("fetch task %s: %w", taskID, err)
	}
	return &status, nil
}

func (client *Client) do(req *http.Request, out any) error {
	resp, err := client.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
