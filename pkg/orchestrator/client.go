// Package orchestrator is the sole egress point to the external orchestrator
// HTTP API. Transport-level failures are retried with linear backoff; HTTP
// error statuses are passed through immediately as RejectedError.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/HavartiBard/chiffon-sub001/pkg/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultMaxAttempts = 3
	DefaultTimeout     = 30 * time.Second

	// Backoff between attempts is attemptNumber × backoffUnit.
	defaultBackoffUnit = 100 * time.Millisecond
)

// Config configures the orchestrator client.
type Config struct {
	BaseURL     string
	MaxAttempts int
	Timeout     time.Duration
	BackoffUnit time.Duration
	Logger      *slog.Logger
	// HTTPClient overrides the default client; used by tests to inject a
	// failing transport.
	HTTPClient *http.Client
}

// Client talks to the orchestrator API.
type Client struct {
	baseURL     string
	maxAttempts int
	timeout     time.Duration
	backoffUnit time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates an orchestrator client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = defaultBackoffUnit
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		backoffUnit: cfg.BackoffUnit,
		httpClient:  httpClient,
		logger:      logger.With("component", "orchestrator_client"),
	}
}

// Request issues one API call. body (if non-nil) is marshaled to JSON once and
// replayed on each attempt. On success the raw response body is returned.
func (c *Client) Request(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		payload = b
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			// Linear backoff: attemptNumber × unit after the failed attempt.
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ErrUnavailable, ctx.Err().Error())
			case <-time.After(time.Duration(attempt-1) * c.backoffUnit):
			}
		}

		raw, rejected, err := c.attempt(ctx, method, target, payload)
		if rejected != nil {
			return nil, rejected
		}
		if err == nil {
			return raw, nil
		}

		lastErr = err
		c.logger.Warn("orchestrator request failed",
			"method", method, "path", path,
			"attempt", attempt, "max_attempts", c.maxAttempts,
			"error", err)
	}

	return nil, errors.Wrapf(ErrUnavailable, "%s %s after %d attempts: %v", method, path, c.maxAttempts, lastErr)
}

// attempt performs a single HTTP exchange. A non-nil *RejectedError means the
// orchestrator answered with an error status; err covers transport failures.
func (c *Client) attempt(ctx context.Context, method, target string, payload []byte) (json.RawMessage, *RejectedError, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: data}, nil
	}

	return data, nil, nil
}

// ---- Typed wrappers for the orchestrator contract ----

// RequestAck is the response to a submitted work request.
type RequestAck struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// SubmitOpts describes one work request. PlanID is set when the request
// modifies an existing plan.
type SubmitOpts struct {
	Request string `json:"request"`
	UserID  string `json:"user_id"`
	PlanID  string `json:"plan_id,omitempty"`
}

// SubmitRequest asks the orchestrator to plan the given request.
func (c *Client) SubmitRequest(ctx context.Context, opts SubmitOpts) (*RequestAck, error) {
	raw, err := c.Request(ctx, http.MethodPost, "/api/v1/request", opts, nil)
	if err != nil {
		return nil, err
	}
	var ack RequestAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, errors.Wrap(err, "decode request ack")
	}
	return &ack, nil
}

// GetPlan fetches the plan generated for a request.
func (c *Client) GetPlan(ctx context.Context, requestID string) (*models.PlanPayload, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/api/v1/plan/"+requestID, nil, nil)
	if err != nil {
		return nil, err
	}
	var payload models.PlanPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(err, "decode plan payload")
	}
	return &payload, nil
}

// GetPlanStatus fetches the current plan/execution status.
func (c *Client) GetPlanStatus(ctx context.Context, planID string) (*models.PlanPayload, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/api/v1/plan/"+planID+"/status", nil, nil)
	if err != nil {
		return nil, err
	}
	var payload models.PlanPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(err, "decode plan status payload")
	}
	return &payload, nil
}

// DispatchedTask identifies one task handed to a worker agent.
type DispatchedTask struct {
	TaskID string `json:"task_id"`
}

// DispatchResult reports which tasks were dispatched after approval.
type DispatchResult struct {
	ExecutionID     string           `json:"execution_id,omitempty"`
	DispatchedTasks []DispatchedTask `json:"dispatched_tasks,omitempty"`
}

// ApprovalResult is the orchestrator's answer to an approve/reject call.
type ApprovalResult struct {
	Status          string          `json:"status"`
	DispatchStarted bool            `json:"dispatch_started"`
	DispatchResult  *DispatchResult `json:"dispatch_result,omitempty"`
}

// ApprovePlan approves (or rejects, approved=false) a pending plan.
func (c *Client) ApprovePlan(ctx context.Context, planID string, approved bool, userID string) (*ApprovalResult, error) {
	body := map[string]any{"approved": approved, "user_id": userID}
	raw, err := c.Request(ctx, http.MethodPost, "/api/v1/plan/"+planID+"/approve", body, nil)
	if err != nil {
		return nil, err
	}
	var result ApprovalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "decode approval result")
	}
	return &result, nil
}

// CancelResult is the orchestrator's answer to a task cancellation.
type CancelResult struct {
	Status string `json:"status"`
}

// CancelTask asks the orchestrator to cancel one dispatched task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*CancelResult, error) {
	raw, err := c.Request(ctx, http.MethodPost, "/api/v1/cancel/"+taskID, nil, nil)
	if err != nil {
		return nil, err
	}
	var result CancelResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "decode cancel result")
	}
	return &result, nil
}
