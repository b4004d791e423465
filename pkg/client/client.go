package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/ruledef"
	"github.com/opsdesk/opsdesk/internal/worker"
	"github.com/opsdesk/opsdesk/pkg/env"
	schema "github.com/opsdesk/opsdesk/pkg/ruledef"
)

// Error is a non-2xx response from the opsdesk API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, e.Message)
}

// Client wraps HTTP interaction with the opsdesk REST API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// New constructs a client for the server at baseURL. token is sent as a
// bearer credential when non-empty.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http(s): %q", baseURL)
	}

	return &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Default builds a client from the processed environment.
func Default() (*Client, error) {
	vars := env.Variables()
	return New(vars.ServerURL, vars.APIToken, vars.HTTPTimeout)
}

func (c *Client) resolve(path string, query url.Values) string {
	raw := strings.TrimSuffix(c.baseURL.String(), "/") + path
	if encoded := query.Encode(); encoded != "" {
		raw += "?" + encoded
	}
	return raw
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, v any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Join(apiErr, err)
	}

	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// ApplyResult mirrors the trigger apply response.
type ApplyResult struct {
	DryRun bool            `json:"dry_run"`
	Plan   *ruledef.Plan   `json:"plan,omitempty"`
	Result *ruledef.Result `json:"result,omitempty"`
}

// ApplyTriggers submits trigger definitions. A dry run returns the plan
// without writing.
func (c *Client) ApplyTriggers(ctx context.Context, defs []*schema.Definition, dryRun bool) (*ApplyResult, error) {
	body := map[string]any{"definitions": defs, "dry_run": dryRun}

	var out ApplyResult
	if err := c.do(ctx, http.MethodPost, c.resolve("/v1/triggers/apply", nil), body, &out); err != nil {
		return nil, fmt.Errorf("apply triggers: %w", err)
	}
	return &out, nil
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	TriggerID string
	Status    string
	SourceID  string
	Limit     int
	Offset    int
}

func (f ExecutionFilter) values() url.Values {
	q := url.Values{}
	if f.TriggerID != "" {
		q.Set("trigger_id", f.TriggerID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.SourceID != "" {
		q.Set("source_id", f.SourceID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

func (c *Client) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]models.AutomationExecution, error) {
	var out []models.AutomationExecution
	if err := c.do(ctx, http.MethodGet, c.resolve("/v1/executions", filter.values()), nil, &out); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

func (c *Client) GetExecution(ctx context.Context, id string) (*models.AutomationExecution, error) {
	var out models.AutomationExecution
	if err := c.do(ctx, http.MethodGet, c.resolve("/v1/executions/"+url.PathEscape(id), nil), nil, &out); err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &out, nil
}

// RetryExecution enqueues a new attempt of a failed execution.
func (c *Client) RetryExecution(ctx context.Context, id string) (*models.AutomationExecution, error) {
	var out models.AutomationExecution
	if err := c.do(ctx, http.MethodPost, c.resolve("/v1/executions/"+url.PathEscape(id)+"/retry", nil), nil, &out); err != nil {
		return nil, fmt.Errorf("retry execution: %w", err)
	}
	return &out, nil
}

// RetryCallbacks re-delivers the failed completion notifications of an
// execution and returns its delivery history.
func (c *Client) RetryCallbacks(ctx context.Context, id string) (models.Callbacks, error) {
	var out models.Callbacks
	if err := c.do(ctx, http.MethodPost, c.resolve("/v1/executions/"+url.PathEscape(id)+"/callbacks/retry", nil), nil, &out); err != nil {
		return nil, fmt.Errorf("retry callbacks: %w", err)
	}
	return out, nil
}

// ProcessQueue drains up to limit pending executions. Zero uses the
// server's batch size.
func (c *Client) ProcessQueue(ctx context.Context, limit int) (*worker.Summary, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out worker.Summary
	if err := c.do(ctx, http.MethodPost, c.resolve("/v1/queue/process", q), nil, &out); err != nil {
		return nil, fmt.Errorf("process queue: %w", err)
	}
	return &out, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Ping verifies the API health endpoint responds with a healthy or
// degraded status.
func (c *Client) Ping(ctx context.Context) error {
	var payload healthResponse
	if err := c.do(ctx, http.MethodGet, c.resolve("/health", nil), nil, &payload); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	switch payload.Status {
	case "healthy", "degraded":
		return nil
	default:
		return fmt.Errorf("health check failed: status=%q", payload.Status)
	}
}
