package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "opsdesk-callback/1"

// NotificationHandler posts execution metadata to a webhook endpoint.
type NotificationHandler struct {
	client *http.Client
}

// NewNotificationHandler constructs a notification handler with the provided client.
func NewNotificationHandler(client *http.Client) *NotificationHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NotificationHandler{client: client}
}

// Handle sends a POST request containing the execution metadata.
func (h *NotificationHandler) Handle(ctx context.Context, target string, meta Metadata) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Opsdesk-Execution", meta.ExecutionID.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}
