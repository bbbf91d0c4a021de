// Package chatclient talks to the shopassist HTTP API.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/shopassist/pkg/telemetry/correlation"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerUserID         = "X-User-ID"
)

var ErrEmptyMessage = errors.New("empty_message")

type Reply struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Intent    string `json:"intent"`
	Success   bool   `json:"success"`
	Outcome   string `json:"outcome,omitempty"`
	Replayed  bool   `json:"replayed,omitempty"`
}

type HistoryEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Intent    string `json:"intent,omitempty"`
	Timestamp string `json:"timestamp"`
}

// APIError is the server's error envelope.
type APIError struct {
	Status  int
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
}

type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

func New(baseURL, userID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: timeout},
	}
}

// Send posts one chat message. A transport failure is retried once with the
// same idempotency key so the server applies the message at most once.
func (c *Client) Send(ctx context.Context, sessionID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	body, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"user_id":    c.userID,
		"message":    message,
	})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		headerIdempotencyKey: uuid.NewString(),
		correlation.Header:   correlation.NewID(),
	}

	var reply Reply
	err = c.do(ctx, http.MethodPost, "/chat", body, headers, &reply)
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) && ctx.Err() == nil {
		err = c.do(ctx, http.MethodPost, "/chat", body, headers, &reply)
	}
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) History(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	var resp struct {
		Messages []HistoryEntry `json:"messages"`
	}
	path := "/chat/history/" + url.PathEscape(sessionID) + "?page_size=250"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(headerUserID, c.userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error APIError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		apiErr := envelope.Error
		apiErr.Status = resp.StatusCode
		if apiErr.Type == "" {
			apiErr.Type = http.StatusText(resp.StatusCode)
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
