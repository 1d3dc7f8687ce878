// Package meta is the shared HTTP client for Meta Graph API calls used by
// the WhatsApp and Instagram adapters.
package meta

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

const (
	// GraphVersion pins the Graph API revision both chat adapters target.
	GraphVersion = "v18.0"
	BaseURL      = "https://graph.facebook.com"

	requestTimeout = 10 * time.Second
)

// Client posts JSON payloads to the Graph API with bearer authentication.
type Client struct {
	token string
	http  *http.Client
}

// NewClient creates a Graph API client for the given access token.
func NewClient(token string) *Client {
	return &Client{
		token: token,
		http:  &http.Client{Timeout: requestTimeout},
	}
}

// PostJSON sends the payload and fails on any non-success status.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) error {
	if c.token == "" {
		return fmt.Errorf("graph api access token not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal graph payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
