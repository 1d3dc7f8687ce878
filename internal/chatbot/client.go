// Package chatbot is the HTTP client for the external chatbot backend.
// The backend answers asynchronously through its own callback; every call
// here is a one-way push.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kanalbot/kanal/internal/config"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Client pushes queries, feedback, and session-end notices to the backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a backend client with a bounded request timeout.
func NewClient(log *slog.Logger, cfg config.ChatbotConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout()},
		logger:  log.With(slog.String("service", "chatbot")),
	}
}

// AskRequest is the query payload pushed to the backend.
type AskRequest struct {
	Query            string `json:"query"`
	Platform         string `json:"platform"`
	PlatformUniqueID string `json:"platform_unique_id"`
	ConversationID   string `json:"conversation_id"`
	StartTimestamp   string `json:"start_timestamp"`
}

// Ask submits the query. Any non-success status is an error; the caller
// decides whether that is fatal.
func (c *Client) Ask(ctx context.Context, req AskRequest) error {
	if req.StartTimestamp == "" {
		req.StartTimestamp = time.Now().UTC().Format(timestampLayout)
	}
	return c.post(ctx, c.baseURL, req)
}

// FeedbackRequest forwards a user's rating of a specific answer.
type FeedbackRequest struct {
	Rating         string `json:"rating"`
	AnswerID       int64  `json:"answer_id"`
	ConversationID string `json:"conversation_id"`
	Platform       string `json:"platform"`
}

// SendFeedback forwards a feedback record to the backend.
func (c *Client) SendFeedback(ctx context.Context, req FeedbackRequest) error {
	return c.post(ctx, c.baseURL+"/feedback", req)
}

type endSessionRequest struct {
	ConversationID   string `json:"conversation_id"`
	Platform         string `json:"platform"`
	PlatformUniqueID string `json:"platform_unique_id"`
	Reason           string `json:"reason"`
}

// EndSession notifies the backend that a session was closed for inactivity.
// Best-effort by contract: the sweeper logs failures and closes anyway.
func (c *Client) EndSession(ctx context.Context, conversationID, platform, platformUniqueID string) error {
	return c.post(ctx, c.baseURL+"/sessions/end", endSessionRequest{
		ConversationID:   conversationID,
		Platform:         platform,
		PlatformUniqueID: platformUniqueID,
		Reason:           "inactivity",
	})
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chatbot payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chatbot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push to chatbot backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chatbot backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
