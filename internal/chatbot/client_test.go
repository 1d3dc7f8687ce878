package chatbot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanalbot/kanal/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(nil, config.ChatbotConfig{URL: srv.URL, APIKey: "secret"})
	return client, srv
}

func TestAskFillsStartTimestampAndAuthHeader(t *testing.T) {
	var got AskRequest
	var gotKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := client.Ask(context.Background(), AskRequest{
		Query:            "hello",
		Platform:         "whatsapp",
		PlatformUniqueID: "628111",
		ConversationID:   "conv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "hello", got.Query)
	assert.NotEmpty(t, got.StartTimestamp)
}

func TestSendFeedbackHitsFeedbackPath(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	err := client.SendFeedback(context.Background(), FeedbackRequest{
		Rating:   "good",
		AnswerID: 42,
		Platform: "whatsapp",
	})
	require.NoError(t, err)
	assert.Equal(t, "/feedback", gotPath)
}

func TestEndSessionSendsInactivityReason(t *testing.T) {
	var got endSessionRequest
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.EndSession(context.Background(), "conv-1", "whatsapp", "628111")
	require.NoError(t, err)
	assert.Equal(t, "/sessions/end", gotPath)
	assert.Equal(t, "inactivity", got.Reason)
	assert.Equal(t, "conv-1", got.ConversationID)
}

func TestErrorStatusIncludesBodySnippet(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	})

	err := client.Ask(context.Background(), AskRequest{Query: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "backend exploded")
}
