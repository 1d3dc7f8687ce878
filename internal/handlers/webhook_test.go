package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/dedup"
	"github.com/kanalbot/kanal/internal/orchestrator"
)

// fakeDBTX implements db.DBTX; rowsAffected drives the dedup outcome.
type fakeDBTX struct {
	tag string
	err error
}

func (d *fakeDBTX) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	if d.err != nil {
		return pgconn.CommandTag{}, d.err
	}
	return pgconn.NewCommandTag(d.tag), nil
}

func (d *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDBTX) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func newWebhookHandler(t *testing.T, dedupTag string) *WebhookHandler {
	t.Helper()
	store := dedup.NewStore(nil, &fakeDBTX{tag: dedupTag})
	orch := orchestrator.New(nil, channel.NewRegistry(), nil, nil, nil)
	return NewWhatsAppWebhookHandler(slog.Default(), "verify-secret", store, orch)
}

func makeContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestVerifyEchoesChallengeOnTokenMatch(t *testing.T) {
	e := echo.New()
	h := newWebhookHandler(t, "INSERT 0 1")

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "verify-secret")
	q.Set("hub.challenge", "challenge-123")
	c, rec := makeContext(e, http.MethodGet, "/whatsapp/webhook?"+q.Encode(), "")

	require.NoError(t, h.Verify(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "challenge-123", rec.Body.String())
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	e := echo.New()
	h := newWebhookHandler(t, "INSERT 0 1")

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "wrong")
	q.Set("hub.challenge", "challenge-123")
	c, _ := makeContext(e, http.MethodGet, "/whatsapp/webhook?"+q.Encode(), "")

	err := h.Verify(c)
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.Code)
}

func TestVerifyRejectsMissingMode(t *testing.T) {
	e := echo.New()
	h := newWebhookHandler(t, "INSERT 0 1")

	q := url.Values{}
	q.Set("hub.verify_token", "verify-secret")
	c, _ := makeContext(e, http.MethodGet, "/whatsapp/webhook?"+q.Encode(), "")

	err := h.Verify(c)
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.Code)
}

func TestReceiveAlwaysReturnsOKForNonMessages(t *testing.T) {
	e := echo.New()
	h := newWebhookHandler(t, "INSERT 0 1")

	// Status callback: no messages array.
	body := `{"entry":[{"changes":[{"value":{"statuses":[{"status":"read"}]}}]}]}`
	c, rec := makeContext(e, http.MethodPost, "/whatsapp/webhook", body)

	require.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReceiveDuplicateDeliveryShortCircuits(t *testing.T) {
	e := echo.New()
	// Conflict on insert means the message id was seen before.
	h := newWebhookHandler(t, "INSERT 0 0")

	body := `{"entry":[{"changes":[{"value":{"messages":[{"id":"wamid.dup","from":"628","type":"text","text":{"body":"hi"}}]}}]}]}`
	c, rec := makeContext(e, http.MethodPost, "/whatsapp/webhook", body)

	require.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiveMalformedBodyStillOK(t *testing.T) {
	e := echo.New()
	h := newWebhookHandler(t, "INSERT 0 1")

	c, rec := makeContext(e, http.MethodPost, "/whatsapp/webhook", "not json at all")
	require.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}
