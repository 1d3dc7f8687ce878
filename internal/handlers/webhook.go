package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/channel/adapters/instagram"
	"github.com/kanalbot/kanal/internal/channel/adapters/whatsapp"
	"github.com/kanalbot/kanal/internal/dedup"
	"github.com/kanalbot/kanal/internal/orchestrator"
)

// maxWebhookBody caps inbound webhook payload size.
const maxWebhookBody = 1 << 20

// WebhookHandler receives Meta platform webhooks. One instance serves one
// platform; WhatsApp and Instagram share the verification handshake and the
// always-200 delivery contract but differ in payload shape.
type WebhookHandler struct {
	platform    channel.Platform
	verifyToken string
	parse       func(body []byte) *channel.IncomingMessage
	dedup       *dedup.Store
	orch        *orchestrator.Orchestrator
	logger      *slog.Logger
}

func NewWhatsAppWebhookHandler(log *slog.Logger, verifyToken string, dedupStore *dedup.Store, orch *orchestrator.Orchestrator) *WebhookHandler {
	return &WebhookHandler{
		platform:    channel.PlatformWhatsApp,
		verifyToken: verifyToken,
		parse:       whatsapp.ParsePayload,
		dedup:       dedupStore,
		orch:        orch,
		logger:      log.With(slog.String("handler", "whatsapp_webhook")),
	}
}

func NewInstagramWebhookHandler(log *slog.Logger, verifyToken string, dedupStore *dedup.Store, orch *orchestrator.Orchestrator) *WebhookHandler {
	return &WebhookHandler{
		platform:    channel.PlatformInstagram,
		verifyToken: verifyToken,
		parse:       instagram.ParsePayload,
		dedup:       dedupStore,
		orch:        orch,
		logger:      log.With(slog.String("handler", "instagram_webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	path := "/" + h.platform.String() + "/webhook"
	e.GET(path, h.Verify)
	e.POST(path, h.Receive)
}

// Verify answers Meta's subscription handshake: echo hub.challenge when the
// verify token matches, 403 otherwise.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		h.logger.Info("webhook verified")
		return c.String(http.StatusOK, challenge)
	}
	h.logger.Warn("webhook verification rejected", slog.String("mode", mode))
	return echo.NewHTTPError(http.StatusForbidden, "verification failed")
}

// Receive accepts a webhook delivery. Meta retries on non-200, so parse and
// processing failures are swallowed after logging; only an unreadable body
// is an error.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}

	msg := h.parse(body)
	if msg == nil {
		// Status callbacks and other non-message events land here.
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	if msg.Chat != nil && msg.Chat.ProviderMessageID != "" &&
		h.dedup.MarkAndCheck(c.Request().Context(), msg.Chat.ProviderMessageID, h.platform.String()) {
		h.logger.Debug("duplicate webhook delivery skipped",
			slog.String("message_id", msg.Chat.ProviderMessageID))
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	go h.orch.Process(detachedContext(c), *msg)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
