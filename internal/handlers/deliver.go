package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/kanalbot/kanal/internal/orchestrator"
)

// DeliverHandler is the chatbot backend's way out: it posts finished answers
// here and the relay pushes them to the user's channel.
type DeliverHandler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func NewDeliverHandler(log *slog.Logger, orch *orchestrator.Orchestrator) *DeliverHandler {
	return &DeliverHandler{
		orch:   orch,
		logger: log.With(slog.String("handler", "deliver")),
	}
}

func (h *DeliverHandler) Register(e *echo.Echo) {
	e.POST("/api/messages/deliver", h.Deliver)
}

func (h *DeliverHandler) Deliver(c echo.Context) error {
	var req orchestrator.DeliverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	if err := h.orch.DeliverManual(c.Request().Context(), req); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		h.logger.Error("delivery failed",
			slog.String("platform", req.Platform),
			slog.String("user_id", req.UserID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}
