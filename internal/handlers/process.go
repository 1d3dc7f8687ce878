package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/orchestrator"
)

// detachedContext carries the request's values but not its cancellation, so
// work queued behind an already-answered webhook survives the response.
func detachedContext(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

// ProcessHandler accepts pre-normalized messages on the internal API, for
// external pollers and manual injection.
type ProcessHandler struct {
	orch     *orchestrator.Orchestrator
	validate *validator.Validate
	logger   *slog.Logger
}

func NewProcessHandler(log *slog.Logger, orch *orchestrator.Orchestrator) *ProcessHandler {
	return &ProcessHandler{
		orch:     orch,
		validate: validator.New(),
		logger:   log.With(slog.String("handler", "process")),
	}
}

func (h *ProcessHandler) Register(e *echo.Echo) {
	e.POST("/api/messages/process", h.Process)
}

func (h *ProcessHandler) Process(c echo.Context) error {
	var msg channel.IncomingMessage
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := h.validate.Struct(msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	go h.orch.Process(detachedContext(c), msg)
	return c.JSON(http.StatusOK, map[string]string{"status": "queued"})
}
