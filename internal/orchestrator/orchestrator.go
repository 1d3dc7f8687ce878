// Package orchestrator is the shared processing path every channel feeds
// into: resolve the conversation, record activity, and dispatch the query to
// the chatbot backend. Replies come back out of band through the delivery
// endpoint.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/chatbot"
	"github.com/kanalbot/kanal/internal/conversation"
)

// askTimeout bounds the detached chatbot dispatch. The backend answers
// through the delivery endpoint, so this only covers accepting the query.
const askTimeout = 60 * time.Second

// ActivityStore is the conversation persistence the orchestrator touches
// directly, beyond what resolution already does.
type ActivityStore interface {
	Touch(ctx context.Context, id string) error
	LatestID(ctx context.Context, platform channel.Platform, platformUniqueID string) (string, error)
	GetThreadMetadata(ctx context.Context, conversationID string) (conversation.ThreadMetadata, error)
}

// Backend is the chatbot client surface the orchestrator drives.
type Backend interface {
	Ask(ctx context.Context, req chatbot.AskRequest) error
	SendFeedback(ctx context.Context, req chatbot.FeedbackRequest) error
}

// Orchestrator routes normalized inbound messages and outbound deliveries.
type Orchestrator struct {
	registry *channel.Registry
	resolver *conversation.Resolver
	store    ActivityStore
	backend  Backend
	logger   *slog.Logger
	validate *validator.Validate
}

func New(log *slog.Logger, registry *channel.Registry, resolver *conversation.Resolver, store ActivityStore, backend Backend) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		resolver: resolver,
		store:    store,
		backend:  backend,
		logger:   log.With(slog.String("service", "orchestrator")),
		validate: validator.New(),
	}
}

// Process handles one inbound user message end to end: adapter lookup,
// typing indicator, conversation resolution, activity bump, and chatbot
// dispatch. Dispatch is fire and forget; the reply arrives later via
// DeliverManual.
func (o *Orchestrator) Process(ctx context.Context, msg channel.IncomingMessage) {
	log := o.logger.With(
		slog.String("platform", msg.Platform.String()),
		slog.String("user_id", msg.PlatformUniqueID))

	adapter, err := o.registry.Get(msg.Platform)
	if err != nil {
		log.Warn("dropping message", slog.Any("error", err))
		return
	}

	if msg.Chat != nil && msg.Chat.ProviderMessageID != "" {
		if marker, ok := adapter.(channel.ReadMarker); ok {
			if err := marker.MarkAsRead(ctx, msg.Chat.ProviderMessageID); err != nil {
				log.Debug("mark as read", slog.Any("error", err))
			}
		}
	}

	if msg.IsFeedback() {
		o.HandleFeedback(ctx, msg)
		return
	}
	if strings.TrimSpace(msg.Query) == "" {
		log.Debug("empty query, nothing to do")
		return
	}

	if err := adapter.SendTypingOn(ctx, msg.PlatformUniqueID); err != nil {
		log.Debug("typing indicator", slog.Any("error", err))
	}

	res, err := o.resolver.Resolve(ctx, msg)
	if err != nil {
		log.Error("resolve conversation", slog.Any("error", err))
		o.typingOff(ctx, adapter, msg.PlatformUniqueID)
		return
	}
	log = log.With(slog.String("conversation_id", res.ConversationID))

	if !res.New {
		if err := o.store.Touch(ctx, res.ConversationID); err != nil {
			log.Warn("touch conversation", slog.Any("error", err))
		}
	}

	req := chatbot.AskRequest{
		Query:            msg.Query,
		Platform:         msg.Platform.String(),
		PlatformUniqueID: msg.PlatformUniqueID,
		ConversationID:   res.ConversationID,
	}

	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		if err := o.backend.Ask(dctx, req); err != nil {
			log.Error("submit query to chatbot", slog.Any("error", err))
			o.typingOff(dctx, adapter, msg.PlatformUniqueID)
		}
	}()
	log.Info("query dispatched")
}

// HandleFeedback forwards a feedback button press to the backend. The
// payload is "<rating>-<answer_id>"; anything else is silently ignored, as
// stale or replayed button presses are routine.
func (o *Orchestrator) HandleFeedback(ctx context.Context, msg channel.IncomingMessage) {
	log := o.logger.With(
		slog.String("platform", msg.Platform.String()),
		slog.String("user_id", msg.PlatformUniqueID))

	if msg.Chat == nil {
		log.Debug("ignoring feedback without chat hints")
		return
	}

	rating, answerID, ok := parseFeedback(msg.Chat.Feedback)
	if !ok {
		log.Debug("ignoring malformed feedback payload", slog.String("payload", msg.Chat.Feedback))
		return
	}

	convID := strings.TrimSpace(msg.ConversationID)
	if convID == "" {
		convID, _ = o.store.LatestID(ctx, msg.Platform, msg.PlatformUniqueID)
	}

	err := o.backend.SendFeedback(ctx, chatbot.FeedbackRequest{
		Rating:         rating,
		AnswerID:       answerID,
		ConversationID: convID,
		Platform:       msg.Platform.String(),
	})
	if err != nil {
		log.Error("forward feedback", slog.Any("error", err))
		return
	}
	log.Info("feedback forwarded", slog.String("rating", rating), slog.Int64("answer_id", answerID))
}

func parseFeedback(payload string) (rating string, answerID int64, ok bool) {
	rating, idPart, found := strings.Cut(strings.TrimSpace(payload), "-")
	if !found || (rating != "good" && rating != "bad") {
		return "", 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rating, id, true
}

// DeliverRequest is an outbound delivery order from the chatbot backend.
type DeliverRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	Platform       string `json:"platform" validate:"required"`
	Text           string `json:"text" validate:"required"`
	AnswerID       int64  `json:"answer_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	IsHelpdesk     bool   `json:"is_helpdesk,omitempty"`
}

// DeliverManual sends backend-produced text to a user: the answer itself,
// the typing-off signal, and (for rateable answers) a feedback prompt.
func (o *Orchestrator) DeliverManual(ctx context.Context, req DeliverRequest) error {
	if err := o.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid delivery request: %w", err)
	}

	platform := channel.Platform(req.Platform)
	adapter, err := o.registry.Get(platform)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", req.Platform, err)
	}

	log := o.logger.With(
		slog.String("platform", req.Platform),
		slog.String("user_id", req.UserID))

	var hints channel.SendHints
	if platform == channel.PlatformEmail && req.ConversationID != "" {
		meta, err := o.store.GetThreadMetadata(ctx, req.ConversationID)
		if err == nil {
			hints = channel.SendHints{
				Subject:    meta.Subject,
				InReplyTo:  meta.ProviderMessageID,
				References: meta.References,
			}
		} else if !errors.Is(err, conversation.ErrNotFound) {
			log.Warn("load thread metadata", slog.Any("error", err))
		}
	}

	if err := adapter.SendMessage(ctx, req.UserID, req.Text, hints); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	o.typingOff(ctx, adapter, req.UserID)

	if req.AnswerID > 0 && !req.IsHelpdesk {
		if err := adapter.SendFeedbackRequest(ctx, req.UserID, req.AnswerID); err != nil {
			log.Warn("send feedback prompt", slog.Any("error", err))
		}
	}

	log.Info("delivery complete", slog.Int64("answer_id", req.AnswerID))
	return nil
}

func (o *Orchestrator) typingOff(ctx context.Context, adapter channel.Adapter, recipient string) {
	if err := adapter.SendTypingOff(ctx, recipient); err != nil {
		o.logger.Debug("typing off", slog.Any("error", err))
	}
}
