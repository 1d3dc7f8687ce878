// Package instagram implements the channel adapter and webhook parser for
// Instagram Messaging.
package instagram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/channel/adapters/meta"
	"github.com/kanalbot/kanal/internal/config"
)

const maxMessageLength = 1000

// Adapter sends messages through the Instagram Messaging API.
type Adapter struct {
	client   *meta.Client
	endpoint string
	logger   *slog.Logger
}

// New creates an Instagram adapter.
func New(log *slog.Logger, cfg config.InstagramConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		client:   meta.NewClient(cfg.AccessToken),
		endpoint: fmt.Sprintf("%s/%s/me/messages", meta.BaseURL, meta.GraphVersion),
		logger:   log.With(slog.String("adapter", "instagram")),
	}
}

// Type returns the Instagram platform identifier.
func (a *Adapter) Type() channel.Platform {
	return channel.PlatformInstagram
}

// SendMessage delivers text, splitting over the platform length limit.
func (a *Adapter) SendMessage(ctx context.Context, recipient, text string, _ channel.SendHints) error {
	for _, chunk := range channel.SplitText(text, maxMessageLength) {
		payload := map[string]any{
			"recipient": map[string]any{"id": recipient},
			"message":   map[string]any{"text": chunk},
		}
		if err := a.client.PostJSON(ctx, a.endpoint, payload); err != nil {
			return fmt.Errorf("send instagram message: %w", err)
		}
	}
	return nil
}

// SendTypingOn turns the typing indicator on.
func (a *Adapter) SendTypingOn(ctx context.Context, recipient string) error {
	return a.senderAction(ctx, recipient, "typing_on")
}

// SendTypingOff turns the typing indicator off.
func (a *Adapter) SendTypingOff(ctx context.Context, recipient string) error {
	return a.senderAction(ctx, recipient, "typing_off")
}

func (a *Adapter) senderAction(ctx context.Context, recipient, action string) error {
	payload := map[string]any{
		"recipient":     map[string]any{"id": recipient},
		"sender_action": action,
	}
	if err := a.client.PostJSON(ctx, a.endpoint, payload); err != nil {
		return fmt.Errorf("instagram sender action %s: %w", action, err)
	}
	return nil
}

// SendFeedbackRequest sends the yes/no quick replies for an answer.
func (a *Adapter) SendFeedbackRequest(ctx context.Context, recipient string, answerID int64) error {
	payload := map[string]any{
		"recipient": map[string]any{"id": recipient},
		"message": map[string]any{
			"text": "Was this answer helpful?",
			"quick_replies": []map[string]any{
				{
					"content_type": "text",
					"title":        "Yes",
					"payload":      fmt.Sprintf("good-%d", answerID),
				},
				{
					"content_type": "text",
					"title":        "No",
					"payload":      fmt.Sprintf("bad-%d", answerID),
				},
			},
		},
	}
	if err := a.client.PostJSON(ctx, a.endpoint, payload); err != nil {
		return fmt.Errorf("send instagram feedback request: %w", err)
	}
	return nil
}
