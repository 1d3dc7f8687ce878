// Package whatsapp implements the channel adapter and webhook parser for
// the WhatsApp Cloud API.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/channel/adapters/meta"
	"github.com/kanalbot/kanal/internal/config"
)

const maxMessageLength = 4096

var (
	boldRe   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	strikeRe = regexp.MustCompile(`~~(.*?)~~`)
)

// Adapter sends messages through the WhatsApp Cloud API.
type Adapter struct {
	client   *meta.Client
	endpoint string
	logger   *slog.Logger
}

// New creates a WhatsApp adapter.
func New(log *slog.Logger, cfg config.WhatsAppConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		client:   meta.NewClient(cfg.AccessToken),
		endpoint: fmt.Sprintf("%s/%s/%s/messages", meta.BaseURL, meta.GraphVersion, cfg.PhoneNumberID),
		logger:   log.With(slog.String("adapter", "whatsapp")),
	}
}

// Type returns the WhatsApp platform identifier.
func (a *Adapter) Type() channel.Platform {
	return channel.PlatformWhatsApp
}

// SendMessage delivers text, converting common markdown to WhatsApp's
// dialect and splitting over the platform length limit.
func (a *Adapter) SendMessage(ctx context.Context, recipient, text string, _ channel.SendHints) error {
	text = convertMarkdown(text)
	for _, chunk := range channel.SplitText(text, maxMessageLength) {
		payload := map[string]any{
			"messaging_product": "whatsapp",
			"to":                recipient,
			"type":              "text",
			"text":              map[string]any{"body": chunk},
		}
		if err := a.client.PostJSON(ctx, a.endpoint, payload); err != nil {
			return fmt.Errorf("send whatsapp message: %w", err)
		}
	}
	return nil
}

// SendTypingOn is a no-op: the Cloud API has no typing indicator.
func (a *Adapter) SendTypingOn(_ context.Context, _ string) error { return nil }

// SendTypingOff is a no-op.
func (a *Adapter) SendTypingOff(_ context.Context, _ string) error { return nil }

// SendFeedbackRequest sends the yes/no feedback buttons for an answer.
func (a *Adapter) SendFeedbackRequest(ctx context.Context, recipient string, answerID int64) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "button",
			"body": map[string]any{"text": "Was this answer helpful?"},
			"action": map[string]any{
				"buttons": []map[string]any{
					{"type": "reply", "reply": map[string]any{
						"id":    fmt.Sprintf("feedback_good-%d", answerID),
						"title": "Yes",
					}},
					{"type": "reply", "reply": map[string]any{
						"id":    fmt.Sprintf("feedback_bad-%d", answerID),
						"title": "No",
					}},
				},
			},
		},
	}
	if err := a.client.PostJSON(ctx, a.endpoint, payload); err != nil {
		return fmt.Errorf("send whatsapp feedback request: %w", err)
	}
	return nil
}

// MarkAsRead acknowledges a provider message id.
func (a *Adapter) MarkAsRead(ctx context.Context, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	if err := a.client.PostJSON(ctx, a.endpoint, payload); err != nil {
		return fmt.Errorf("mark whatsapp message read: %w", err)
	}
	return nil
}

// convertMarkdown rewrites **bold** and ~~strike~~ into WhatsApp's *bold*
// and ~strike~.
func convertMarkdown(text string) string {
	text = boldRe.ReplaceAllString(text, "*$1*")
	text = strikeRe.ReplaceAllString(text, "~$1~")
	return text
}
