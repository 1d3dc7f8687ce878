package whatsapp

import (
	"encoding/json"
	"strings"

	"github.com/kanalbot/kanal/internal/channel"
)

// webhookEnvelope mirrors the WhatsApp Cloud API webhook shape, trimmed to
// the fields the relay reads.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		Type        string `json:"type"`
		ButtonReply struct {
			ID string `json:"id"`
		} `json:"button_reply"`
	} `json:"interactive"`
}

// ParsePayload extracts an IncomingMessage from a webhook body. It returns
// nil for status updates, unsupported message types, and malformed
// payloads; webhook handling never fails on provider noise.
func ParsePayload(body []byte) *channel.IncomingMessage {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	if len(envelope.Entry) == 0 || len(envelope.Entry[0].Changes) == 0 {
		return nil
	}
	messages := envelope.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		return nil
	}

	message := messages[0]
	if message.From == "" {
		return nil
	}

	switch message.Type {
	case "text":
		if strings.TrimSpace(message.Text.Body) == "" {
			return nil
		}
		return &channel.IncomingMessage{
			Platform:         channel.PlatformWhatsApp,
			PlatformUniqueID: message.From,
			Query:            message.Text.Body,
			Chat:             &channel.ChatHints{ProviderMessageID: message.ID},
		}
	case "interactive":
		if message.Interactive.Type != "button_reply" {
			return nil
		}
		payload := strings.TrimPrefix(message.Interactive.ButtonReply.ID, "feedback_")
		if payload == "" {
			return nil
		}
		return &channel.IncomingMessage{
			Platform:         channel.PlatformWhatsApp,
			PlatformUniqueID: message.From,
			Chat: &channel.ChatHints{
				ProviderMessageID: message.ID,
				Feedback:          payload,
			},
		}
	}
	return nil
}
