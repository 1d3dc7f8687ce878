package instagram

import (
	"encoding/json"
	"strings"

	"github.com/kanalbot/kanal/internal/channel"
)

type webhookEnvelope struct {
	Entry []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message struct {
				MID        string `json:"mid"`
				Text       string `json:"text"`
				QuickReply struct {
					Payload string `json:"payload"`
				} `json:"quick_reply"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParsePayload extracts an IncomingMessage from an Instagram webhook body,
// returning nil for anything that is not a text message or a quick-reply
// feedback event.
func ParsePayload(body []byte) *channel.IncomingMessage {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	if len(envelope.Entry) == 0 || len(envelope.Entry[0].Messaging) == 0 {
		return nil
	}

	messaging := envelope.Entry[0].Messaging[0]
	senderID := messaging.Sender.ID
	if senderID == "" {
		return nil
	}

	if payload := strings.TrimSpace(messaging.Message.QuickReply.Payload); payload != "" {
		return &channel.IncomingMessage{
			Platform:         channel.PlatformInstagram,
			PlatformUniqueID: senderID,
			Chat: &channel.ChatHints{
				ProviderMessageID: messaging.Message.MID,
				Feedback:          payload,
			},
		}
	}

	if strings.TrimSpace(messaging.Message.Text) == "" {
		return nil
	}
	return &channel.IncomingMessage{
		Platform:         channel.PlatformInstagram,
		PlatformUniqueID: senderID,
		Query:            messaging.Message.Text,
		Chat:             &channel.ChatHints{ProviderMessageID: messaging.Message.MID},
	}
}
