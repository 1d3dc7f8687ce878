// Package channel defines the adapter contract shared by all messaging
// platforms and the transient message types that flow through the relay.
package channel

import "strings"

// Platform identifies a messaging platform (e.g. "whatsapp", "email").
type Platform string

const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformInstagram Platform = "instagram"
	PlatformEmail     Platform = "email"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// ChatStyle reports whether the platform has chat-style sessions, where an
// open conversation is continued by sender identity rather than threading
// headers.
func (p Platform) ChatStyle() bool {
	return p == PlatformWhatsApp || p == PlatformInstagram
}

// EmailHints carries the threading signals extracted from an inbound email.
// ProviderThreadID is the provider-native conversation id (Graph-style APIs);
// ThreadKey is the secondary reply-chain correlation token derived from
// References / In-Reply-To headers.
type EmailHints struct {
	Subject          string `json:"subject,omitempty"`
	SenderName       string `json:"sender_name,omitempty"`
	MessageID        string `json:"message_id,omitempty"`
	InReplyTo        string `json:"in_reply_to,omitempty"`
	References       string `json:"references,omitempty"`
	ThreadKey        string `json:"thread_key,omitempty"`
	ProviderThreadID string `json:"provider_thread_id,omitempty"`
}

// HasThreadSignal reports whether any reply-chain correlation is present.
func (h EmailHints) HasThreadSignal() bool {
	return h.ProviderThreadID != "" || h.ThreadKey != ""
}

// Empty reports whether the hints carry nothing worth persisting.
func (h EmailHints) Empty() bool {
	return h == EmailHints{}
}

// ChatHints carries chat-platform metadata: the provider message id for
// read receipts and, for interactive replies, the raw feedback payload.
type ChatHints struct {
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Feedback          string `json:"feedback,omitempty"`
}

// IncomingMessage is the transient, channel-normalized inbound event.
// It is produced by channel-specific parsing and consumed exactly once by
// the orchestrator; it is never persisted.
type IncomingMessage struct {
	Platform         Platform    `json:"platform" validate:"required"`
	PlatformUniqueID string      `json:"platform_unique_id" validate:"required"`
	Query            string      `json:"query"`
	ConversationID   string      `json:"conversation_id,omitempty"`
	Email            *EmailHints `json:"email,omitempty"`
	Chat             *ChatHints  `json:"chat,omitempty"`
}

// IsFeedback reports whether this event is a feedback button press rather
// than a user query.
func (m IncomingMessage) IsFeedback() bool {
	return m.Chat != nil && strings.TrimSpace(m.Chat.Feedback) != ""
}

// SendHints carries channel-specific delivery metadata for outbound sends.
// Only the email adapter reads it; chat adapters ignore it.
type SendHints struct {
	Subject    string
	InReplyTo  string
	References string
}
