// Package conversation owns session identity: the conversation store, the
// thread metadata attached to email conversations, and the resolver that
// maps weakly-identified inbound events onto stable conversation ids.
package conversation

import (
	"errors"
	"time"

	"github.com/kanalbot/kanal/internal/channel"
)

// ErrNotFound is returned by store lookups that match no row.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one bounded session between an end-user identity and the
// bot on one channel. Lifecycle is OPEN -> CLOSED; closed sessions are never
// reopened, a new id is minted instead.
type Conversation struct {
	ID               string
	Platform         channel.Platform
	PlatformUniqueID string
	StartTimestamp   time.Time
	LastActivityAt   *time.Time
	EndTimestamp     *time.Time
}

// Open reports whether the session is still active.
func (c Conversation) Open() bool {
	return c.EndTimestamp == nil
}

// LastActivity is the session's most recent event time, falling back to the
// start time when no activity has been recorded.
func (c Conversation) LastActivity() time.Time {
	if c.LastActivityAt != nil {
		return *c.LastActivityAt
	}
	return c.StartTimestamp
}

// ThreadMetadata is the reply anchor for an email conversation. It is
// written at most once per conversation (first writer wins) so the anchor
// never drifts mid-thread.
type ThreadMetadata struct {
	ConversationID    string
	Subject           string
	InReplyTo         string
	References        string
	ProviderMessageID string
	ProviderThreadID  string
	ThreadKey         string
}

// Empty reports whether there is nothing worth persisting.
func (m ThreadMetadata) Empty() bool {
	return m.Subject == "" && m.InReplyTo == "" && m.References == "" &&
		m.ProviderMessageID == "" && m.ProviderThreadID == "" && m.ThreadKey == ""
}
