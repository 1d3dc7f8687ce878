package channel

import (
	"context"
	"errors"
)

// ErrNoAdapter is returned by the registry when no adapter is registered
// for a platform.
var ErrNoAdapter = errors.New("no adapter registered for platform")

// Adapter is the capability set every channel adapter must implement.
// Typing indicators and feedback prompts are no-ops where the platform does
// not support them. All operations are best-effort from the caller's point
// of view: a failed send is logged, never retried at this layer.
type Adapter interface {
	Type() Platform

	// SendMessage delivers text to the recipient. Email adapters read the
	// hints for subject and reply-chain headers; chat adapters ignore them.
	SendMessage(ctx context.Context, recipient, text string, hints SendHints) error

	SendTypingOn(ctx context.Context, recipient string) error
	SendTypingOff(ctx context.Context, recipient string) error

	// SendFeedbackRequest prompts the user to rate the answer identified by
	// answerID.
	SendFeedbackRequest(ctx context.Context, recipient string, answerID int64) error
}

// ReadMarker is implemented by adapters that can acknowledge a provider
// message as read.
type ReadMarker interface {
	MarkAsRead(ctx context.Context, messageID string) error
}
