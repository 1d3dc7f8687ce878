package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kanalbot/kanal/internal/channel"
)

// Name-space UUIDs for deterministic conversation-id derivation. Fixed
// forever: changing either would re-key every derived conversation.
var (
	nsProviderThread = uuid.MustParse("910c33bc-1a33-4d80-9ce8-4271f8f54c70")
	nsFirstContact   = uuid.MustParse("c5b9bb6a-2f8c-4e2d-8a3f-7d1e0a6b4f19")
)

// ResolverStore is the lookup surface the resolver needs.
type ResolverStore interface {
	ActiveID(ctx context.Context, platform channel.Platform, platformUniqueID string) (string, error)
	Create(ctx context.Context, conv Conversation) error
	FindByProviderThreadID(ctx context.Context, threadID string) (string, error)
	FindByThreadKey(ctx context.Context, key string) (string, error)
	SaveThreadMetadata(ctx context.Context, meta ThreadMetadata) error
}

// Resolver maps an inbound message onto a stable conversation id, applying
// the channel-specific precedence: provider-native thread id, then secondary
// thread key, then sender+subject derivation, then (chat channels) the
// currently open session or a fresh random id.
//
// Lookups are best-effort: a store error downgrades to "not found" and the
// deterministic derivation takes over, so resolution always yields some
// valid id.
type Resolver struct {
	store  ResolverStore
	logger *slog.Logger
}

// NewResolver creates a resolver over the conversation store.
func NewResolver(log *slog.Logger, store ResolverStore) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: log.With(slog.String("service", "resolver")),
	}
}

// Resolution is the outcome of identity resolution.
type Resolution struct {
	ConversationID string
	// New reports whether this resolution minted an id not known to have an
	// existing conversation row.
	New bool
}

// Resolve produces the conversation id for the message and persists the
// conversation row and thread metadata as needed. The message's own
// ConversationID, when present, is authoritative and returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, msg channel.IncomingMessage) (Resolution, error) {
	if id := strings.TrimSpace(msg.ConversationID); id != "" {
		return Resolution{ConversationID: id}, nil
	}

	res := r.resolveID(ctx, msg)
	if res.ConversationID == "" {
		// Should be unreachable: every branch derives or mints an id.
		return Resolution{}, errors.New("resolution produced no conversation id")
	}

	if res.New {
		if err := r.store.Create(ctx, Conversation{
			ID:               res.ConversationID,
			Platform:         msg.Platform,
			PlatformUniqueID: msg.PlatformUniqueID,
			StartTimestamp:   time.Now().UTC(),
		}); err != nil {
			r.logger.Error("create conversation failed",
				slog.String("conversation_id", res.ConversationID),
				slog.Any("error", err))
		}
		r.persistMetadata(ctx, res.ConversationID, msg)
	}

	return res, nil
}

func (r *Resolver) resolveID(ctx context.Context, msg channel.IncomingMessage) Resolution {
	hints := msg.Email

	// Provider-native thread id outranks everything. The lookup is
	// best-effort; the derivation below is stable regardless of its outcome,
	// so redelivery lands on the same id with or without a committed row.
	if hints != nil && hints.ProviderThreadID != "" {
		if id, err := r.store.FindByProviderThreadID(ctx, hints.ProviderThreadID); err == nil {
			return Resolution{ConversationID: id}
		} else if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("provider thread lookup failed, deriving id",
				slog.String("thread_id", hints.ProviderThreadID),
				slog.Any("error", err))
		}
		return Resolution{ConversationID: DeriveFromProviderThread(hints.ProviderThreadID), New: true}
	}

	// Secondary thread key: reuse only on a hit. A miss means the reply
	// chain references a thread we never saw, so fall through to
	// first-contact derivation.
	if hints != nil && hints.ThreadKey != "" {
		if id, err := r.store.FindByThreadKey(ctx, hints.ThreadKey); err == nil {
			return Resolution{ConversationID: id}
		} else if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("thread key lookup failed",
				slog.String("thread_key", hints.ThreadKey),
				slog.Any("error", err))
		}
	}

	// First contact on a threaded channel: derive from normalized sender and
	// subject so redelivery races collapse onto one id without a lookup.
	if hints != nil {
		return Resolution{
			ConversationID: DeriveFromFirstContact(msg.PlatformUniqueID, hints.Subject),
			New:            true,
		}
	}

	// Chat-style channel: continue the open session if one exists.
	if id, err := r.store.ActiveID(ctx, msg.Platform, msg.PlatformUniqueID); err == nil {
		return Resolution{ConversationID: id}
	} else if !errors.Is(err, ErrNotFound) {
		r.logger.Warn("active session lookup failed, minting new id",
			slog.String("platform", msg.Platform.String()),
			slog.Any("error", err))
	}
	return Resolution{ConversationID: uuid.NewString(), New: true}
}

func (r *Resolver) persistMetadata(ctx context.Context, conversationID string, msg channel.IncomingMessage) {
	hints := msg.Email
	if hints == nil || hints.Empty() {
		return
	}
	meta := ThreadMetadata{
		ConversationID:    conversationID,
		Subject:           hints.Subject,
		InReplyTo:         hints.InReplyTo,
		References:        hints.References,
		ProviderMessageID: hints.MessageID,
		ProviderThreadID:  hints.ProviderThreadID,
		ThreadKey:         hints.ThreadKey,
	}
	if err := r.store.SaveThreadMetadata(ctx, meta); err != nil {
		r.logger.Error("save thread metadata failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err))
	}
}

// DeriveFromProviderThread deterministically maps a provider-native thread
// id to a conversation id. Calling it twice with the same input always
// yields the same id, with no store access.
func DeriveFromProviderThread(threadID string) string {
	return uuid.NewSHA1(nsProviderThread, []byte(threadID)).String()
}

// DeriveFromFirstContact deterministically maps a normalized (sender,
// subject) pair to a conversation id, so duplicate first-contact events
// collapse onto one conversation.
func DeriveFromFirstContact(sender, subject string) string {
	seed := fold(sender) + "\n" + fold(subject)
	return uuid.NewSHA1(nsFirstContact, []byte(seed)).String()
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
