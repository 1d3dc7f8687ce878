package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/db"
)

// Store persists conversations and email thread metadata. Concurrency
// correctness lives in the SQL: insert-if-absent for creation and metadata,
// SKIP LOCKED row claims for the sweeper. No in-process locks.
type Store struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewStore creates a conversation store.
func NewStore(log *slog.Logger, conn db.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     conn,
		logger: log.With(slog.String("service", "conversation")),
	}
}

// ActiveID returns the id of the open conversation for the identity, or
// ErrNotFound when the latest conversation is closed or none exists.
func (s *Store) ActiveID(ctx context.Context, platform channel.Platform, platformUniqueID string) (string, error) {
	var id pgtype.UUID
	var endTimestamp pgtype.Timestamptz
	err := s.db.QueryRow(ctx,
		`SELECT id, end_timestamp
		 FROM conversations
		 WHERE platform = $1 AND platform_unique_id = $2
		 ORDER BY start_timestamp DESC
		 LIMIT 1`,
		string(platform), platformUniqueID).Scan(&id, &endTimestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query active conversation: %w", err)
	}
	if endTimestamp.Valid {
		return "", ErrNotFound
	}
	return uuidString(id), nil
}

// LatestID returns the most recent conversation id for the identity
// regardless of state. Used for feedback attribution.
func (s *Store) LatestID(ctx context.Context, platform channel.Platform, platformUniqueID string) (string, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx,
		`SELECT id
		 FROM conversations
		 WHERE platform = $1 AND platform_unique_id = $2
		 ORDER BY start_timestamp DESC
		 LIMIT 1`,
		string(platform), platformUniqueID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query latest conversation: %w", err)
	}
	return uuidString(id), nil
}

// Create inserts the conversation if absent. Duplicate ids are silently
// ignored: deterministic derivation means racing writers produce the same
// row.
func (s *Store) Create(ctx context.Context, conv Conversation) error {
	start := conv.StartTimestamp
	if start.IsZero() {
		start = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversations (id, platform, platform_unique_id, start_timestamp)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		conv.ID, string(conv.Platform), conv.PlatformUniqueID, start)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// Touch bumps the conversation's last activity timestamp.
func (s *Store) Touch(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE conversations SET last_activity_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Close marks the conversation ended. Closing an already-closed session is
// a no-op.
func (s *Store) Close(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE conversations SET end_timestamp = now()
		 WHERE id = $1 AND end_timestamp IS NULL`, id)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	return nil
}

// FindByProviderThreadID looks up the conversation bound to a provider
// native thread id.
func (s *Store) FindByProviderThreadID(ctx context.Context, threadID string) (string, error) {
	return s.findByMetadata(ctx, "provider_thread_id", threadID)
}

// FindByThreadKey looks up the conversation bound to a secondary thread key.
func (s *Store) FindByThreadKey(ctx context.Context, key string) (string, error) {
	return s.findByMetadata(ctx, "thread_key", key)
}

func (s *Store) findByMetadata(ctx context.Context, column, value string) (string, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx,
		`SELECT conversation_id FROM email_thread_metadata
		 WHERE `+column+` = $1
		 ORDER BY created_at ASC
		 LIMIT 1`, value).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query thread metadata by %s: %w", column, err)
	}
	return uuidString(id), nil
}

// SaveThreadMetadata persists the reply anchor with first-writer-wins
// semantics; the losing writer's metadata is discarded without error.
func (s *Store) SaveThreadMetadata(ctx context.Context, meta ThreadMetadata) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO email_thread_metadata
		   (conversation_id, subject, in_reply_to, references_header,
		    provider_message_id, provider_thread_id, thread_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		meta.ConversationID, meta.Subject, meta.InReplyTo, meta.References,
		meta.ProviderMessageID, meta.ProviderThreadID, meta.ThreadKey)
	if err != nil {
		return fmt.Errorf("save thread metadata: %w", err)
	}
	return nil
}

// GetThreadMetadata returns the reply anchor for a conversation.
func (s *Store) GetThreadMetadata(ctx context.Context, conversationID string) (ThreadMetadata, error) {
	meta := ThreadMetadata{ConversationID: conversationID}
	err := s.db.QueryRow(ctx,
		`SELECT subject, in_reply_to, references_header,
		        provider_message_id, provider_thread_id, thread_key
		 FROM email_thread_metadata
		 WHERE conversation_id = $1`, conversationID).
		Scan(&meta.Subject, &meta.InReplyTo, &meta.References,
			&meta.ProviderMessageID, &meta.ProviderThreadID, &meta.ThreadKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ThreadMetadata{}, ErrNotFound
		}
		return ThreadMetadata{}, fmt.Errorf("get thread metadata: %w", err)
	}
	return meta, nil
}

// ClaimStale returns up to limit open conversations on the given platforms
// whose last activity (falling back to start time) is older than cutoff.
// Rows already claimed by a concurrent sweep are skipped, so two sweeper
// instances never double-close the same session.
func (s *Store) ClaimStale(ctx context.Context, platforms []string, cutoff time.Time, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, platform, platform_unique_id, start_timestamp, last_activity_at
		 FROM conversations
		 WHERE end_timestamp IS NULL
		   AND platform = ANY($1)
		   AND COALESCE(last_activity_at, start_timestamp) < $2
		 ORDER BY COALESCE(last_activity_at, start_timestamp) ASC
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		platforms, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			id           pgtype.UUID
			platform     string
			uniqueID     string
			start        pgtype.Timestamptz
			lastActivity pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &platform, &uniqueID, &start, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan stale conversation: %w", err)
		}
		conv := Conversation{
			ID:               uuidString(id),
			Platform:         channel.Platform(platform),
			PlatformUniqueID: uniqueID,
			StartTimestamp:   start.Time,
		}
		if lastActivity.Valid {
			t := lastActivity.Time
			conv.LastActivityAt = &t
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale conversations: %w", err)
	}
	return out, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	v, err := id.Value()
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
