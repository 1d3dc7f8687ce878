// Package dedup records provider message ids that have already been
// processed, absorbing webhook redelivery and polling overlap.
package dedup

import (
	"context"
	"log/slog"

	"github.com/kanalbot/kanal/internal/db"
)

// Store is the insert-or-detect-conflict dedup primitive over
// processed_messages.
type Store struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewStore creates a dedup store.
func NewStore(log *slog.Logger, conn db.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     conn,
		logger: log.With(slog.String("service", "dedup")),
	}
}

// MarkAndCheck atomically records (messageID, platform) and reports whether
// the pair already existed. True means duplicate: skip the message. False
// means this call performed the first insertion and processing should
// proceed.
//
// On store error the check fails open: the message is treated as new so a
// database outage degrades to possible duplicate processing instead of
// dropped messages.
func (s *Store) MarkAndCheck(ctx context.Context, messageID, platform string) bool {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_messages (message_id, platform)
		 VALUES ($1, $2)
		 ON CONFLICT (message_id, platform) DO NOTHING`,
		messageID, platform)
	if err != nil {
		s.logger.Error("dedup check failed, treating message as new",
			slog.String("message_id", messageID),
			slog.String("platform", platform),
			slog.Any("error", err))
		return false
	}
	return tag.RowsAffected() == 0
}
