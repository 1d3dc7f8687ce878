// Package sweeper closes chat sessions that have gone idle. It runs on a
// cron schedule, claims stale conversations under row locks so concurrent
// replicas never double-close, notifies the chatbot and the user, and marks
// the conversation ended.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/config"
	"github.com/kanalbot/kanal/internal/conversation"
)

// SessionEnder tells the chatbot backend a session is over so it can release
// state of its own.
type SessionEnder interface {
	EndSession(ctx context.Context, conversationID, platform, platformUniqueID string) error
}

// SweepSession is one transactional sweep pass. Claims stay locked until
// Commit so another replica sweeping concurrently skips them.
type SweepSession interface {
	ClaimStale(ctx context.Context, platforms []string, cutoff time.Time, limit int) ([]conversation.Conversation, error)
	GetThreadMetadata(ctx context.Context, conversationID string) (conversation.ThreadMetadata, error)
	Close(ctx context.Context, id string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Sweeper is the idle-session reaper.
type Sweeper struct {
	cfg      config.SessionConfig
	begin    func(ctx context.Context) (SweepSession, error)
	registry *channel.Registry
	chatbot  SessionEnder
	logger   *slog.Logger
	cron     *cron.Cron
}

func New(log *slog.Logger, cfg config.SessionConfig, store *conversation.TxStore, registry *channel.Registry, bot SessionEnder) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		cfg: cfg,
		begin: func(ctx context.Context) (SweepSession, error) {
			return store.BeginSweep(ctx)
		},
		registry: registry,
		chatbot:  bot,
		logger:   log.With(slog.String("service", "sweeper")),
	}
}

// Start schedules the sweep at the configured interval.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.SweepEvery())
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started",
		slog.Duration("interval", s.cfg.SweepEvery()),
		slog.Duration("idle_timeout", s.cfg.IdleAfter()))
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepEvery())
	defer cancel()

	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", slog.Any("error", err))
	}
}

// Sweep claims one batch of stale open sessions and closes each of them.
// Notification failures never leave a session open: the close happens
// regardless, and the batch commits as one transaction.
func (s *Sweeper) Sweep(ctx context.Context) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback(ctx)

	cutoff := time.Now().Add(-s.cfg.IdleAfter())
	stale, err := tx.ClaimStale(ctx, s.cfg.SweptPlatforms, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("claim stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	closed := 0
	for _, conv := range stale {
		s.endOne(ctx, tx, conv)
		if err := tx.Close(ctx, conv.ID); err != nil {
			s.logger.Error("close session", slog.String("conversation_id", conv.ID), slog.Any("error", err))
			continue
		}
		closed++
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sweep: %w", err)
	}

	s.logger.Info("sweep finished", slog.Int("claimed", len(stale)), slog.Int("closed", closed))
	return nil
}

// endOne performs the best-effort side of closing: tell the chatbot backend
// and send the user a closing notice.
func (s *Sweeper) endOne(ctx context.Context, tx SweepSession, conv conversation.Conversation) {
	log := s.logger.With(
		slog.String("conversation_id", conv.ID),
		slog.String("platform", conv.Platform.String()))

	if s.chatbot != nil {
		if err := s.chatbot.EndSession(ctx, conv.ID, conv.Platform.String(), conv.PlatformUniqueID); err != nil {
			log.Warn("notify chatbot of session end", slog.Any("error", err))
		}
	}

	if s.cfg.ClosingNotice == "" {
		return
	}
	adapter, err := s.registry.Get(conv.Platform)
	if err != nil {
		log.Warn("no adapter for closing notice", slog.Any("error", err))
		return
	}

	var hints channel.SendHints
	if conv.Platform == channel.PlatformEmail {
		if meta, err := tx.GetThreadMetadata(ctx, conv.ID); err == nil {
			hints = channel.SendHints{
				Subject:    meta.Subject,
				InReplyTo:  meta.ProviderMessageID,
				References: meta.References,
			}
		}
	}
	if err := adapter.SendMessage(ctx, conv.PlatformUniqueID, s.cfg.ClosingNotice, hints); err != nil {
		log.Warn("send closing notice", slog.Any("error", err))
	}
}
