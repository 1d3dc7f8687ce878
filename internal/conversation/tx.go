package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxStore opens sweep transactions so ClaimStale's SKIP LOCKED row claims
// hold until the cycle commits.
type TxStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTxStore creates a transactional store over the shared pool.
func NewTxStore(log *slog.Logger, pool *pgxpool.Pool) *TxStore {
	return &TxStore{pool: pool, logger: log}
}

// BeginSweep starts a sweep transaction.
func (t *TxStore) BeginSweep(ctx context.Context) (*SweepTx, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin sweep tx: %w", err)
	}
	return &SweepTx{
		store: NewStore(t.logger, tx),
		done: func(ctx context.Context, commit bool) error {
			if commit {
				return tx.Commit(ctx)
			}
			return tx.Rollback(ctx)
		},
	}, nil
}

// SweepTx is one in-flight sweep cycle's transactional view of the store.
type SweepTx struct {
	store *Store
	done  func(ctx context.Context, commit bool) error
}

func (x *SweepTx) ClaimStale(ctx context.Context, platforms []string, cutoff time.Time, limit int) ([]Conversation, error) {
	return x.store.ClaimStale(ctx, platforms, cutoff, limit)
}

func (x *SweepTx) GetThreadMetadata(ctx context.Context, conversationID string) (ThreadMetadata, error) {
	return x.store.GetThreadMetadata(ctx, conversationID)
}

func (x *SweepTx) Close(ctx context.Context, id string) error {
	return x.store.Close(ctx, id)
}

func (x *SweepTx) Commit(ctx context.Context) error {
	return x.done(ctx, true)
}

func (x *SweepTx) Rollback(ctx context.Context) error {
	return x.done(ctx, false)
}
