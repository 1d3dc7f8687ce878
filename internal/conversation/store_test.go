package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kanalbot/kanal/internal/channel"
)

// fakeRow implements pgx.Row with a custom scan function.
type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

// fakeDBTX implements db.DBTX for unit testing.
type fakeDBTX struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (d *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if d.execFunc != nil {
		return d.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (d *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if d.queryRowFunc != nil {
		return d.queryRowFunc(ctx, sql, args...)
	}
	return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func mustUUID(t *testing.T, s string) pgtype.UUID {
	t.Helper()
	var id pgtype.UUID
	if err := id.Scan(s); err != nil {
		t.Fatalf("scan uuid: %v", err)
	}
	return id
}

func TestActiveIDReturnsOpenConversation(t *testing.T) {
	convID := "d5b1f3a0-0000-4000-8000-000000000001"
	store := NewStore(nil, &fakeDBTX{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*pgtype.UUID) = mustUUID(t, convID)
				*dest[1].(*pgtype.Timestamptz) = pgtype.Timestamptz{}
				return nil
			}}
		},
	})

	id, err := store.ActiveID(context.Background(), channel.PlatformWhatsApp, "628111")
	if err != nil {
		t.Fatalf("ActiveID: %v", err)
	}
	if id != convID {
		t.Fatalf("got %q, want %q", id, convID)
	}
}

func TestActiveIDClosedConversationIsNotFound(t *testing.T) {
	store := NewStore(nil, &fakeDBTX{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*pgtype.UUID) = mustUUID(t, "d5b1f3a0-0000-4000-8000-000000000001")
				*dest[1].(*pgtype.Timestamptz) = pgtype.Timestamptz{Time: time.Now(), Valid: true}
				return nil
			}}
		},
	})

	_, err := store.ActiveID(context.Background(), channel.PlatformWhatsApp, "628111")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestActiveIDNoRowsIsNotFound(t *testing.T) {
	store := NewStore(nil, &fakeDBTX{})
	_, err := store.ActiveID(context.Background(), channel.PlatformWhatsApp, "628111")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFindByThreadKeyMissIsNotFound(t *testing.T) {
	store := NewStore(nil, &fakeDBTX{})
	_, err := store.FindByThreadKey(context.Background(), "<unknown@example.com>")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCreateDefaultsStartTimestamp(t *testing.T) {
	var gotArgs []any
	store := NewStore(nil, &fakeDBTX{
		execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})

	err := store.Create(context.Background(), Conversation{
		ID:               "d5b1f3a0-0000-4000-8000-000000000001",
		Platform:         channel.PlatformEmail,
		PlatformUniqueID: "user@example.com",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(gotArgs) != 4 {
		t.Fatalf("expected 4 args, got %d", len(gotArgs))
	}
	start, ok := gotArgs[3].(time.Time)
	if !ok || start.IsZero() {
		t.Fatalf("start timestamp not defaulted: %v", gotArgs[3])
	}
}

func TestGetThreadMetadataMissIsNotFound(t *testing.T) {
	store := NewStore(nil, &fakeDBTX{})
	_, err := store.GetThreadMetadata(context.Background(), "d5b1f3a0-0000-4000-8000-000000000001")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestGetThreadMetadataPopulatesAnchor(t *testing.T) {
	store := NewStore(nil, &fakeDBTX{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "Pricing question"
				*dest[1].(*string) = "<m1@example.com>"
				*dest[2].(*string) = "<m0@example.com> <m1@example.com>"
				*dest[3].(*string) = "<m1@example.com>"
				*dest[4].(*string) = "AAQk123"
				*dest[5].(*string) = "<m0@example.com>"
				return nil
			}}
		},
	})

	meta, err := store.GetThreadMetadata(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("GetThreadMetadata: %v", err)
	}
	if meta.Subject != "Pricing question" || meta.ProviderThreadID != "AAQk123" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.ConversationID != "conv-1" {
		t.Fatalf("conversation id not carried: %q", meta.ConversationID)
	}
}

func TestConversationLastActivityFallsBackToStart(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := Conversation{StartTimestamp: start}
	if !conv.LastActivity().Equal(start) {
		t.Fatal("expected fallback to start timestamp")
	}

	later := start.Add(time.Hour)
	conv.LastActivityAt = &later
	if !conv.LastActivity().Equal(later) {
		t.Fatal("expected last activity timestamp")
	}
}
