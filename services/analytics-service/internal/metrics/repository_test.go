package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agendei/agendei-server/libs/db"
)

// These tests need a migrated Postgres database; they skip unless
// AGENDEI_TEST_DATABASE_URL is set.
func testPool(t *testing.T) *db.Pool {
	t.Helper()
	url := os.Getenv("AGENDEI_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AGENDEI_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("db open failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func recordEvent(t *testing.T, repo *Repository, eventID, eventType, providerID, bookingID string, occurredAt time.Time) bool {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	recorded, err := repo.RecordBookingEvent(ctx, tx, eventID, eventType, providerID, bookingID, occurredAt)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return recorded
}

func bumpDaily(t *testing.T, repo *Repository, providerID string, day time.Time, created, confirmed, cancelled, completed int) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := repo.BumpDaily(ctx, tx, providerID, day, created, confirmed, cancelled, completed); err != nil {
		t.Fatalf("bump failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestRecordBookingEventDedupes(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)

	eventID := uuid.NewString()
	providerID := uuid.NewString()
	bookingID := uuid.NewString()
	occurredAt := time.Now().UTC()

	if !recordEvent(t, repo, eventID, "booking.created.v1", providerID, bookingID, occurredAt) {
		t.Fatal("first record should be accepted")
	}
	if recordEvent(t, repo, eventID, "booking.created.v1", providerID, bookingID, occurredAt) {
		t.Fatal("duplicate event id should be dropped")
	}
}

func TestBumpDailyAccumulates(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)

	providerID := uuid.NewString()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	bumpDaily(t, repo, providerID, day, 1, 0, 0, 0)
	bumpDaily(t, repo, providerID, day, 1, 0, 0, 0)
	bumpDaily(t, repo, providerID, day, 0, 1, 0, 0)
	bumpDaily(t, repo, providerID, day, 0, 0, 1, 0)

	rows, err := repo.ListDaily(context.Background(), providerID, day, day)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	got := rows[0]
	if got.CreatedCount != 2 || got.ConfirmedCount != 1 || got.CancelledCount != 1 || got.CompletedCount != 0 {
		t.Fatalf("unexpected counters: %+v", got)
	}
}

func TestListDailyRespectsRange(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)

	providerID := uuid.NewString()
	inRange := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	outOfRange := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	bumpDaily(t, repo, providerID, inRange, 1, 0, 0, 0)
	bumpDaily(t, repo, providerID, outOfRange, 1, 0, 0, 0)

	rows, err := repo.ListDaily(context.Background(), providerID, inRange.AddDate(0, 0, -1), inRange.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if !rows[0].Day.Equal(inRange) {
		t.Fatalf("unexpected day: %v", rows[0].Day)
	}
}
