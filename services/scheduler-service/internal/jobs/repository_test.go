package jobs

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

func insertJob(t *testing.T, pool *db.Pool, repo *Repository, job Job) {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := repo.Insert(ctx, tx, job); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func countJobs(t *testing.T, pool *db.Pool, bookingID, status string) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(), `
		SELECT count(*) FROM scheduler_jobs WHERE booking_id = $1 AND status = $2
	`, bookingID, status).Scan(&n)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestInsertIsIdempotentPerKey(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository()

	bookingID := uuid.NewString()
	remindAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	job := Job{
		IdempotencyKey: bookingID + "|" + remindAt.Format(time.RFC3339),
		BookingID:      bookingID,
		ServiceID:      uuid.NewString(),
		ClientID:       uuid.NewString(),
		ProviderID:     uuid.NewString(),
		StartAt:        remindAt.Add(time.Hour),
		RemindAt:       remindAt,
	}

	insertJob(t, pool, repo, job)
	insertJob(t, pool, repo, job)

	if n := countJobs(t, pool, bookingID, "pending"); n != 1 {
		t.Fatalf("expected exactly 1 pending job, got %d", n)
	}
}

func TestCancelForBookingDropsPendingOnly(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository()
	ctx := context.Background()

	bookingID := uuid.NewString()
	base := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	for _, offset := range []time.Duration{0, 30 * time.Minute} {
		remindAt := base.Add(offset)
		insertJob(t, pool, repo, Job{
			IdempotencyKey: bookingID + "|" + remindAt.Format(time.RFC3339),
			BookingID:      bookingID,
			StartAt:        base.Add(2 * time.Hour),
			RemindAt:       remindAt,
		})
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	n, err := repo.CancelForBooking(ctx, tx, bookingID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if n != 2 {
		t.Fatalf("expected 2 cancelled jobs, got %d", n)
	}
	if pending := countJobs(t, pool, bookingID, "pending"); pending != 0 {
		t.Fatalf("expected no pending jobs, got %d", pending)
	}
	if cancelled := countJobs(t, pool, bookingID, "cancelled"); cancelled != 2 {
		t.Fatalf("expected 2 cancelled jobs, got %d", cancelled)
	}
}

func TestFetchDueSkipsFutureJobs(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository()
	ctx := context.Background()

	bookingID := uuid.NewString()
	past := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	future := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	for _, remindAt := range []time.Time{past, future} {
		insertJob(t, pool, repo, Job{
			IdempotencyKey: bookingID + "|" + remindAt.Format(time.RFC3339),
			BookingID:      bookingID,
			StartAt:        future.Add(time.Hour),
			RemindAt:       remindAt,
		})
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := repo.FetchDue(ctx, tx, 100)
	if err != nil {
		t.Fatalf("fetch due failed: %v", err)
	}
	for _, job := range due {
		if job.BookingID != bookingID {
			continue
		}
		if !job.RemindAt.Equal(past) {
			t.Fatalf("expected only the past reminder to be due, got remind_at %v", job.RemindAt)
		}
	}
}
