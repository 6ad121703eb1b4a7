package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/services/booking-service/internal/model"
)

// These tests need a migrated Postgres database; they skip unless
// AGENDEI_TEST_DATABASE_URL is set. Each test isolates itself with fresh
// provider/client ids.
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

func createBooking(ctx context.Context, repo *BookingRepository, b *model.Booking) error {
	tx, err := repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overlaps, err := repo.LockActiveOverlaps(ctx, tx, b.ProviderID, b.StartAt, b.EndAt, b.BufferMinutes)
	if err != nil {
		return err
	}
	if overlaps > 0 {
		return model.ErrConflict
	}
	if _, err := repo.Create(ctx, tx, b); err != nil {
		if IsConflict(err) {
			return model.ErrConflict
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return model.ErrConflict
		}
		return err
	}
	return nil
}

func TestConcurrentCreatesExactlyOneWins(t *testing.T) {
	pool := testPool(t)
	repo := NewBookingRepository(pool)
	ctx := context.Background()

	providerID := uuid.NewString()
	serviceID := uuid.NewString()
	start := time.Now().UTC().Truncate(time.Hour).Add(48 * time.Hour)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := &model.Booking{
				ServiceID:     serviceID,
				ClientID:      uuid.NewString(),
				ProviderID:    providerID,
				StartAt:       start,
				EndAt:         start.Add(time.Hour),
				BufferMinutes: 15,
				Status:        model.StatusPending,
			}
			results <- createBooking(ctx, repo, b)
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch err {
		case nil:
			wins++
		case model.ErrConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d (conflicts: %d)", wins, conflicts)
	}
	if conflicts != n-1 {
		t.Fatalf("expected %d conflicts, got %d", n-1, conflicts)
	}
}

func TestBufferedWindowsConflict(t *testing.T) {
	pool := testPool(t)
	repo := NewBookingRepository(pool)
	ctx := context.Background()

	providerID := uuid.NewString()
	start := time.Now().UTC().Truncate(time.Hour).Add(72 * time.Hour)

	first := &model.Booking{
		ServiceID:     uuid.NewString(),
		ClientID:      uuid.NewString(),
		ProviderID:    providerID,
		StartAt:       start,
		EndAt:         start.Add(time.Hour),
		BufferMinutes: 15,
		Status:        model.StatusPending,
	}
	if err := createBooking(ctx, repo, first); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	// Starts exactly when the first ends: blocked by the 15 minute buffer.
	adjacent := &model.Booking{
		ServiceID:     first.ServiceID,
		ClientID:      uuid.NewString(),
		ProviderID:    providerID,
		StartAt:       start.Add(time.Hour),
		EndAt:         start.Add(2 * time.Hour),
		BufferMinutes: 15,
		Status:        model.StatusPending,
	}
	if err := createBooking(ctx, repo, adjacent); err != model.ErrConflict {
		t.Fatalf("expected conflict inside buffer, got %v", err)
	}

	// Clear of the buffer.
	after := &model.Booking{
		ServiceID:     first.ServiceID,
		ClientID:      uuid.NewString(),
		ProviderID:    providerID,
		StartAt:       start.Add(time.Hour + 15*time.Minute),
		EndAt:         start.Add(2*time.Hour + 15*time.Minute),
		BufferMinutes: 15,
		Status:        model.StatusPending,
	}
	if err := createBooking(ctx, repo, after); err != nil {
		t.Fatalf("booking past the buffer should succeed, got %v", err)
	}
}

func TestCancelledBookingFreesTheWindow(t *testing.T) {
	pool := testPool(t)
	repo := NewBookingRepository(pool)
	ctx := context.Background()

	providerID := uuid.NewString()
	start := time.Now().UTC().Truncate(time.Hour).Add(96 * time.Hour)

	first := &model.Booking{
		ServiceID:     uuid.NewString(),
		ClientID:      uuid.NewString(),
		ProviderID:    providerID,
		StartAt:       start,
		EndAt:         start.Add(time.Hour),
		BufferMinutes: 0,
		Status:        model.StatusPending,
	}
	if err := createBooking(ctx, repo, first); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	loaded, err := repo.GetForUpdate(ctx, tx, first.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", loaded.Status)
	}
	updatedAt, err := repo.SetStatus(ctx, tx, first.ID, model.StatusCancelled, "client asked")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if !updatedAt.After(loaded.UpdatedAt) {
		t.Fatalf("updated_at not stamped: %s vs %s", updatedAt, loaded.UpdatedAt)
	}

	// The cancelled row no longer blocks the window.
	second := &model.Booking{
		ServiceID:     first.ServiceID,
		ClientID:      uuid.NewString(),
		ProviderID:    providerID,
		StartAt:       start,
		EndAt:         start.Add(time.Hour),
		BufferMinutes: 0,
		Status:        model.StatusPending,
	}
	if err := createBooking(ctx, repo, second); err != nil {
		t.Fatalf("rebooking a cancelled window should succeed, got %v", err)
	}
}

func TestListOrdersByStartAscending(t *testing.T) {
	pool := testPool(t)
	repo := NewBookingRepository(pool)
	ctx := context.Background()

	providerID := uuid.NewString()
	clientID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Hour).Add(120 * time.Hour)

	// Insert out of order.
	for _, offset := range []time.Duration{4 * time.Hour, 0, 2 * time.Hour} {
		b := &model.Booking{
			ServiceID:  uuid.NewString(),
			ClientID:   clientID,
			ProviderID: providerID,
			StartAt:    base.Add(offset),
			EndAt:      base.Add(offset + time.Hour),
			Status:     model.StatusPending,
		}
		if err := createBooking(ctx, repo, b); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	list, err := repo.List(ctx, ListFilter{ProviderID: providerID})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 bookings, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].StartAt.Before(list[i-1].StartAt) {
			t.Fatalf("bookings not ordered by start ascending")
		}
	}

	filtered, err := repo.List(ctx, ListFilter{ClientID: clientID, Status: model.StatusPending})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(filtered) != 3 {
		t.Fatalf("expected 3 pending bookings for client, got %d", len(filtered))
	}
}
