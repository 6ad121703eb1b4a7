package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/agendei/agendei-server/libs/db"
)

// Ingestor turns booking events into durable reminder jobs.
type Ingestor struct {
	pool   *db.Pool
	repo   *Repository
	logger *slog.Logger
}

func NewIngestor(pool *db.Pool, repo *Repository, logger *slog.Logger) *Ingestor {
	return &Ingestor{pool: pool, repo: repo, logger: logger}
}

func (i *Ingestor) HandleReminderRequested(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		BookingID  string `json:"booking_id"`
		ServiceID  string `json:"service_id"`
		ClientID   string `json:"client_id"`
		ProviderID string `json:"provider_id"`
		StartAt    string `json:"start_at"`
		RemindAt   string `json:"remind_at"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		i.logger.Error("invalid reminder request payload", "err", err)
		return nil
	}
	if payload.BookingID == "" || payload.RemindAt == "" {
		i.logger.Error("reminder request missing required fields")
		return nil
	}
	startAt, err := time.Parse(time.RFC3339, payload.StartAt)
	if err != nil {
		i.logger.Error("invalid start_at in reminder request", "err", err)
		return nil
	}
	remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
	if err != nil {
		i.logger.Error("invalid remind_at in reminder request", "err", err)
		return nil
	}

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := i.repo.Insert(ctx, tx, Job{
		IdempotencyKey: payload.BookingID + "|" + payload.RemindAt,
		BookingID:      payload.BookingID,
		ServiceID:      payload.ServiceID,
		ClientID:       payload.ClientID,
		ProviderID:     payload.ProviderID,
		StartAt:        startAt,
		RemindAt:       remindAt,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// HandleBookingStatusChanged drops pending reminders once a booking is
// cancelled. Other transitions are irrelevant here.
func (i *Ingestor) HandleBookingStatusChanged(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		i.logger.Error("invalid status change payload", "err", err)
		return nil
	}
	if payload.BookingID == "" || payload.Status != "cancelled" {
		return nil
	}

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := i.repo.CancelForBooking(ctx, tx, payload.BookingID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if n > 0 {
		i.logger.Info("cancelled pending reminders", "booking_id", payload.BookingID, "count", n)
	}
	return nil
}
