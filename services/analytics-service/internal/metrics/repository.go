package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agendei/agendei-server/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// RecordBookingEvent appends to the booking event ledger. Returns false when
// the event id was already recorded, so callers can skip the counter bump on
// redelivery.
func (r *Repository) RecordBookingEvent(ctx context.Context, tx pgx.Tx, eventID, eventType, providerID, bookingID string, occurredAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO booking_events (event_id, event_type, provider_id, booking_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, providerID, bookingID, occurredAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// BumpDaily increments the per-provider per-day booking counters. The day
// bucket is the booking's start date in UTC.
func (r *Repository) BumpDaily(ctx context.Context, tx pgx.Tx, providerID string, day time.Time, createdInc, confirmedInc, cancelledInc, completedInc int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_booking_metrics (provider_id, day, created_count, confirmed_count, cancelled_count, completed_count)
		VALUES ($1, $2::date, $3, $4, $5, $6)
		ON CONFLICT (provider_id, day)
		DO UPDATE SET created_count = daily_booking_metrics.created_count + EXCLUDED.created_count,
		              confirmed_count = daily_booking_metrics.confirmed_count + EXCLUDED.confirmed_count,
		              cancelled_count = daily_booking_metrics.cancelled_count + EXCLUDED.cancelled_count,
		              completed_count = daily_booking_metrics.completed_count + EXCLUDED.completed_count,
		              updated_at = now()
	`, providerID, day.UTC(), createdInc, confirmedInc, cancelledInc, completedInc)
	return err
}

type DailyRow struct {
	Day            time.Time
	CreatedCount   int
	ConfirmedCount int
	CancelledCount int
	CompletedCount int
}

func (r *Repository) ListDaily(ctx context.Context, providerID string, from, to time.Time) ([]DailyRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day, created_count, confirmed_count, cancelled_count, completed_count
		FROM daily_booking_metrics
		WHERE provider_id = $1 AND day >= $2::date AND day <= $3::date
		ORDER BY day
	`, providerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyRow
	for rows.Next() {
		var row DailyRow
		if err := rows.Scan(&row.Day, &row.CreatedCount, &row.ConfirmedCount, &row.CancelledCount, &row.CompletedCount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) RecordNotification(ctx context.Context, bookingID, userID, kind, channel, providerID, status string, occurredAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_metrics (booking_id, user_id, kind, channel, provider_id, status, occurred_at)
		VALUES (NULLIF($1, '')::uuid, NULLIF($2, '')::uuid, $3, $4, NULLIF($5, '')::uuid, $6, $7)
	`, bookingID, userID, kind, channel, providerID, status, occurredAt.UTC())
	return err
}

func (r *Repository) BumpNotificationDaily(ctx context.Context, providerID, channel string, day time.Time, sentInc, failedInc int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_notification_metrics (provider_id, day, channel, sent_count, failed_count)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (provider_id, day, channel)
		DO UPDATE SET sent_count = daily_notification_metrics.sent_count + EXCLUDED.sent_count,
		              failed_count = daily_notification_metrics.failed_count + EXCLUDED.failed_count,
		              updated_at = now()
	`, providerID, day.UTC(), channel, sentInc, failedInc)
	return err
}

func (r *Repository) RecordReminderDLQ(ctx context.Context, bookingID, serviceID, clientID, providerID string, startAt, remindAt time.Time, errorReason string, failedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_dlq_events (booking_id, service_id, client_id, provider_id, start_at, remind_at, error_reason, failed_at)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8)
	`, bookingID, serviceID, clientID, providerID, startAt.UTC(), remindAt.UTC(), errorReason, failedAt.UTC())
	return err
}

func (r *Repository) RecordAuditEvent(ctx context.Context, eventType, actorID string, metadata []byte, createdAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_audit_events (event_type, actor_id, metadata, created_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4)
	`, eventType, actorID, metadata, createdAt.UTC())
	return err
}
