package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/services/booking-service/internal/availability"
	"github.com/agendei/agendei-server/services/booking-service/internal/model"
)

type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type IdempotencyRecord struct {
	ClientID        string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, clientID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, clientID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (client_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (client_id, idempotency_key) DO NOTHING
	`, clientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, clientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, clientID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE client_id = $1 AND idempotency_key = $2
	`, clientID, key, bookingID, statusCode, response)
	return err
}

// LockActiveOverlaps row-locks every pending/confirmed booking for the
// provider whose padded window intersects [start, end+buffer) and returns how
// many there are. Run inside the create transaction: a zero count plus the
// exclusion constraint on insert closes the check-then-write race.
func (r *BookingRepository) LockActiveOverlaps(ctx context.Context, tx pgx.Tx, providerID string, start, end time.Time, bufferMinutes int) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT id
		FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_at < $3 + make_interval(mins => $4)
			AND end_at + make_interval(mins => buffer_minutes) > $2
		FOR UPDATE
	`, providerID, start, end, bufferMinutes)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		count++
	}
	return count, rows.Err()
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(service_id, client_id, provider_id, start_at, end_at, buffer_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, b.ServiceID, b.ClientID, b.ProviderID, b.StartAt, b.EndAt, b.BufferMinutes, b.Status).
		Scan(&id, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return "", err
	}
	b.ID = id
	return id, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	var b model.Booking
	var status string
	err := tx.QueryRow(ctx, `
		SELECT id, service_id, client_id, provider_id, start_at, end_at,
			buffer_minutes, status, COALESCE(cancel_reason, ''), created_at, updated_at
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, bookingID).Scan(
		&b.ID,
		&b.ServiceID,
		&b.ClientID,
		&b.ProviderID,
		&b.StartAt,
		&b.EndAt,
		&b.BufferMinutes,
		&status,
		&b.CancelReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.Status(status)
	return b, nil
}

// SetStatus performs the transition write. Lifecycle legality is the caller's
// responsibility; this only stamps updated_at atomically with the change.
func (r *BookingRepository) SetStatus(ctx context.Context, tx pgx.Tx, bookingID string, status model.Status, cancelReason string) (time.Time, error) {
	var updatedAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
			cancel_reason = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancel_reason END,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, bookingID, string(status), cancelReason).Scan(&updatedAt)
	return updatedAt, err
}

// ListActiveIntervals returns the padded busy windows for pending/confirmed
// bookings intersecting [from, to). Read path for slot generation; tolerates
// staleness, the authoritative check happens at write time.
func (r *BookingRepository) ListActiveIntervals(ctx context.Context, providerID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_at, end_at, buffer_minutes
		FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_at < $3
			AND end_at + make_interval(mins => buffer_minutes) > $2
		ORDER BY start_at ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var start, end time.Time
		var bufferMinutes int
		if err := rows.Scan(&start, &end, &bufferMinutes); err != nil {
			return nil, err
		}
		busy = append(busy, availability.Interval{
			Start:  start,
			End:    end,
			Buffer: time.Duration(bufferMinutes) * time.Minute,
		})
	}
	return busy, rows.Err()
}

type ListFilter struct {
	ClientID   string
	ProviderID string
	Status     model.Status
	From       time.Time
	To         time.Time
	Limit      int
}

func (r *BookingRepository) List(ctx context.Context, f ListFilter) ([]model.Booking, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := `
		SELECT id, service_id, client_id, provider_id, start_at, end_at,
			buffer_minutes, status, COALESCE(cancel_reason, ''), created_at, updated_at
		FROM bookings
		WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if f.ClientID != "" {
		query += " AND client_id = " + arg(f.ClientID)
	}
	if f.ProviderID != "" {
		query += " AND provider_id = " + arg(f.ProviderID)
	}
	if f.Status != "" {
		query += " AND status = " + arg(string(f.Status))
	}
	if !f.From.IsZero() {
		query += " AND start_at >= " + arg(f.From)
	}
	if !f.To.IsZero() {
		query += " AND start_at < " + arg(f.To)
	}
	query += " ORDER BY start_at ASC LIMIT " + arg(f.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		var b model.Booking
		var status string
		if err := rows.Scan(
			&b.ID,
			&b.ServiceID,
			&b.ClientID,
			&b.ProviderID,
			&b.StartAt,
			&b.EndAt,
			&b.BufferMinutes,
			&status,
			&b.CancelReason,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		b.Status = model.Status(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

// IsConflict matches the bookings_no_overlap exclusion constraint (23P01).
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, clientID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT client_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE client_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, clientID, key).Scan(
		&rec.ClientID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
