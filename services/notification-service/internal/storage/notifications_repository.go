package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/agendei/agendei-server/libs/db"
)

type Notification struct {
	BookingID string
	UserID    string
	Kind      string
	Channel   string
	Recipient string
	Body      string
	Status    string
}

// Contact is the per-user read model projected from auth.user.created.v1.
type Contact struct {
	UserID string
	Email  string
	Phone  string
	Name   string
	Role   string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (booking_id, user_id, kind, channel, recipient, body, status)
		VALUES (NULLIF($1, '')::uuid, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7)
	`, n.BookingID, n.UserID, n.Kind, n.Channel, n.Recipient, n.Body, n.Status)
	return err
}

func (r *Repository) UpsertContact(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_contacts (user_id, email, phone, name, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			updated_at = now()
	`, c.UserID, c.Email, c.Phone, c.Name, c.Role)
	return err
}

func (r *Repository) GetContact(ctx context.Context, userID string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, email, phone, name, role
		FROM user_contacts
		WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.Email, &c.Phone, &c.Name, &c.Role)
	return c, err
}

func (r *Repository) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(booking_id::text, ''), COALESCE(user_id::text, ''), kind, channel, recipient, body, status
		FROM notifications
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.BookingID, &n.UserID, &n.Kind, &n.Channel, &n.Recipient, &n.Body, &n.Status); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
