package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

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

type Category struct {
	ID        string
	Name      string
	Slug      string
	Icon      string
	CreatedAt time.Time
}

func (r *Repository) CreateCategory(ctx context.Context, name, slug, icon string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO categories (id, name, slug, icon)
		VALUES ($1, $2, $3, $4)
	`, id, name, slug, icon)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, slug, icon, created_at
		FROM categories
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Icon, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type Service struct {
	ID              string
	ProviderID      string
	CategoryID      string
	Name            string
	Description     string
	DurationMinutes int
	BufferMinutes   int
	Price           string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *Repository) CreateService(ctx context.Context, tx pgx.Tx, s Service) (Service, error) {
	s.ID = uuid.NewString()
	err := tx.QueryRow(ctx, `
		INSERT INTO services (id, provider_id, category_id, name, description, duration_minutes, buffer_minutes, price, active)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, true)
		RETURNING active, created_at, updated_at
	`, s.ID, s.ProviderID, s.CategoryID, s.Name, s.Description, s.DurationMinutes, s.BufferMinutes, s.Price).
		Scan(&s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Service{}, err
	}
	return s, nil
}

// UpdateService rewrites the mutable fields of a provider-owned service.
// The provider_id guard keeps one provider from editing another's service.
func (r *Repository) UpdateService(ctx context.Context, tx pgx.Tx, s Service) (Service, error) {
	err := tx.QueryRow(ctx, `
		UPDATE services
		SET category_id = NULLIF($3, '')::uuid,
			name = $4,
			description = $5,
			duration_minutes = $6,
			buffer_minutes = $7,
			price = $8,
			updated_at = now()
		WHERE id = $1 AND provider_id = $2
		RETURNING active, created_at, updated_at
	`, s.ID, s.ProviderID, s.CategoryID, s.Name, s.Description, s.DurationMinutes, s.BufferMinutes, s.Price).
		Scan(&s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Service{}, err
	}
	return s, nil
}

func (r *Repository) DeactivateService(ctx context.Context, tx pgx.Tx, providerID, serviceID string) (Service, error) {
	var s Service
	var categoryID *string
	err := tx.QueryRow(ctx, `
		UPDATE services
		SET active = false, updated_at = now()
		WHERE id = $1 AND provider_id = $2
		RETURNING id::text, provider_id::text, category_id::text, name, description,
			duration_minutes, buffer_minutes, price::text, active, created_at, updated_at
	`, serviceID, providerID).
		Scan(&s.ID, &s.ProviderID, &categoryID, &s.Name, &s.Description,
			&s.DurationMinutes, &s.BufferMinutes, &s.Price, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Service{}, err
	}
	if categoryID != nil {
		s.CategoryID = *categoryID
	}
	return s, nil
}

func (r *Repository) GetService(ctx context.Context, serviceID string) (Service, error) {
	var s Service
	var categoryID *string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, provider_id::text, category_id::text, name, description,
			duration_minutes, buffer_minutes, price::text, active, created_at, updated_at
		FROM services
		WHERE id = $1
	`, serviceID).
		Scan(&s.ID, &s.ProviderID, &categoryID, &s.Name, &s.Description,
			&s.DurationMinutes, &s.BufferMinutes, &s.Price, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Service{}, err
	}
	if categoryID != nil {
		s.CategoryID = *categoryID
	}
	return s, nil
}

// ListActiveServices is the public browse path. An empty categoryID lists all
// active services.
func (r *Repository) ListActiveServices(ctx context.Context, categoryID string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, category_id::text, name, description,
			duration_minutes, buffer_minutes, price::text, active, created_at, updated_at
		FROM services
		WHERE active AND ($1 = '' OR category_id = $1::uuid)
		ORDER BY created_at DESC
		LIMIT $2
	`, categoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanServices(rows)
}

func (r *Repository) ListProviderServices(ctx context.Context, providerID string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, category_id::text, name, description,
			duration_minutes, buffer_minutes, price::text, active, created_at, updated_at
		FROM services
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanServices(rows)
}

func scanServices(rows pgx.Rows) ([]Service, error) {
	var out []Service
	for rows.Next() {
		var s Service
		var categoryID *string
		if err := rows.Scan(&s.ID, &s.ProviderID, &categoryID, &s.Name, &s.Description,
			&s.DurationMinutes, &s.BufferMinutes, &s.Price, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if categoryID != nil {
			s.CategoryID = *categoryID
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type Profile struct {
	ProviderID  string
	DisplayName string
	Bio         string
	Timezone    string
	OffsetsMins []int
	UpdatedAt   time.Time
}

func (r *Repository) GetOrCreateProfile(ctx context.Context, providerID string) (Profile, error) {
	// Create a default profile on first touch so the provider UI always has
	// something to render.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_profiles (provider_id)
		VALUES ($1)
		ON CONFLICT (provider_id) DO NOTHING
	`, providerID)
	if err != nil {
		return Profile{}, err
	}

	var p Profile
	err = r.pool.QueryRow(ctx, `
		SELECT provider_id::text, display_name, bio, timezone, reminder_offsets_minutes, updated_at
		FROM provider_profiles
		WHERE provider_id = $1
	`, providerID).Scan(&p.ProviderID, &p.DisplayName, &p.Bio, &p.Timezone, &p.OffsetsMins, &p.UpdatedAt)
	return p, err
}

func (r *Repository) UpdateProfile(ctx context.Context, tx pgx.Tx, p Profile) error {
	if len(p.OffsetsMins) == 0 {
		p.OffsetsMins = []int{1440, 60}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_profiles (provider_id, display_name, bio, timezone, reminder_offsets_minutes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			bio = EXCLUDED.bio,
			timezone = EXCLUDED.timezone,
			reminder_offsets_minutes = EXCLUDED.reminder_offsets_minutes,
			updated_at = now()
	`, p.ProviderID, p.DisplayName, p.Bio, p.Timezone, p.OffsetsMins)
	return err
}

type DaySchedule struct {
	Weekday     int
	Active      bool
	StartMinute int
	EndMinute   int
}

func (r *Repository) ListAvailability(ctx context.Context, providerID string) ([]DaySchedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, active, start_minute, end_minute
		FROM provider_availability
		WHERE provider_id = $1
		ORDER BY weekday ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DaySchedule
	for rows.Next() {
		var d DaySchedule
		if err := rows.Scan(&d.Weekday, &d.Active, &d.StartMinute, &d.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) GetDaySchedule(ctx context.Context, providerID string, weekday int) (DaySchedule, error) {
	var d DaySchedule
	err := r.pool.QueryRow(ctx, `
		SELECT weekday, active, start_minute, end_minute
		FROM provider_availability
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, weekday).Scan(&d.Weekday, &d.Active, &d.StartMinute, &d.EndMinute)
	return d, err
}

func (r *Repository) UpsertAvailability(ctx context.Context, tx pgx.Tx, providerID string, d DaySchedule) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_availability (provider_id, weekday, active, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, weekday) DO UPDATE
		SET active = EXCLUDED.active,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			updated_at = now()
	`, providerID, d.Weekday, d.Active, d.StartMinute, d.EndMinute)
	return err
}

func (r *Repository) AddFavorite(ctx context.Context, clientID, serviceID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO favorites (client_id, service_id)
		VALUES ($1, $2)
		ON CONFLICT (client_id, service_id) DO NOTHING
	`, clientID, serviceID)
	return err
}

func (r *Repository) RemoveFavorite(ctx context.Context, clientID, serviceID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM favorites
		WHERE client_id = $1 AND service_id = $2
	`, clientID, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListFavorites(ctx context.Context, clientID string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.provider_id::text, s.category_id::text, s.name, s.description,
			s.duration_minutes, s.buffer_minutes, s.price::text, s.active, s.created_at, s.updated_at
		FROM favorites f
		JOIN services s ON s.id = f.service_id
		WHERE f.client_id = $1
		ORDER BY f.created_at DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanServices(rows)
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports a 23505, e.g. a duplicate category slug.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsForeignKeyViolation reports a 23503, e.g. favoriting or categorizing
// against a row that does not exist.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
