package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/services/booking-service/internal/availability"
)

// CatalogRepository is the booking side of the catalog read model: local
// copies of services, provider schedules and provider profiles, kept fresh by
// consuming catalog.* events. Slot generation and create validation read only
// these tables.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

type CatalogService struct {
	ServiceID       string
	ProviderID      string
	Name            string
	DurationMinutes int
	BufferMinutes   int
	Active          bool
	UpdatedAt       time.Time
}

type ProviderInfo struct {
	ProviderID             string
	Timezone               string
	ReminderOffsetsMinutes []int
	UpdatedAt              time.Time
}

func (r *CatalogRepository) GetService(ctx context.Context, serviceID string) (CatalogService, bool, error) {
	var svc CatalogService
	err := r.pool.QueryRow(ctx, `
		SELECT service_id::text, provider_id::text, name, duration_minutes, buffer_minutes, active, updated_at
		FROM service_catalog
		WHERE service_id = $1
	`, serviceID).Scan(
		&svc.ServiceID,
		&svc.ProviderID,
		&svc.Name,
		&svc.DurationMinutes,
		&svc.BufferMinutes,
		&svc.Active,
		&svc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CatalogService{}, false, nil
		}
		return CatalogService{}, false, err
	}
	return svc, true, nil
}

func (r *CatalogRepository) UpsertService(ctx context.Context, tx pgx.Tx, svc CatalogService) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO service_catalog (service_id, provider_id, name, duration_minutes, buffer_minutes, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service_id)
		DO UPDATE SET provider_id = EXCLUDED.provider_id,
		              name = EXCLUDED.name,
		              duration_minutes = EXCLUDED.duration_minutes,
		              buffer_minutes = EXCLUDED.buffer_minutes,
		              active = EXCLUDED.active,
		              updated_at = now()
	`, svc.ServiceID, svc.ProviderID, svc.Name, svc.DurationMinutes, svc.BufferMinutes, svc.Active)
	return err
}

func (r *CatalogRepository) GetDaySchedule(ctx context.Context, providerID string, weekday int) (availability.DaySchedule, bool, error) {
	var sched availability.DaySchedule
	err := r.pool.QueryRow(ctx, `
		SELECT weekday, active, start_minute, end_minute
		FROM provider_schedule
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, weekday).Scan(&sched.Weekday, &sched.Active, &sched.StartMinute, &sched.EndMinute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return availability.DaySchedule{}, false, nil
		}
		return availability.DaySchedule{}, false, err
	}
	return sched, true, nil
}

func (r *CatalogRepository) UpsertDaySchedule(ctx context.Context, tx pgx.Tx, providerID string, sched availability.DaySchedule) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_schedule (provider_id, weekday, active, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, weekday)
		DO UPDATE SET active = EXCLUDED.active,
		              start_minute = EXCLUDED.start_minute,
		              end_minute = EXCLUDED.end_minute,
		              updated_at = now()
	`, providerID, sched.Weekday, sched.Active, sched.StartMinute, sched.EndMinute)
	return err
}

func (r *CatalogRepository) GetProvider(ctx context.Context, providerID string) (ProviderInfo, bool, error) {
	var info ProviderInfo
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id::text, timezone, reminder_offsets_minutes, updated_at
		FROM provider_directory
		WHERE provider_id = $1
	`, providerID).Scan(&info.ProviderID, &info.Timezone, &info.ReminderOffsetsMinutes, &info.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProviderInfo{}, false, nil
		}
		return ProviderInfo{}, false, err
	}
	return info, true, nil
}

func (r *CatalogRepository) UpsertProvider(ctx context.Context, tx pgx.Tx, info ProviderInfo) error {
	offsets := info.ReminderOffsetsMinutes
	if len(offsets) == 0 {
		offsets = []int{1440, 60}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_directory (provider_id, timezone, reminder_offsets_minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id)
		DO UPDATE SET timezone = EXCLUDED.timezone,
		              reminder_offsets_minutes = EXCLUDED.reminder_offsets_minutes,
		              updated_at = now()
	`, info.ProviderID, info.Timezone, offsets)
	return err
}
