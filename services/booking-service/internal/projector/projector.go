// Package projector maintains the catalog read model from catalog.* events.
package projector

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/services/booking-service/internal/availability"
	"github.com/agendei/agendei-server/services/booking-service/internal/storage"
)

type Projector struct {
	pool    *db.Pool
	catalog *storage.CatalogRepository
	logger  *slog.Logger
}

func New(pool *db.Pool, catalog *storage.CatalogRepository, logger *slog.Logger) *Projector {
	return &Projector{pool: pool, catalog: catalog, logger: logger}
}

// Malformed payloads are logged and dropped, not retried: the producer owns
// the schema and a bad event will not improve on redelivery.

func (p *Projector) HandleServiceUpserted(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		ServiceID       string `json:"service_id"`
		ProviderID      string `json:"provider_id"`
		Name            string `json:"name"`
		DurationMinutes int    `json:"duration_minutes"`
		BufferMinutes   int    `json:"buffer_minutes"`
		Active          bool   `json:"active"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("invalid service event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.ServiceID == "" || payload.ProviderID == "" || payload.DurationMinutes <= 0 {
		p.logger.Error("service event missing required fields", "topic", msg.Topic)
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := p.catalog.UpsertService(ctx, tx, storage.CatalogService{
		ServiceID:       payload.ServiceID,
		ProviderID:      payload.ProviderID,
		Name:            payload.Name,
		DurationMinutes: payload.DurationMinutes,
		BufferMinutes:   payload.BufferMinutes,
		Active:          payload.Active,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Projector) HandleScheduleUpserted(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		ProviderID  string `json:"provider_id"`
		Weekday     int    `json:"weekday"`
		Active      bool   `json:"active"`
		StartMinute int    `json:"start_minute"`
		EndMinute   int    `json:"end_minute"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("invalid schedule event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	sched := availability.DaySchedule{
		Weekday:     payload.Weekday,
		Active:      payload.Active,
		StartMinute: payload.StartMinute,
		EndMinute:   payload.EndMinute,
	}
	if payload.ProviderID == "" || sched.Validate() != nil {
		p.logger.Error("schedule event missing or invalid fields", "topic", msg.Topic)
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := p.catalog.UpsertDaySchedule(ctx, tx, payload.ProviderID, sched); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Projector) HandleProviderUpserted(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		ProviderID             string `json:"provider_id"`
		Timezone               string `json:"timezone"`
		ReminderOffsetsMinutes []int  `json:"reminder_offsets_minutes"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("invalid provider event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.ProviderID == "" {
		p.logger.Error("provider event missing provider_id", "topic", msg.Topic)
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := p.catalog.UpsertProvider(ctx, tx, storage.ProviderInfo{
		ProviderID:             payload.ProviderID,
		Timezone:               payload.Timezone,
		ReminderOffsetsMinutes: payload.ReminderOffsetsMinutes,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
