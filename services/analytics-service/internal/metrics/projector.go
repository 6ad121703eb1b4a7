package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/agendei/agendei-server/libs/kafkax"
)

// Projector folds booking, notification, scheduler and auth events into the
// dashboard read model. Malformed payloads are logged and dropped; redelivery
// of a bad event will not improve on retry.
type Projector struct {
	repo   *Repository
	logger *slog.Logger
}

func NewProjector(repo *Repository, logger *slog.Logger) *Projector {
	return &Projector{repo: repo, logger: logger}
}

type bookingPayload struct {
	BookingID  string `json:"booking_id"`
	ProviderID string `json:"provider_id"`
	StartAt    string `json:"start_at"`
	Status     string `json:"status"`
}

func (p *Projector) HandleBookingCreated(ctx context.Context, msg kafka.Message) error {
	return p.applyBookingEvent(ctx, msg, func(payload bookingPayload) (int, int, int, int) {
		return 1, 0, 0, 0
	})
}

func (p *Projector) HandleStatusChanged(ctx context.Context, msg kafka.Message) error {
	return p.applyBookingEvent(ctx, msg, func(payload bookingPayload) (int, int, int, int) {
		switch payload.Status {
		case "confirmed":
			return 0, 1, 0, 0
		case "cancelled":
			return 0, 0, 1, 0
		case "completed":
			return 0, 0, 0, 1
		}
		return 0, 0, 0, 0
	})
}

func (p *Projector) applyBookingEvent(ctx context.Context, msg kafka.Message, counters func(bookingPayload) (int, int, int, int)) error {
	var payload bookingPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("invalid booking payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.BookingID == "" || payload.ProviderID == "" || payload.StartAt == "" {
		p.logger.Error("missing booking fields", "topic", msg.Topic)
		return nil
	}
	startAt, err := time.Parse(time.RFC3339, payload.StartAt)
	if err != nil {
		p.logger.Error("invalid start_at", "err", err)
		return nil
	}

	meta := kafkax.ExtractEventMeta(msg)

	tx, err := p.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	recorded, err := p.repo.RecordBookingEvent(ctx, tx, meta.EventID, meta.EventType, payload.ProviderID, payload.BookingID, startAt)
	if err != nil {
		return err
	}
	if !recorded {
		return tx.Commit(ctx)
	}

	createdInc, confirmedInc, cancelledInc, completedInc := counters(payload)
	if createdInc+confirmedInc+cancelledInc+completedInc > 0 {
		if err := p.repo.BumpDaily(ctx, tx, payload.ProviderID, startAt, createdInc, confirmedInc, cancelledInc, completedInc); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	p.logger.Info("booking metric recorded", "booking_id", payload.BookingID, "provider_id", payload.ProviderID, "event_type", meta.EventType)
	return nil
}

type notificationPayload struct {
	BookingID   string `json:"booking_id"`
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	Channel     string `json:"channel"`
	ProviderID  string `json:"provider_id"`
	SentAt      string `json:"sent_at"`
	ErrorReason string `json:"error_reason"`
	FailedAt    string `json:"failed_at"`
}

func (p *Projector) HandleNotificationSent(ctx context.Context, msg kafka.Message) error {
	return p.applyNotificationEvent(ctx, msg, "sent")
}

func (p *Projector) HandleNotificationFailed(ctx context.Context, msg kafka.Message) error {
	return p.applyNotificationEvent(ctx, msg, "failed")
}

func (p *Projector) applyNotificationEvent(ctx context.Context, msg kafka.Message, status string) error {
	var payload notificationPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("invalid notification payload", "err", err, "topic", msg.Topic)
		return nil
	}
	ts := payload.SentAt
	if status == "failed" {
		ts = payload.FailedAt
	}
	if payload.Channel == "" || ts == "" {
		p.logger.Error("missing notification fields", "topic", msg.Topic)
		return nil
	}
	occurredAt, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		p.logger.Error("invalid notification timestamp", "err", err)
		return nil
	}

	if err := p.repo.RecordNotification(ctx, payload.BookingID, payload.UserID, payload.Kind, payload.Channel, payload.ProviderID, status, occurredAt); err != nil {
		return err
	}

	if payload.ProviderID != "" {
		sentInc, failedInc := 1, 0
		if status == "failed" {
			sentInc, failedInc = 0, 1
		}
		if err := p.repo.BumpNotificationDaily(ctx, payload.ProviderID, payload.Channel, occurredAt, sentInc, failedInc); err != nil {
			return err
		}
	}

	p.logger.Info("notification metric recorded", "booking_id", payload.BookingID, "channel", payload.Channel, "status", status)
	return nil
}

func (p *Projector) HandleReminderDLQ(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		BookingID   string `json:"booking_id"`
		ServiceID   string `json:"service_id"`
		ClientID    string `json:"client_id"`
		ProviderID  string `json:"provider_id"`
		StartAt     string `json:"start_at"`
		RemindAt    string `json:"remind_at"`
		ErrorReason string `json:"error_reason"`
		FailedAt    string `json:"failed_at"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("invalid dlq payload", "err", err)
		return nil
	}
	if payload.BookingID == "" || payload.ProviderID == "" || payload.RemindAt == "" || payload.ErrorReason == "" || payload.FailedAt == "" {
		p.logger.Error("missing dlq fields")
		return nil
	}
	startAt, err := time.Parse(time.RFC3339, payload.StartAt)
	if err != nil {
		p.logger.Error("invalid start_at", "err", err)
		return nil
	}
	remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
	if err != nil {
		p.logger.Error("invalid remind_at", "err", err)
		return nil
	}
	failedAt, err := time.Parse(time.RFC3339, payload.FailedAt)
	if err != nil {
		p.logger.Error("invalid failed_at", "err", err)
		return nil
	}

	if err := p.repo.RecordReminderDLQ(ctx, payload.BookingID, payload.ServiceID, payload.ClientID, payload.ProviderID, startAt, remindAt, payload.ErrorReason, failedAt); err != nil {
		return err
	}

	p.logger.Warn("reminder dlq recorded", "booking_id", payload.BookingID, "provider_id", payload.ProviderID)
	return nil
}

func (p *Projector) HandleAuthAudit(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		EventType string          `json:"event_type"`
		ActorID   string          `json:"actor_id"`
		Metadata  json.RawMessage `json:"metadata"`
		CreatedAt string          `json:"created_at"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("invalid auth audit payload", "err", err)
		return nil
	}
	if payload.EventType == "" || payload.CreatedAt == "" {
		p.logger.Error("missing auth audit fields")
		return nil
	}
	createdAt, err := time.Parse(time.RFC3339, payload.CreatedAt)
	if err != nil {
		p.logger.Error("invalid auth audit created_at", "err", err)
		return nil
	}

	if err := p.repo.RecordAuditEvent(ctx, payload.EventType, payload.ActorID, payload.Metadata, createdAt); err != nil {
		return err
	}

	p.logger.Info("security audit recorded", "event_type", payload.EventType)
	return nil
}
