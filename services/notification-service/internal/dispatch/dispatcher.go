package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/libs/outbox"
	"github.com/agendei/agendei-server/services/notification-service/internal/email"
	"github.com/agendei/agendei-server/services/notification-service/internal/sms"
	"github.com/agendei/agendei-server/services/notification-service/internal/storage"
)

// Dispatcher consumes booking lifecycle events and due reminders, resolves
// the recipient through the contact read model, and delivers over email
// (always) and SMS (when the contact has a phone).
type Dispatcher struct {
	pool   *db.Pool
	repo   *storage.Repository
	outbox *outbox.Repository
	email  email.Sender
	sms    sms.Sender
	logger *slog.Logger

	// failSuffix simulates delivery failures in tests and demos: any
	// recipient ending with it is reported as failed without a send attempt.
	failSuffix string
}

func New(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger, failSuffix string) *Dispatcher {
	return &Dispatcher{
		pool:       pool,
		repo:       repo,
		outbox:     outboxRepo,
		email:      emailSender,
		sms:        smsSender,
		logger:     logger,
		failSuffix: failSuffix,
	}
}

func (d *Dispatcher) HandleUserCreated(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
		Phone  string `json:"phone"`
		Name   string `json:"name"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		d.logger.Error("invalid user created payload", "err", err)
		return nil
	}
	if payload.UserID == "" || payload.Email == "" {
		d.logger.Error("user created event missing required fields")
		return nil
	}
	return d.repo.UpsertContact(ctx, storage.Contact{
		UserID: payload.UserID,
		Email:  payload.Email,
		Phone:  payload.Phone,
		Name:   payload.Name,
		Role:   payload.Role,
	})
}

type bookingEvent struct {
	BookingID      string `json:"booking_id"`
	ServiceID      string `json:"service_id"`
	ClientID       string `json:"client_id"`
	ProviderID     string `json:"provider_id"`
	StartAt        string `json:"start_at"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
	RemindAt       string `json:"remind_at"`
}

// HandleBookingCreated tells the provider about a new pending booking.
func (d *Dispatcher) HandleBookingCreated(ctx context.Context, msg kafka.Message) error {
	evt, ok := d.decode(msg)
	if !ok || evt.ProviderID == "" {
		return nil
	}
	subject := "New booking request"
	body := fmt.Sprintf("You have a new pending booking for %s.", formatStart(evt.StartAt))
	return d.deliver(ctx, evt.ProviderID, evt.BookingID, evt.ProviderID, "booking_created", subject, body)
}

// HandleStatusChanged tells the client when a provider confirms, and
// whichever party did not cancel when a booking is cancelled.
func (d *Dispatcher) HandleStatusChanged(ctx context.Context, msg kafka.Message) error {
	evt, ok := d.decode(msg)
	if !ok || evt.ClientID == "" {
		return nil
	}
	switch evt.Status {
	case "confirmed":
		subject := "Booking confirmed"
		body := fmt.Sprintf("Your booking for %s was confirmed.", formatStart(evt.StartAt))
		return d.deliver(ctx, evt.ClientID, evt.BookingID, evt.ProviderID, "booking_confirmed", subject, body)
	case "cancelled":
		subject := "Booking cancelled"
		body := fmt.Sprintf("Your booking for %s was cancelled.", formatStart(evt.StartAt))
		return d.deliver(ctx, evt.ClientID, evt.BookingID, evt.ProviderID, "booking_cancelled", subject, body)
	default:
		return nil
	}
}

func (d *Dispatcher) HandleReminderDue(ctx context.Context, msg kafka.Message) error {
	evt, ok := d.decode(msg)
	if !ok || evt.ClientID == "" {
		return nil
	}
	subject := "Upcoming booking reminder"
	body := fmt.Sprintf("Reminder: you have a booking at %s.", formatStart(evt.StartAt))
	return d.deliver(ctx, evt.ClientID, evt.BookingID, evt.ProviderID, "reminder", subject, body)
}

func (d *Dispatcher) decode(msg kafka.Message) (bookingEvent, bool) {
	var evt bookingEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		d.logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
		return bookingEvent{}, false
	}
	if evt.BookingID == "" {
		d.logger.Error("event missing booking_id", "topic", msg.Topic)
		return bookingEvent{}, false
	}
	return evt, true
}

// deliver sends over every channel the contact supports, records each
// attempt, and mirrors the outcome as sent/failed events.
func (d *Dispatcher) deliver(ctx context.Context, userID, bookingID, providerID, kind, subject, body string) error {
	contact, err := d.repo.GetContact(ctx, userID)
	if err != nil {
		if storage.IsNotFound(err) {
			// Contact projection may lag behind the booking event; retrying
			// on redelivery will not help once dedupe has the event, so drop.
			d.logger.Warn("no contact for user", "user_id", userID, "kind", kind)
			return nil
		}
		return err
	}

	if err := d.attempt(ctx, contact, bookingID, providerID, kind, "email", contact.Email, subject, body); err != nil {
		return err
	}
	if contact.Phone != "" && d.sms != nil {
		if err := d.attempt(ctx, contact, bookingID, providerID, kind, "sms", contact.Phone, subject, body); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, contact storage.Contact, bookingID, providerID, kind, channel, recipient, subject, body string) error {
	status := "sent"
	failureReason := ""
	deliveredVia := ""

	switch {
	case d.failSuffix != "" && strings.HasSuffix(recipient, d.failSuffix):
		status = "failed"
		failureReason = "simulated failure"
	case channel == "email":
		if err := d.email.Send(recipient, subject, body); err != nil {
			status = "failed"
			failureReason = err.Error()
			d.logger.Error("email send failed", "err", err, "recipient", recipient)
		} else {
			deliveredVia = "smtp"
		}
	case channel == "sms":
		if err := d.sms.Send(ctx, recipient, body); err != nil {
			status = "failed"
			failureReason = err.Error()
			d.logger.Error("sms send failed", "err", err, "recipient", recipient)
		} else {
			deliveredVia = d.sms.ProviderID()
		}
	}

	if err := d.repo.Insert(ctx, storage.Notification{
		BookingID: bookingID,
		UserID:    contact.UserID,
		Kind:      kind,
		Channel:   channel,
		Recipient: recipient,
		Body:      body,
		Status:    status,
	}); err != nil {
		return err
	}

	if status == "failed" {
		return d.emitOutcome(ctx, "notification.failed.v1", map[string]any{
			"booking_id":   bookingID,
			"user_id":      contact.UserID,
			"kind":         kind,
			"channel":      channel,
			"provider_id":  providerID,
			"error_reason": failureReason,
			"failed_at":    time.Now().UTC().Format(time.RFC3339),
		}, bookingID)
	}
	return d.emitOutcome(ctx, "notification.sent.v1", map[string]any{
		"booking_id":    bookingID,
		"user_id":       contact.UserID,
		"kind":          kind,
		"channel":       channel,
		"provider_id":   providerID,
		"delivered_via": deliveredVia,
		"sent_at":       time.Now().UTC().Format(time.RFC3339),
	}, bookingID)
}

func (d *Dispatcher) emitOutcome(ctx context.Context, eventType string, payload map[string]any, bookingID string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := d.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   bookingID,
		EventType:     eventType,
		Payload:       raw,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func formatStart(startAt string) string {
	t, err := time.Parse(time.RFC3339, startAt)
	if err != nil {
		return startAt
	}
	return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
}
