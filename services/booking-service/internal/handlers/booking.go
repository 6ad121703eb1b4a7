package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agendei/agendei-server/libs/auth"
	"github.com/agendei/agendei-server/libs/outbox"
	"github.com/agendei/agendei-server/services/booking-service/internal/availability"
	"github.com/agendei/agendei-server/services/booking-service/internal/lifecycle"
	"github.com/agendei/agendei-server/services/booking-service/internal/model"
	"github.com/agendei/agendei-server/services/booking-service/internal/policy"
	"github.com/agendei/agendei-server/services/booking-service/internal/scheduling"
	"github.com/agendei/agendei-server/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       *storage.BookingRepository
	catalog    *storage.CatalogRepository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
	policy     policy.Provider
	scheduling scheduling.Provider
	now        func() time.Time
}

// NewBookingHandler wires the booking API. clock is injectable for tests;
// nil means wall clock.
func NewBookingHandler(
	repo *storage.BookingRepository,
	catalog *storage.CatalogRepository,
	outboxRepo *outbox.Repository,
	logger *slog.Logger,
	policyProvider policy.Provider,
	schedulingProvider scheduling.Provider,
	clock func() time.Time,
) *BookingHandler {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &BookingHandler{
		repo:       repo,
		catalog:    catalog,
		outboxRepo: outboxRepo,
		logger:     logger,
		policy:     policyProvider,
		scheduling: schedulingProvider,
		now:        clock,
	}
}

// actor is the identity the gateway verified and forwarded.
type actor struct {
	UserID string
	Role   string
}

func actorFrom(r *http.Request) (actor, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if id == "" {
		return actor{}, false
	}
	return actor{UserID: id, Role: strings.TrimSpace(r.Header.Get("X-Role"))}, true
}

type createBookingRequest struct {
	ServiceID string `json:"serviceId"`
	StartAt   string `json:"startAt"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type bookingResponse struct {
	ID            string `json:"id"`
	ServiceID     string `json:"serviceId"`
	ClientID      string `json:"clientId"`
	ProviderID    string `json:"providerId"`
	StartAt       string `json:"startAt"`
	EndAt         string `json:"endAt"`
	BufferMinutes int    `json:"bufferMinutes"`
	Status        string `json:"status"`
	CancelReason  string `json:"cancelReason,omitempty"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func toBookingResponse(b model.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		ServiceID:     b.ServiceID,
		ClientID:      b.ClientID,
		ProviderID:    b.ProviderID,
		StartAt:       b.StartAt.UTC().Format(time.RFC3339),
		EndAt:         b.EndAt.UTC().Format(time.RFC3339),
		BufferMinutes: b.BufferMinutes,
		Status:        string(b.Status),
		CancelReason:  b.CancelReason,
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type slotsResponse struct {
	AvailableSlots []string `json:"availableSlots"`
}

// Slots handles GET /services/{id}/slots?date=YYYY-MM-DD. Public read path:
// tolerates stale bookings, the authoritative overlap check happens in Create.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	serviceID := strings.TrimSpace(r.PathValue("id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if serviceID == "" || dateStr == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "service id and date are required")
		return
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
		return
	}

	ctx := r.Context()
	svc, ok, err := h.catalog.GetService(ctx, serviceID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !ok || !svc.Active {
		writeError(w, http.StatusNotFound, "not_found", "service not found")
		return
	}

	loc := h.providerLocation(ctx, svc.ProviderID)
	day, weekday := availability.LocalDay(date, loc)
	sched, ok := h.resolveDaySchedule(ctx, svc.ProviderID, weekday)
	if !ok {
		writeJSON(w, http.StatusOK, slotsResponse{AvailableSlots: []string{}})
		return
	}

	windowStart, windowEnd, ok := sched.Window(day.Year(), day.Month(), day.Day(), loc)
	if !ok {
		writeJSON(w, http.StatusOK, slotsResponse{AvailableSlots: []string{}})
		return
	}

	duration := time.Duration(svc.DurationMinutes) * time.Minute
	buffer := time.Duration(svc.BufferMinutes) * time.Minute

	// Fetch every active booking whose padded window can touch a candidate's
	// padded window: candidates span [windowStart, windowEnd+buffer).
	busy, err := h.repo.ListActiveIntervals(ctx, svc.ProviderID, windowStart, windowEnd.Add(buffer))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	starts := availability.Slots(windowStart, windowEnd, duration, duration, buffer, busy, h.now().In(loc))
	out := make([]string, 0, len(starts))
	for _, s := range starts {
		out = append(out, s.Format("15:04"))
	}
	writeJSON(w, http.StatusOK, slotsResponse{AvailableSlots: out})
}

// Create handles POST /bookings. The overlap re-check inside the transaction
// plus the exclusion constraint guarantee exactly one winner when concurrent
// requests race for the same window.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	act, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "serviceId is required")
		return
	}
	startAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartAt))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "startAt must be RFC3339")
		return
	}

	ctx := r.Context()
	svc, found, err := h.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !found || !svc.Active {
		writeError(w, http.StatusNotFound, "not_found", "service not found")
		return
	}
	if svc.DurationMinutes <= 0 {
		writeDomainError(w, h.logger, model.Invalid("service", "duration must be positive"))
		return
	}

	now := h.now()
	if !startAt.After(now) {
		writeDomainError(w, h.logger, model.Invalid("startAt", "must be in the future"))
		return
	}

	// All window math happens in the provider's timezone; never converted to
	// UTC mid-computation.
	loc := h.providerLocation(ctx, svc.ProviderID)
	startLocal := startAt.In(loc)
	endLocal := startLocal.Add(time.Duration(svc.DurationMinutes) * time.Minute)

	sched, ok := h.resolveDaySchedule(ctx, svc.ProviderID, int(startLocal.Weekday()))
	if !ok || !sched.Contains(startLocal, endLocal, loc) {
		writeDomainError(w, h.logger, model.Invalid("startAt", "outside provider availability"))
		return
	}

	booking := &model.Booking{
		ServiceID:     svc.ServiceID,
		ClientID:      act.UserID,
		ProviderID:    svc.ProviderID,
		StartAt:       startLocal,
		EndAt:         endLocal,
		BufferMinutes: svc.BufferMinutes,
		Status:        model.StatusPending,
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, act.UserID, idempotencyKey)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		if exists && rec.StatusCode > 0 && len(rec.ResponsePayload) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	// Mandatory write-time re-check: the slot the client saw may be gone.
	overlaps, err := h.repo.LockActiveOverlaps(ctx, tx, svc.ProviderID, startLocal, endLocal, svc.BufferMinutes)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if overlaps > 0 {
		writeDomainError(w, h.logger, model.ErrConflict)
		return
	}

	if _, err := h.repo.Create(ctx, tx, booking); err != nil {
		if storage.IsConflict(err) {
			// Exclusion constraint: a concurrent create won the window.
			writeDomainError(w, h.logger, model.ErrConflict)
			return
		}
		writeDomainError(w, h.logger, err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":  booking.ID,
		"service_id":  booking.ServiceID,
		"client_id":   booking.ClientID,
		"provider_id": booking.ProviderID,
		"start_at":    booking.StartAt.UTC().Format(time.RFC3339),
		"end_at":      booking.EndAt.UTC().Format(time.RFC3339),
		"status":      string(booking.Status),
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.created.v1",
		Payload:       payload,
	}); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	body, err := json.Marshal(toBookingResponse(*booking))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, act.UserID, idempotencyKey, booking.ID, http.StatusCreated, body); err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			writeDomainError(w, h.logger, model.ErrConflict)
			return
		}
		writeDomainError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// Cancel handles PATCH /bookings/{id}/cancel. Client or provider may cancel
// while the booking is still pending or confirmed.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelBookingRequest
	if r.Body != nil {
		// Body is optional; a bare PATCH cancels without a reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	h.transition(w, r, model.StatusCancelled, strings.TrimSpace(req.Reason))
}

// Confirm handles PATCH /bookings/{id}/confirm. Provider only, from pending.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusConfirmed, "")
}

// Complete handles PATCH /bookings/{id}/complete. Provider only, from
// confirmed, only once the booking has ended.
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusCompleted, "")
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, target model.Status, cancelReason string) {
	act, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	bookingID := strings.TrimSpace(r.PathValue("id"))
	if bookingID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "booking id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetForUpdate(ctx, tx, bookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			writeDomainError(w, h.logger, model.ErrNotFound)
			return
		}
		writeDomainError(w, h.logger, err)
		return
	}

	if err := h.authorizeTransition(act, booking, target); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := lifecycle.Check(booking.Status, target); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if target == model.StatusCompleted && h.now().Before(booking.EndAt) {
		writeDomainError(w, h.logger, model.Invalid("booking", "cannot complete before the booking has ended"))
		return
	}

	previous := booking.Status
	updatedAt, err := h.repo.SetStatus(ctx, tx, booking.ID, target, cancelReason)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	booking.Status = target
	booking.UpdatedAt = updatedAt
	if target == model.StatusCancelled {
		booking.CancelReason = cancelReason
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":      booking.ID,
		"service_id":      booking.ServiceID,
		"client_id":       booking.ClientID,
		"provider_id":     booking.ProviderID,
		"start_at":        booking.StartAt.UTC().Format(time.RFC3339),
		"end_at":          booking.EndAt.UTC().Format(time.RFC3339),
		"previous_status": string(previous),
		"status":          string(target),
		"reason":          cancelReason,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.status.changed.v1",
		Payload:       payload,
	}); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if target == model.StatusConfirmed {
		h.enqueueReminders(ctx, tx, booking)
	}

	if err := tx.Commit(ctx); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) authorizeTransition(act actor, booking model.Booking, target model.Status) error {
	switch target {
	case model.StatusCancelled:
		if act.UserID == booking.ClientID || act.UserID == booking.ProviderID {
			return nil
		}
	case model.StatusConfirmed, model.StatusCompleted:
		if act.UserID == booking.ProviderID && act.Role == auth.RoleProvider {
			return nil
		}
	}
	return model.ErrForbidden
}

// List handles GET /bookings?providerId=&clientId=&status=&from=&to=.
// Results are scoped to the actor: clients only ever see their own bookings,
// providers their own agenda.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	act, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	q := r.URL.Query()
	filter := storage.ListFilter{
		ClientID:   strings.TrimSpace(q.Get("clientId")),
		ProviderID: strings.TrimSpace(q.Get("providerId")),
	}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := model.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation_error", "unknown status "+raw)
			return
		}
		filter.Status = status
	}
	for param, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := strings.TrimSpace(q.Get(param)); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", param+" must be RFC3339")
				return
			}
			*dst = t
		}
	}

	switch act.Role {
	case auth.RoleProvider:
		filter.ProviderID = act.UserID
	default:
		filter.ClientID = act.UserID
	}

	bookings, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	items := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

func (h *BookingHandler) enqueueReminders(ctx context.Context, tx pgx.Tx, booking model.Booking) {
	offsets := h.policy.ReminderOffsets(ctx, booking.ProviderID)
	now := h.now()
	for _, offset := range offsets {
		remindAt := booking.StartAt.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"booking_id":  booking.ID,
			"service_id":  booking.ServiceID,
			"client_id":   booking.ClientID,
			"provider_id": booking.ProviderID,
			"start_at":    booking.StartAt.UTC().Format(time.RFC3339),
			"remind_at":   remindAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			h.logger.Error("failed to build reminder payload", "err", err)
			continue
		}
		if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   booking.ID,
			EventType:     "booking.reminder.requested.v1",
			Payload:       payload,
		}); err != nil {
			h.logger.Error("failed to enqueue reminder", "err", err)
		}
	}
}

func (h *BookingHandler) providerLocation(ctx context.Context, providerID string) *time.Location {
	info, ok, err := h.catalog.GetProvider(ctx, providerID)
	if err != nil || !ok || info.Timezone == "" {
		if err != nil {
			h.logger.Warn("provider lookup failed, defaulting to UTC", "err", err, "provider_id", providerID)
		}
		return time.UTC
	}
	loc, err := time.LoadLocation(info.Timezone)
	if err != nil {
		h.logger.Warn("bad provider timezone, defaulting to UTC", "tz", info.Timezone, "provider_id", providerID)
		return time.UTC
	}
	return loc
}

// resolveDaySchedule prefers the local read model and falls back to asking
// catalog-service over gRPC when the projection has no row yet (cold start).
func (h *BookingHandler) resolveDaySchedule(ctx context.Context, providerID string, weekday int) (availability.DaySchedule, bool) {
	sched, ok, err := h.catalog.GetDaySchedule(ctx, providerID, weekday)
	if err != nil {
		h.logger.Error("schedule lookup failed", "err", err, "provider_id", providerID)
		return availability.DaySchedule{}, false
	}
	if ok {
		return sched, sched.Active
	}

	if h.scheduling != nil {
		reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		remote, err := h.scheduling.GetDaySchedule(reqCtx, providerID, weekday)
		if err != nil {
			h.logger.Warn("remote schedule fetch failed", "err", err, "provider_id", providerID)
			return availability.DaySchedule{}, false
		}
		return remote, remote.Active
	}
	return availability.DaySchedule{}, false
}
