package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agendei/agendei-server/libs/auth"
	"github.com/agendei/agendei-server/libs/outbox"
	"github.com/agendei/agendei-server/services/catalog-service/internal/storage"
)

type Handler struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outboxRepo: outboxRepo, logger: logger}
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

func requireProvider(w http.ResponseWriter, r *http.Request) (actor, bool) {
	a, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return actor{}, false
	}
	if a.Role != auth.RoleProvider {
		writeError(w, http.StatusForbidden, "forbidden", "provider role required")
		return actor{}, false
	}
	return a, true
}

func requireClient(w http.ResponseWriter, r *http.Request) (actor, bool) {
	a, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return actor{}, false
	}
	return a, true
}

type categoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	Icon string `json:"icon,omitempty"`
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.repo.ListCategories(r.Context())
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryResponse{ID: c.ID, Name: c.Name, Slug: c.Slug, Icon: c.Icon})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireProvider(w, r); !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	id, err := h.repo.CreateCategory(r.Context(), req.Name, slugify(req.Name), strings.TrimSpace(req.Icon))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "conflict", "category already exists")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

type serviceRequest struct {
	CategoryID      string  `json:"categoryId"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DurationMinutes int     `json:"durationMinutes"`
	BufferMinutes   int     `json:"bufferMinutes"`
	Price           float64 `json:"price"`
}

func (req *serviceRequest) validate() (string, bool) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	switch {
	case req.Name == "":
		return "name is required", false
	case req.DurationMinutes <= 0:
		return "durationMinutes must be positive", false
	case req.BufferMinutes < 0:
		return "bufferMinutes must not be negative", false
	case req.Price < 0:
		return "price must not be negative", false
	}
	return "", true
}

type serviceResponse struct {
	ID              string `json:"id"`
	ProviderID      string `json:"providerId"`
	CategoryID      string `json:"categoryId,omitempty"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"durationMinutes"`
	BufferMinutes   int    `json:"bufferMinutes"`
	Price           string `json:"price"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

func toServiceResponse(s storage.Service) serviceResponse {
	return serviceResponse{
		ID:              s.ID,
		ProviderID:      s.ProviderID,
		CategoryID:      s.CategoryID,
		Name:            s.Name,
		Description:     s.Description,
		DurationMinutes: s.DurationMinutes,
		BufferMinutes:   s.BufferMinutes,
		Price:           s.Price,
		Active:          s.Active,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	categoryID := strings.TrimSpace(r.URL.Query().Get("categoryId"))
	services, err := h.repo.ListActiveServices(r.Context(), categoryID, 100)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	out := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, toServiceResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	s, err := h.repo.GetService(r.Context(), r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "service not found")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	if !s.Active {
		writeError(w, http.StatusNotFound, "not_found", "service not found")
		return
	}
	writeJSON(w, http.StatusOK, toServiceResponse(s))
}

func (h *Handler) ListProviderServices(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}
	services, err := h.repo.ListProviderServices(r.Context(), a.UserID, 100)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	out := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, toServiceResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	if msg, ok := req.validate(); !ok {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := h.repo.CreateService(ctx, tx, storage.Service{
		ProviderID:      a.UserID,
		CategoryID:      req.CategoryID,
		Name:            req.Name,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		BufferMinutes:   req.BufferMinutes,
		Price:           strconv.FormatFloat(req.Price, 'f', 2, 64),
	})
	if err != nil {
		if storage.IsForeignKeyViolation(err) {
			writeError(w, http.StatusBadRequest, "validation_error", "unknown categoryId")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}

	if err := h.emitServiceUpserted(r, tx, s); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServiceResponse(s))
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	if msg, ok := req.validate(); !ok {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := h.repo.UpdateService(ctx, tx, storage.Service{
		ID:              r.PathValue("id"),
		ProviderID:      a.UserID,
		CategoryID:      req.CategoryID,
		Name:            req.Name,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		BufferMinutes:   req.BufferMinutes,
		Price:           strconv.FormatFloat(req.Price, 'f', 2, 64),
	})
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			writeError(w, http.StatusNotFound, "not_found", "service not found")
		case storage.IsForeignKeyViolation(err):
			writeError(w, http.StatusBadRequest, "validation_error", "unknown categoryId")
		default:
			writeInternal(w, h.logger, err)
		}
		return
	}

	if err := h.emitServiceUpserted(r, tx, s); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceResponse(s))
}

// DeactivateService soft-deletes: the row stays so existing bookings keep
// resolving, but the service disappears from public listings and slot lookups.
func (h *Handler) DeactivateService(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := h.repo.DeactivateService(ctx, tx, a.UserID, r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "service not found")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}

	if err := h.emitServiceUpserted(r, tx, s); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type profileResponse struct {
	ProviderID             string `json:"providerId"`
	DisplayName            string `json:"displayName"`
	Bio                    string `json:"bio,omitempty"`
	Timezone               string `json:"timezone"`
	ReminderOffsetsMinutes []int  `json:"reminderOffsetsMinutes"`
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}
	p, err := h.repo.GetOrCreateProfile(r.Context(), a.UserID)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		ProviderID:             p.ProviderID,
		DisplayName:            p.DisplayName,
		Bio:                    p.Bio,
		Timezone:               p.Timezone,
		ReminderOffsetsMinutes: p.OffsetsMins,
	})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}

	var req struct {
		DisplayName            string `json:"displayName"`
		Bio                    string `json:"bio"`
		Timezone               string `json:"timezone"`
		ReminderOffsetsMinutes []int  `json:"reminderOffsetsMinutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Bio = strings.TrimSpace(req.Bio)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "timezone must be a valid IANA name")
		return
	}
	var offsets []int
	for _, v := range req.ReminderOffsetsMinutes {
		if v <= 0 || v > 365*24*60 {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid reminderOffsetsMinutes")
			return
		}
		offsets = append(offsets, v)
	}
	if len(offsets) == 0 {
		offsets = []int{1440, 60}
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.UpdateProfile(ctx, tx, storage.Profile{
		ProviderID:  a.UserID,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Timezone:    req.Timezone,
		OffsetsMins: offsets,
	}); err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"provider_id":              a.UserID,
		"timezone":                 req.Timezone,
		"reminder_offsets_minutes": offsets,
	})
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "provider",
		AggregateID:   a.UserID,
		EventType:     "catalog.provider.upserted.v1",
		Payload:       payload,
	}); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dayScheduleBody struct {
	Weekday     int  `json:"weekday"`
	Active      bool `json:"active"`
	StartMinute int  `json:"startMinute"`
	EndMinute   int  `json:"endMinute"`
}

// validateDaySchedule enforces the weekly availability invariants: weekday in
// 0..6 (Sunday first), minutes within the day, start before end on active days.
func validateDaySchedule(d dayScheduleBody) (string, bool) {
	switch {
	case d.Weekday < 0 || d.Weekday > 6:
		return "weekday must be between 0 and 6", false
	case d.StartMinute < 0 || d.StartMinute > 1440:
		return "startMinute must be within the day", false
	case d.EndMinute < 0 || d.EndMinute > 1440:
		return "endMinute must be within the day", false
	case d.Active && d.StartMinute >= d.EndMinute:
		return "startMinute must be before endMinute on active days", false
	}
	return "", true
}

func (h *Handler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}
	days, err := h.repo.ListAvailability(r.Context(), a.UserID)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	out := make([]dayScheduleBody, 0, len(days))
	for _, d := range days {
		out = append(out, dayScheduleBody{
			Weekday:     d.Weekday,
			Active:      d.Active,
			StartMinute: d.StartMinute,
			EndMinute:   d.EndMinute,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"availability": out})
}

func (h *Handler) UpsertAvailability(w http.ResponseWriter, r *http.Request) {
	a, ok := requireProvider(w, r)
	if !ok {
		return
	}

	weekday, err := strconv.Atoi(r.PathValue("weekday"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "weekday must be a number")
		return
	}

	var req dayScheduleBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.Weekday = weekday
	if !req.Active {
		req.StartMinute = 0
		req.EndMinute = 0
	}
	if msg, ok := validateDaySchedule(req); !ok {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.UpsertAvailability(ctx, tx, a.UserID, storage.DaySchedule{
		Weekday:     req.Weekday,
		Active:      req.Active,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
	}); err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"provider_id":  a.UserID,
		"weekday":      req.Weekday,
		"active":       req.Active,
		"start_minute": req.StartMinute,
		"end_minute":   req.EndMinute,
	})
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "provider",
		AggregateID:   a.UserID,
		EventType:     "catalog.availability.upserted.v1",
		Payload:       payload,
	}); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	a, ok := requireClient(w, r)
	if !ok {
		return
	}
	if err := h.repo.AddFavorite(r.Context(), a.UserID, r.PathValue("serviceId")); err != nil {
		if storage.IsForeignKeyViolation(err) {
			writeError(w, http.StatusNotFound, "not_found", "service not found")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	a, ok := requireClient(w, r)
	if !ok {
		return
	}
	if err := h.repo.RemoveFavorite(r.Context(), a.UserID, r.PathValue("serviceId")); err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "favorite not found")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	a, ok := requireClient(w, r)
	if !ok {
		return
	}
	services, err := h.repo.ListFavorites(r.Context(), a.UserID, 100)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	out := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, toServiceResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorites": out})
}

func (h *Handler) emitServiceUpserted(r *http.Request, tx pgx.Tx, s storage.Service) error {
	payload, _ := json.Marshal(map[string]any{
		"service_id":       s.ID,
		"provider_id":      s.ProviderID,
		"name":             s.Name,
		"duration_minutes": s.DurationMinutes,
		"buffer_minutes":   s.BufferMinutes,
		"active":           s.Active,
	})
	return h.outboxRepo.Insert(r.Context(), tx, outbox.Event{
		AggregateType: "service",
		AggregateID:   s.ID,
		EventType:     "catalog.service.upserted.v1",
		Payload:       payload,
	})
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
