package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agendei/agendei-server/libs/auth"
	"github.com/agendei/agendei-server/services/analytics-service/internal/metrics"
)

type Handler struct {
	repo   *metrics.Repository
	logger *slog.Logger
}

func New(repo *metrics.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

type dailyMetricsResponse struct {
	Day            string `json:"day"`
	CreatedCount   int    `json:"createdCount"`
	ConfirmedCount int    `json:"confirmedCount"`
	CancelledCount int    `json:"cancelledCount"`
	CompletedCount int    `json:"completedCount"`
}

// ListDailyMetrics returns the provider's own daily booking counters for a
// date range, defaulting to the last 30 days.
func (h *Handler) ListDailyMetrics(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}
	if strings.TrimSpace(r.Header.Get("X-Role")) != auth.RoleProvider {
		writeError(w, http.StatusForbidden, "forbidden", "provider role required")
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "from must be YYYY-MM-DD")
			return
		}
		from = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "to must be YYYY-MM-DD")
			return
		}
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "validation_error", "to must not be before from")
		return
	}

	rows, err := h.repo.ListDaily(r.Context(), userID, from, to)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	out := make([]dailyMetricsResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dailyMetricsResponse{
			Day:            row.Day.Format("2006-01-02"),
			CreatedCount:   row.CreatedCount,
			ConfirmedCount: row.ConfirmedCount,
			CancelledCount: row.CancelledCount,
			CompletedCount: row.CompletedCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": out})
}
