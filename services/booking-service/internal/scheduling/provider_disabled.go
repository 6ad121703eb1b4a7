//go:build !protogen

package scheduling

import (
	"context"

	"github.com/agendei/agendei-server/services/booking-service/internal/availability"
)

// Provider fetches authoritative schedule data from catalog-service when the
// local read model cannot answer (cold start, projection lag).
type Provider interface {
	GetDaySchedule(ctx context.Context, providerID string, weekday int) (availability.DaySchedule, error)
}

// NewProvider returns nil without generated protos; callers treat a nil
// provider as "read model only".
func NewProvider(_ string) (Provider, error) {
	return nil, nil
}
