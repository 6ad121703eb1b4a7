//go:build protogen

package scheduling

import (
	"context"
	"time"

	"github.com/agendei/agendei-server/libs/grpcx"
	catalogv1 "github.com/agendei/agendei-server/protos/gen/catalog/v1"
	"github.com/agendei/agendei-server/services/booking-service/internal/availability"
)

// Provider fetches authoritative schedule data from catalog-service when the
// local read model cannot answer (cold start, projection lag).
type Provider interface {
	GetDaySchedule(ctx context.Context, providerID string, weekday int) (availability.DaySchedule, error)
}

type grpcProvider struct {
	client catalogv1.CatalogServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: catalogv1.NewCatalogServiceClient(conn)}, nil
}

func (p *grpcProvider) GetDaySchedule(ctx context.Context, providerID string, weekday int) (availability.DaySchedule, error) {
	resp, err := p.client.GetDaySchedule(ctx, &catalogv1.DayScheduleRequest{
		ProviderId: providerID,
		Weekday:    int32(weekday),
	})
	if err != nil {
		return availability.DaySchedule{}, err
	}
	return availability.DaySchedule{
		Weekday:     int(resp.GetWeekday()),
		Active:      resp.GetActive(),
		StartMinute: int(resp.GetStartMinute()),
		EndMinute:   int(resp.GetEndMinute()),
	}, nil
}
