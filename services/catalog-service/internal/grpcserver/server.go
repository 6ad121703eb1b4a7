//go:build protogen

package grpcserver

import (
	"context"

	"github.com/jackc/pgx/v5"
	"google.golang.org/grpc"

	"github.com/agendei/agendei-server/libs/db"
	catalogv1 "github.com/agendei/agendei-server/protos/gen/catalog/v1"
	"github.com/agendei/agendei-server/services/catalog-service/internal/storage"
)

// server answers authoritative schedule lookups for booking-service when its
// local read model cannot (cold start, projection lag).
type server struct {
	catalogv1.UnimplementedCatalogServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	catalogv1.RegisterCatalogServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetDaySchedule(ctx context.Context, req *catalogv1.DayScheduleRequest) (*catalogv1.DayScheduleResponse, error) {
	resp := &catalogv1.DayScheduleResponse{
		ProviderId: req.GetProviderId(),
		Weekday:    req.GetWeekday(),
		Active:     false,
	}
	if req.GetProviderId() == "" || req.GetWeekday() < 0 || req.GetWeekday() > 6 {
		return resp, nil
	}

	d, err := s.repo.GetDaySchedule(ctx, req.GetProviderId(), int(req.GetWeekday()))
	if err != nil {
		if err == pgx.ErrNoRows {
			// No row means the provider never configured this weekday.
			return resp, nil
		}
		return nil, err
	}
	resp.Active = d.Active
	resp.StartMinute = int32(d.StartMinute)
	resp.EndMinute = int32(d.EndMinute)
	return resp, nil
}
