//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/services/catalog-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *storage.Repository) error {
	return nil
}
