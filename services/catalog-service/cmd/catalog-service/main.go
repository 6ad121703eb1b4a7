package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agendei/agendei-server/libs/config"
	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/libs/httpx"
	"github.com/agendei/agendei-server/libs/kafkax"
	otelx "github.com/agendei/agendei-server/libs/otel"
	"github.com/agendei/agendei-server/libs/outbox"
	"github.com/agendei/agendei-server/libs/runtime"
	"github.com/agendei/agendei-server/services/catalog-service/internal/handlers"
	"github.com/agendei/agendei-server/services/catalog-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "catalog-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	h := handlers.New(repo, outboxRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("GET /categories", h.ListCategories)
	mux.HandleFunc("POST /categories", h.CreateCategory)
	mux.HandleFunc("GET /services", h.ListServices)
	mux.HandleFunc("GET /services/{id}", h.GetService)
	mux.HandleFunc("GET /provider/services", h.ListProviderServices)
	mux.HandleFunc("POST /provider/services", h.CreateService)
	mux.HandleFunc("PUT /provider/services/{id}", h.UpdateService)
	mux.HandleFunc("DELETE /provider/services/{id}", h.DeactivateService)
	mux.HandleFunc("GET /provider/profile", h.GetProfile)
	mux.HandleFunc("PUT /provider/profile", h.UpdateProfile)
	mux.HandleFunc("GET /provider/availability", h.ListAvailability)
	mux.HandleFunc("PUT /provider/availability/{weekday}", h.UpsertAvailability)
	mux.HandleFunc("GET /favorites", h.ListFavorites)
	mux.HandleFunc("POST /favorites/{serviceId}", h.AddFavorite)
	mux.HandleFunc("DELETE /favorites/{serviceId}", h.RemoveFavorite)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "catalog")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	if err := startGrpcServer(ctx, logger, pool, repo); err != nil {
		logger.Error("grpc server start failed", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
