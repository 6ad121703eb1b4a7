package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agendei/agendei-server/libs/config"
	"github.com/agendei/agendei-server/libs/consumer"
	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/libs/httpx"
	"github.com/agendei/agendei-server/libs/inbox"
	"github.com/agendei/agendei-server/libs/kafkax"
	otelx "github.com/agendei/agendei-server/libs/otel"
	"github.com/agendei/agendei-server/libs/outbox"
	"github.com/agendei/agendei-server/libs/runtime"
	"github.com/agendei/agendei-server/services/booking-service/internal/handlers"
	"github.com/agendei/agendei-server/services/booking-service/internal/policy"
	"github.com/agendei/agendei-server/services/booking-service/internal/projector"
	"github.com/agendei/agendei-server/services/booking-service/internal/scheduling"
	"github.com/agendei/agendei-server/services/booking-service/internal/storage"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour, time.Hour}
	}
	return offsets
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	repo := storage.NewBookingRepository(pool)
	catalogRepo := storage.NewCatalogRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	defaults := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger)
	policyProvider := policy.NewCatalogProvider(catalogRepo, defaults)

	schedulingProvider, err := scheduling.NewProvider(config.String("CATALOG_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("scheduling provider init failed; using read model only", "err", err)
		schedulingProvider = nil
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	proj := projector.New(pool, catalogRepo, logger)
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "booking-service")
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" || strings.TrimSpace(brokers) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}
	startConsumer("catalog.service.upserted.v1", proj.HandleServiceUpserted)
	startConsumer("catalog.availability.upserted.v1", proj.HandleScheduleUpserted)
	startConsumer("catalog.provider.upserted.v1", proj.HandleProviderUpserted)

	bookingHandler := handlers.NewBookingHandler(repo, catalogRepo, outboxRepo, logger, policyProvider, schedulingProvider, nil)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("GET /services/{id}/slots", bookingHandler.Slots)
	mux.HandleFunc("POST /bookings", bookingHandler.Create)
	mux.HandleFunc("GET /bookings", bookingHandler.List)
	mux.HandleFunc("PATCH /bookings/{id}/cancel", bookingHandler.Cancel)
	mux.HandleFunc("PATCH /bookings/{id}/confirm", bookingHandler.Confirm)
	mux.HandleFunc("PATCH /bookings/{id}/complete", bookingHandler.Complete)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
