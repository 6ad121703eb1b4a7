package main

import (
	"context"
	"net/http"
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
	"github.com/agendei/agendei-server/libs/runtime"
	"github.com/agendei/agendei-server/services/analytics-service/internal/handlers"
	"github.com/agendei/agendei-server/services/analytics-service/internal/metrics"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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

	inboxRepo := inbox.NewRepository(pool)
	repo := metrics.NewRepository(pool)
	projector := metrics.NewProjector(repo, logger)
	handler := handlers.New(repo, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")
	startConsumer := func(topic string, h consumer.Handler) {
		if strings.TrimSpace(topic) == "" || strings.TrimSpace(brokers) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, h)
		go c.Run(ctx)
	}
	startConsumer("booking.created.v1", projector.HandleBookingCreated)
	startConsumer("booking.status.changed.v1", projector.HandleStatusChanged)
	startConsumer("notification.sent.v1", projector.HandleNotificationSent)
	startConsumer("notification.failed.v1", projector.HandleNotificationFailed)
	startConsumer("scheduler.reminder.dlq.v1", projector.HandleReminderDLQ)
	startConsumer("auth.audit.v1", projector.HandleAuthAudit)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("GET /provider/metrics/daily", handler.ListDailyMetrics)

	chained := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	chained = otelhttp.NewHandler(chained, "analytics")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           chained,
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
