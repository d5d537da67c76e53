package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/consumers"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/events"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/handler"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/service"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("pharmstock")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("pharmstock", cfg.Server.Environment)
	log.Info().Msg("starting batch lifecycle service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue("pharmstock"); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	rawPublisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "pharmstock", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	publisher := events.NewPublisher(rawPublisher, log)

	// Repositories
	productRepo := repository.NewProductRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	quarantineRepo := repository.NewQuarantineRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)

	// Services
	quarantineService := service.NewQuarantineService(db, productRepo, batchRepo, quarantineRepo, publisher, log, cfg.Alerts.ExpiryImminentDays)
	batchService := service.NewBatchService(db, productRepo, batchRepo, quarantineService, publisher, log)
	analyticsService := service.NewAnalyticsService(productRepo, batchRepo, snapshotRepo, publisher, log)
	summaryService := service.NewSummaryService(productRepo, batchRepo, quarantineRepo, snapshotRepo, log)

	// Handlers
	batchHandler := handler.NewBatchHandler(batchService, log)
	quarantineHandler := handler.NewQuarantineHandler(quarantineService, log)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService, summaryService, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Goods-receipt consumer
	receiptConsumer, err := consumers.NewReceiptConsumer(rmq, batchService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create receipt consumer")
	}
	if err := receiptConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start receipt consumer")
	}

	// Daily jobs
	scheduler := service.NewScheduler(quarantineService, analyticsService, &cfg.Scheduler, log)
	if cfg.Scheduler.Enabled {
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Actor)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "pharmstock",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	r.Route("/api/v1/inventory", func(r chi.Router) {
		batchHandler.Routes(r)
		quarantineHandler.Routes(r)
		analyticsHandler.Routes(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
