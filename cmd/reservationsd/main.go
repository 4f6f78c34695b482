package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/viajaya/reservations/internal/api"
	"github.com/viajaya/reservations/internal/config"
	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/events"
	"github.com/viajaya/reservations/internal/inventory"
	"github.com/viajaya/reservations/internal/metrics"
	"github.com/viajaya/reservations/internal/orders"
	"github.com/viajaya/reservations/internal/payments"
	"github.com/viajaya/reservations/internal/payments/wompi"
	"github.com/viajaya/reservations/internal/reservation"
	"github.com/viajaya/reservations/internal/sweeper"
	"github.com/viajaya/reservations/internal/tracing"
	"github.com/viajaya/reservations/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Reservations service starting")

	// Tracing
	tp, err := tracing.Init(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Error("Tracer shutdown error", zap.Error(err))
			}
		}()
	}

	// Database
	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// RabbitMQ
	log.Info("Connecting to RabbitMQ")
	publisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer publisher.Close()

	// Wompi gateway
	var gateway api.PaymentLinker
	if cfg.WompiPrivateKey != "" {
		gateway = wompi.NewClient(cfg.WompiBaseURL, cfg.WompiPublicKey, cfg.WompiPrivateKey, log)
	} else {
		log.Warn("Wompi keys not configured, payment links disabled")
	}

	// Core wiring
	m := metrics.New(prometheus.DefaultRegisterer)
	ledger := inventory.NewLedger(log)
	engine := reservation.NewEngine(database, ledger, cfg.HoldDuration, log)
	orderSvc := orders.NewService(database, engine, log)
	processor := payments.NewProcessor(database, engine, orderSvc, publisher, m, log)

	handler := api.NewHandler(api.HandlerConfig{
		DB:           database,
		Engine:       engine,
		Ledger:       ledger,
		Orders:       orderSvc,
		Processor:    processor,
		Gateway:      gateway,
		Publisher:    publisher,
		Broker:       publisher,
		Metrics:      m,
		EventsSecret: cfg.WompiEventsKey,
		RedirectURL:  cfg.RedirectURL,
	}, log)
	router := api.NewRouter(handler, cfg.ServiceName)

	// Expiry sweeper
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	swp := sweeper.New(engine, orderSvc, publisher, m, cfg.SweepInterval, cfg.FinalizeInterval, log)
	go swp.Run(sweepCtx)
	log.Info("Sweeper started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("finalize_interval", cfg.FinalizeInterval),
	)

	// HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Server stopped")
}
