package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/config"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/ingest"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/inspection"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/mailer"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/store"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/telemetry"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/tracking"
	yardhttp "github.com/r3tr0m0/Truck-Inspection-System/internal/transport/http"
	yardkafka "github.com/r3tr0m0/Truck-Inspection-System/internal/transport/kafka"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/worker"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/yards"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	var cache *store.Redis
	if cfg.RedisAddr != "" {
		cache, err = store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Error("redis connection failed, continuing without cache", "error", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	skyhawk := telemetry.NewSkyhawkClient(cfg.SkyhawkBaseURL, cfg.SkyhawkCompany, cfg.SkyhawkUsername, cfg.SkyhawkPassword)
	inspections := inspection.NewClient(cfg.InspectionAPIURL)
	directory := yards.NewClient(cfg.YardAPIURL, cfg.SupervisorAPIURL)
	ledger := tracking.NewLedger(pg.Pool())

	notifier := mailer.New(mailer.Config{
		SMTPHost:      cfg.SMTPHost,
		SMTPPort:      cfg.SMTPPort,
		SMTPUser:      cfg.SMTPUser,
		SMTPPassword:  cfg.SMTPPassword,
		SenderName:    cfg.SenderName,
		FallbackEmail: cfg.FallbackEmail,
		DevRecipients: cfg.DevRecipients,
	}, pg, pg)

	hub := yardhttp.NewHub()

	checker := worker.New(pg, notifier, skyhawk, cache, hub)
	go checker.Run(ctx)

	ingestor := ingest.New(pg, ledger, directory, inspections, skyhawk, checker)

	var consumer *yardkafka.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = yardkafka.NewConsumer(
			cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup,
			cfg.KafkaBatchSize, cfg.KafkaBatchTimeout,
			ingestor,
		)
		go consumer.Run(ctx)
	}

	handler := yardhttp.NewHandler(ingestor, checker, pg, hub)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler.Mux(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the feed endpoint holds WebSocket
		// connections open indefinitely.
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		slog.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		srv.Shutdown(shutdownCtx)
		hub.CloseAll()
		if consumer != nil {
			consumer.Close()
		}
		close(done)
	}()

	slog.Info("yardwatch listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("shutdown complete")
}
