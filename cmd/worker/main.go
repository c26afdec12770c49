// The worker binary drains the notification queue on a cron schedule,
// for deployments where the API serves requests and a separate process
// owns delivery.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/kavanga/importdesk/internal/app"
	"github.com/kavanga/importdesk/internal/config"
	"github.com/kavanga/importdesk/internal/pkg/postgres"
	"github.com/kavanga/importdesk/internal/queue"
	queuepostgres "github.com/kavanga/importdesk/internal/queue/postgres"
	"github.com/kavanga/importdesk/internal/version"
	"github.com/kavanga/importdesk/internal/whatsapp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := app.InitLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("starting importdesk worker",
		"version", version.Version,
		"schedule", cfg.Notifications.CronSchedule,
	)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	connectCancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sender, err := whatsapp.NewSender(whatsapp.Config{
		Token:       cfg.WhatsApp.Token,
		BaseURL:     cfg.WhatsApp.BaseURL,
		CountryCode: cfg.WhatsApp.CountryCode,
		Timeout:     cfg.WhatsApp.Timeout,
		RateLimit:   cfg.WhatsApp.RateLimit,
	})
	if err != nil {
		slog.Error("failed to create whatsapp sender", "error", err)
		os.Exit(1)
	}

	service := queue.NewService(queuepostgres.NewRepository(db))
	worker := queue.NewWorker(queue.WorkerConfig{
		BatchSize:    cfg.Notifications.Worker.BatchSize,
		PollInterval: cfg.Notifications.Worker.PollInterval,
		SendTimeout:  cfg.Notifications.Worker.SendTimeout,
		NumWorkers:   cfg.Notifications.Worker.NumWorkers,
	}, service, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Notifications.CronSchedule, func() {
		result := worker.ProcessBatch(ctx)
		if result.Processed > 0 || len(result.Errors) > 0 {
			slog.Info("processed notification batch",
				"processed", result.Processed,
				"succeeded", result.Succeeded,
				"failed", result.Failed,
				"errors", len(result.Errors),
			)
		}
	})
	if err != nil {
		slog.Error("invalid cron schedule", "schedule", cfg.Notifications.CronSchedule, "error", err)
		os.Exit(1)
	}

	scheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("received shutdown signal", "signal", sig.String())

	// Let an in-flight batch finish before closing the pool.
	<-scheduler.Stop().Done()
	cancel()

	slog.Info("worker stopped")
}
