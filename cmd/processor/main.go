package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/infrastructure/cdn"
	"h3-server/services/tour-api/internal/infrastructure/logger"
	"h3-server/services/tour-api/internal/infrastructure/storage"
	"h3-server/services/tour-api/internal/processor"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg).With().Str("service", "tour-processor").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := storage.NewS3Gateway(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}

	invalidator, err := cdn.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize cdn invalidator")
	}

	if cfg.WebhookURL == "" {
		log.Warn().Msg("no webhook url configured, outcomes will not reach the control plane")
	}

	reporter := processor.NewWebhookReporter(cfg, log)
	proc := processor.New(cfg, gateway, reporter, invalidator, log)
	watcher := processor.NewWatcher(cfg, gateway, proc, log)

	c := cron.New()
	if _, err := c.AddFunc(cfg.WatchSchedule, func() { watcher.Scan(ctx) }); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.WatchSchedule).Msg("invalid watch schedule")
	}
	c.Start()
	log.Info().Str("schedule", cfg.WatchSchedule).Str("inbox", cfg.UploadPrefix).Msg("tour processor watching inbox")

	// First scan immediately so a restart drains any backlog without
	// waiting a full interval.
	watcher.Scan(ctx)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	cronCtx := c.Stop()
	<-cronCtx.Done()
	log.Info().Msg("processor exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
