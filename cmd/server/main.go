package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/domain/tour"
	"h3-server/services/tour-api/internal/domain/upload"
	"h3-server/services/tour-api/internal/infrastructure/database"
	"h3-server/services/tour-api/internal/infrastructure/logger"
	jobrepo "h3-server/services/tour-api/internal/infrastructure/repository/job"
	sessionrepo "h3-server/services/tour-api/internal/infrastructure/repository/session"
	tourrepo "h3-server/services/tour-api/internal/infrastructure/repository/tour"
	"h3-server/services/tour-api/internal/infrastructure/storage"
	"h3-server/services/tour-api/internal/interfaces/httpserver"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(database.Config{
		DSN:             cfg.DatabaseDSN,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	store, err := storage.NewS3Gateway(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}

	if cfg.WebhookVerifyDisabled {
		log.Warn().Msg("webhook signature verification is DISABLED")
	}

	sessions := sessionrepo.NewRepository(db)
	jobs := jobrepo.NewRepository(db)
	registry := tourrepo.NewRepository(db)

	tourService := tour.NewService(cfg, registry, store, log)
	uploadService := upload.NewService(cfg, sessions, tourService, store, log)
	processingService := processing.NewService(cfg, jobs, sessions, tourService, log)

	sweeper := startSweeps(ctx, cfg, log, uploadService, processingService, tourService)
	defer sweeper.Stop()

	server := httpserver.New(cfg, log, uploadService, processingService, tourService)
	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}

	log.Info().Msg("server exited cleanly")
}

// startSweeps schedules the background maintenance jobs: stuck-job timeout,
// terminal-session retention and expired-archive deletion.
func startSweeps(ctx context.Context, cfg *config.Config, log zerolog.Logger, uploads *upload.Service, jobs *processing.Service, tours *tour.Service) *cron.Cron {
	sweepLog := log.With().Str("component", "sweeper").Logger()
	c := cron.New()

	mustSchedule(c, cfg.SweepSchedule, sweepLog, "fail stuck jobs", func() {
		if err := jobs.FailStuckJobs(ctx); err != nil {
			sweepLog.Error().Err(err).Msg("fail stuck jobs sweep")
		}
	})
	mustSchedule(c, cfg.SweepSchedule, sweepLog, "cleanup sessions", func() {
		if err := uploads.CleanupSessions(ctx); err != nil {
			sweepLog.Error().Err(err).Msg("session cleanup sweep")
		}
	})
	mustSchedule(c, cfg.SweepSchedule, sweepLog, "expire archives", func() {
		if err := tours.SweepExpiredArchives(ctx); err != nil {
			sweepLog.Error().Err(err).Msg("archive retention sweep")
		}
	})

	c.Start()
	return c
}

func mustSchedule(c *cron.Cron, schedule string, log zerolog.Logger, name string, fn func()) {
	if _, err := c.AddFunc(schedule, fn); err != nil {
		log.Fatal().Err(err).Str("sweep", name).Str("schedule", schedule).Msg("invalid sweep schedule")
	}
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
