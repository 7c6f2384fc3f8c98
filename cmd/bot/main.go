// Package main is the entry point for the trade notification bot.
// It polls the Schwab API for filled orders, maintains a cost basis
// ledger in SQLite, and posts trade notifications to Discord.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tradenotify/internal/clients/discord"
	"tradenotify/internal/clients/schwab"
	"tradenotify/internal/config"
	"tradenotify/internal/database"
	"tradenotify/internal/export"
	"tradenotify/internal/ledger"
	"tradenotify/internal/metrics"
	"tradenotify/internal/poller"
	"tradenotify/internal/reliability"
	"tradenotify/internal/retry"
	"tradenotify/internal/scheduler"
	"tradenotify/internal/server"
	"tradenotify/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("app", cfg.AppName).Msg("Starting trade notification bot")

	// Ledger database
	db, err := database.New(database.Config{Path: cfg.DBPath, Name: "ledger"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate ledger database")
	}

	// Repositories and matching engine
	fills := ledger.NewFillRepository(db.Conn(), log)
	lots := ledger.NewLotRepository(db.Conn(), log)
	postings := ledger.NewPostingRepository(db.Conn(), log)
	matcher := ledger.NewMatcher(lots, cfg.MatchOrdering, cfg.MatchScope, log)

	// Clients
	schwabClient := schwab.NewClient(cfg.SchwabBaseURL, cfg.SchwabAccessToken, cfg.SchwabTimeout, log)
	notifier := discord.NewNotifier([]*discord.Channel{
		discord.NewChannel("primary", cfg.DiscordWebhook, cfg.DiscordTimeout, log),
		discord.NewChannel("secondary", cfg.DiscordWebhook2, cfg.DiscordTimeout, log),
	}, cfg.DiscordRoleID, log)

	retryer := retry.New(retry.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
	}, log)

	m := metrics.New()

	p := poller.New(cfg, db.Conn(), fills, lots, postings, matcher, schwabClient, notifier, retryer, m, log)

	// Background jobs
	sched := scheduler.New(log)

	backups := newBackupService(cfg, db, log)
	maintenance := reliability.NewMaintenanceJob(db, backups, cfg.BackupDir, cfg.Backup.RetentionDays, log)
	if err := sched.AddJob(cfg.MaintenanceSchedule, maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance job")
	}

	if cfg.ExportEnabled {
		exporter := export.NewExporter(fills, lots, cfg.ExportPath, log)
		if err := sched.AddJob(cfg.ExportSchedule, export.NewJob(exporter, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule export job")
		}
	}

	sched.Start()

	// Ops HTTP server
	srv := server.New(server.Config{
		Log:     log,
		DB:      db,
		Fills:   fills,
		Lots:    lots,
		Metrics: m,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Poll loop runs until a signal arrives or too many consecutive
	// cycles fail.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pollErr := make(chan error, 1)
	go func() {
		pollErr <- p.Run(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-pollErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Poller stopped")
			exitCode = 1
		}
	}
	stop()

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
	os.Exit(exitCode)
}

// newBackupService wires the optional object store behind the backup
// service. Cloud upload stays disabled unless fully configured.
func newBackupService(cfg *config.Config, db *database.DB, log zerolog.Logger) *reliability.BackupService {
	var store *reliability.ObjectClient
	if cfg.Backup.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := reliability.NewObjectClient(ctx, reliability.ObjectStoreConfig{
			Endpoint:  cfg.Backup.Endpoint,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to init object store, cloud backups disabled")
		} else {
			store = client
		}
	}
	return reliability.NewBackupService(db, store, cfg.DataDir, log)
}
