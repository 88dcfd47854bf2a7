package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/config"
	"github.com/agrayLee/SAM-Log-Analysis/internal/database"
	"github.com/agrayLee/SAM-Log-Analysis/internal/ingest"
	"github.com/agrayLee/SAM-Log-Analysis/internal/locate"
	"github.com/agrayLee/SAM-Log-Analysis/internal/parse"
	"github.com/agrayLee/SAM-Log-Analysis/internal/scheduler"
	"github.com/agrayLee/SAM-Log-Analysis/internal/server"
	"github.com/agrayLee/SAM-Log-Analysis/internal/share"
	"github.com/agrayLee/SAM-Log-Analysis/internal/storage"
	"github.com/agrayLee/SAM-Log-Analysis/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Primary.Env == "production" {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database pool")
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	connect, err := share.NewFactory(cfg.Share, log)
	if err != nil {
		log.Fatal().Err(err).Msg("share connector")
	}

	archiver, err := storage.NewArchiver(cfg.Archive)
	if err != nil {
		log.Fatal().Err(err).Msg("archive client")
	}
	if archiver != nil {
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("ensure archive bucket, uploads may fail")
		}
	}

	records := store.New(pool, log)
	runner := &ingest.Runner{
		Connect:     connect,
		Store:       records,
		Locator:     locate.New(log),
		Correlator:  parse.NewCorrelator(log),
		BaseName:    cfg.Share.BaseLogName,
		FixtureFile: cfg.Share.FixtureFile,
		Log:         log,
	}
	if archiver != nil {
		runner.Archive = archiver
	}

	sched, err := scheduler.New(cfg.Scheduler, runner.Run, log)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}
	if !cfg.Scheduler.Disabled {
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(cfg, sched, records, log)
	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
