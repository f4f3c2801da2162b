// fiiscan keeps a local database of B3 real-estate fund quotes current: it
// works out which COTAHIST archives are missing, downloads them politely,
// ingests them idempotently and optionally serves the result over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fiiscan/internal/adjust"
	"fiiscan/internal/api"
	"fiiscan/internal/cache"
	"fiiscan/internal/calendar"
	"fiiscan/internal/config"
	"fiiscan/internal/downloader"
	"fiiscan/internal/ingester"
	"fiiscan/internal/logger"
	"fiiscan/internal/store"
)

func main() {
	var (
		configPath   = flag.String("config", "config.yaml", "path to config file")
		skipDownload = flag.Bool("skip-download", false, "ingest the staging dir without fetching anything")
		serveOnly    = flag.Bool("serve", false, "skip the pipeline and only serve the API")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	root := logger.New(os.Stderr, cfg.LogLevel)
	log := logger.Channel(root, "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cache.New(cache.Policy{
		TTL:        time.Duration(cfg.CacheDefaultTTL) * time.Second,
		MaxEntries: cfg.CacheMaxSize,
	}, logger.Channel(root, "cache"))

	st, err := store.Open(cfg.DBPath, store.Options{
		TimeoutSeconds: cfg.DBTimeout,
		LoteSmall:      cfg.DBLoteSizeSmall,
		LoteMedium:     cfg.DBLoteSizeMedium,
		LoteLarge:      cfg.DBLoteSizeLarge,
		LoteMaxBytes:   cfg.DBLoteMaxBytes,
	}, c, logger.Channel(root, "db"))
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open store")
	}
	defer st.Close()

	engine := adjust.New(st, st, logger.Channel(root, "ingest"))

	apiDone := make(chan error, 1)
	if cfg.APIAddr != "" {
		srv := api.NewServer(st, engine, c, api.RateLimit{
			RPS:     cfg.APIRateRPS,
			Burst:   cfg.APIRateBurst,
			IdleTTL: time.Duration(cfg.APIRateTTLMin) * time.Minute,
		}, logger.Channel(root, "api"))
		go func() { apiDone <- srv.Start(ctx, cfg.APIAddr) }()
	} else if *serveOnly {
		log.Fatal().Msg("-serve requires api_addr to be configured")
	}

	if *serveOnly {
		if err := <-apiDone; err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
		return
	}

	if !*skipDownload {
		fetchMissing(ctx, cfg, st, root)
	}

	svc := ingester.New(st, ingester.Config{
		ExtractRetries:    cfg.ExtractRetries,
		ExtractRetryDelay: time.Duration(cfg.ExtractRetryDelay * float64(time.Second)),
	}, logger.Channel(root, "ingest"))

	sum, err := svc.Run(ctx, cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("ingest run aborted")
	}
	log.Info().
		Int("attempted", sum.Attempted).
		Int("succeeded", sum.Succeeded).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Int64("rows", sum.RowsInserted).
		Msg("run summary")

	if cfg.APIAddr != "" {
		log.Info().Msg("pipeline done, serving until interrupted")
		if err := <-apiDone; err != nil {
			log.Error().Err(err).Msg("api server failed")
		}
	}

	// The run only counts as failed when every attempted archive failed.
	if sum.Attempted > 0 && sum.Succeeded == 0 && sum.Skipped == 0 {
		os.Exit(1)
	}
}

// fetchMissing downloads the daily archives for trading days the store has
// not seen yet. Download failures are logged and left for the next run; the
// ingest still processes whatever is staged.
func fetchMissing(ctx context.Context, cfg *config.Config, st *store.Store, root zerolog.Logger) {
	log := logger.Channel(root, "download")

	dl, err := downloader.New(downloader.Config{
		BaseURL:         cfg.BaseURL,
		UserAgent:       cfg.UserAgent,
		MaxRetries:      cfg.MaxRetries,
		BackoffFactor:   cfg.BackoffFactor,
		WaitMin:         cfg.WaitBetweenDownloads[0],
		WaitMax:         cfg.WaitBetweenDownloads[1],
		CertDir:         cfg.CertDir,
		RotationDays:    cfg.CertRotationDays,
		PinStrict:       cfg.PinStrict,
		MinArchiveBytes: cfg.MinArchiveBytes,
	}, logger.Channel(root, "security"))
	if err != nil {
		log.Error().Err(err).Msg("downloader unavailable, ingesting staged archives only")
		return
	}

	// The ledger, not the quote table, decides where to resume: a processed
	// day with no fund rows must not be fetched again.
	latest, err := st.LatestCoveredDate(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot determine latest processed archive")
		return
	}

	days, err := downloader.MissingDays(latest, time.Now(), calendar.Weekday{})
	if err != nil {
		log.Error().Err(err).Msg("cannot compute missing days")
		return
	}
	if len(days) == 0 {
		log.Info().Msg("store is up to date")
		return
	}
	log.Info().Int("days", len(days)).Msg("fetching missing archives")

	for _, day := range days {
		name := downloader.DailyArchiveName(day)
		if _, err := dl.Fetch(ctx, name, cfg.DataDir); err != nil {
			switch {
			case errors.Is(err, downloader.ErrNotYetPublished):
				log.Info().Str("archive", name).Msg("not published yet")
			case errors.Is(err, context.Canceled):
				return
			default:
				log.Error().Err(err).Str("archive", name).Msg("download failed")
			}
		}
	}
}
