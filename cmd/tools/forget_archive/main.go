// forget_archive removes one archive from the processed-file ledger so the
// next pipeline run ingests it again from scratch.
//
// Usage:
//
//	go run ./cmd/tools/forget_archive -config config.yaml -name COTAHIST_D08012024.ZIP
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"fiiscan/internal/config"
	"fiiscan/internal/logger"
	"fiiscan/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		name       = flag.String("name", "", "archive name to forget")
	)
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: forget_archive -name COTAHIST_D08012024.ZIP")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stderr, cfg.LogLevel)

	st, err := store.Open(cfg.DBPath, store.Options{
		TimeoutSeconds: cfg.DBTimeout,
		LoteSmall:      cfg.DBLoteSizeSmall,
		LoteMedium:     cfg.DBLoteSizeMedium,
		LoteLarge:      cfg.DBLoteSizeLarge,
		LoteMaxBytes:   cfg.DBLoteMaxBytes,
	}, nil, logger.Channel(log, "db"))
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open store")
	}
	defer st.Close()

	removed, err := st.Forget(context.Background(), *name)
	if err != nil {
		log.Fatal().Err(err).Msg("forget failed")
	}
	if !removed {
		log.Warn().Str("archive", *name).Msg("archive was not in the ledger")
		os.Exit(1)
	}
	log.Info().Str("archive", *name).Msg("forgotten; next run will reingest it")
}
