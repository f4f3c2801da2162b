// import_events loads corporate actions from a JSON file into the store and
// optionally validates a funds mapping file.
//
// Usage:
//
//	go run ./cmd/tools/import_events -config config.yaml -events eventos.json [-funds fundos.json]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"fiiscan/internal/adjust"
	"fiiscan/internal/config"
	"fiiscan/internal/logger"
	"fiiscan/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		eventsPath = flag.String("events", "", "JSON file with corporate actions")
		fundsPath  = flag.String("funds", "", "optional funds mapping file to validate")
	)
	flag.Parse()

	if *eventsPath == "" && *fundsPath == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -events and/or -funds")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stderr, cfg.LogLevel)

	if *fundsPath != "" {
		specs, err := adjust.LoadFunds(*fundsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("funds file invalid")
		}
		log.Info().Int("series", len(specs)).Str("file", *fundsPath).Msg("funds file ok")
	}

	if *eventsPath == "" {
		return
	}

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

	rep, err := st.ImportEvents(context.Background(), *eventsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}

	fmt.Printf("imported:   %d\n", rep.Imported)
	fmt.Printf("duplicates: %d\n", rep.Duplicates)
	for _, c := range rep.Conflicts {
		fmt.Printf("conflict:   %s\n", c)
	}
	for _, inv := range rep.Invalid {
		fmt.Printf("invalid:    %s\n", inv)
	}
	if len(rep.Conflicts) > 0 || len(rep.Invalid) > 0 {
		os.Exit(1)
	}
}
