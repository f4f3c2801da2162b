// export_series writes the raw or adjusted series of one fund as CSV.
//
// Usage:
//
//	go run ./cmd/tools/export_series -config config.yaml -funds OLD11,NEW11 [-raw] [-o out.csv]
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fiiscan/internal/adjust"
	"fiiscan/internal/config"
	"fiiscan/internal/logger"
	"fiiscan/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		funds      = flag.String("funds", "", "rename chain, comma separated, terminal ticker last")
		raw        = flag.Bool("raw", false, "export unadjusted prices")
		out        = flag.String("o", "", "output file (default stdout)")
	)
	flag.Parse()

	if *funds == "" {
		fmt.Fprintln(os.Stderr, "usage: export_series -funds OLD11,NEW11 [-raw] [-o out.csv]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stderr, cfg.LogLevel)

	var spec adjust.SeriesSpec
	for _, t := range strings.Split(*funds, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			log.Fatal().Str("funds", *funds).Msg("empty ticker in chain")
		}
		spec = append(spec, t)
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

	engine := adjust.New(st, st, log)
	ctx := context.Background()

	var rows []adjust.Row
	if *raw {
		rows, err = engine.Merged(ctx, spec)
	} else {
		rows, err = engine.AdjustedSeries(ctx, spec)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build series")
	}
	if len(rows) == 0 {
		log.Fatal().Str("funds", *funds).Msg("no quotes for series")
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot create output file")
		}
		defer f.Close()
		w = f
	}

	if err := writeCSV(w, rows); err != nil {
		log.Fatal().Err(err).Msg("write failed")
	}
	log.Info().Int("rows", len(rows)).Str("ticker", spec.Terminal()).Msg("exported")
}

func writeCSV(w io.Writer, rows []adjust.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "ticker", "open", "high", "low", "close", "volume", "trade_count", "quantity"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		rec := []string{
			r.Date, r.Ticker, f(r.Open), f(r.High), f(r.Low), f(r.Close),
			f(r.Volume), strconv.FormatInt(r.TradeCount, 10), f(r.Quantity),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
