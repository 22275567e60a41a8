// One-shot tool: fill source tables with Alpaca bar closes so the copy
// pipeline has data to work on.
//
// Usage:
//
//	go run ./cmd/price-seed -symbols AAPL,MSFT -start 2024-01-01 -end 2024-02-01
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dailyprices/internal/config"
	"dailyprices/internal/gather"
	"dailyprices/internal/store"
	"dailyprices/internal/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	cancel()

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("price-seed: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("price-seed", flag.ContinueOnError)
	symbols := fs.String("symbols", "", "comma-separated symbols (required)")
	startDate := fs.String("start", "", "first day, YYYY-MM-DD (required)")
	endDate := fs.String("end", "", "day after the last day, YYYY-MM-DD (default today)")
	cfgPath := fs.String("config", os.Getenv("PRICES_CONFIG"), "path to YAML config; empty uses environment only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbols == "" || *startDate == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", *startDate, err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if *endDate != "" {
		if end, err = time.Parse("2006-01-02", *endDate); err != nil {
			return fmt.Errorf("parsing end date %q: %w", *endDate, err)
		}
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return errors.New("alpaca credentials are required (APCA_API_KEY_ID, APCA_API_SECRET_KEY)")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	g, err := gather.NewBarGatherer(gather.NewAlpacaClient(cfg.Alpaca), s, gather.BarOptions{
		Symbols:   strings.Split(*symbols, ","),
		Dates:     gather.DateRange{Start: start, End: end},
		Tables:    cfg.Tables,
		Alpaca:    cfg.Alpaca,
		BatchSize: cfg.Pipeline.BatchSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create gatherer: %w", err)
	}

	logger.Info("starting seed", "gatherer", g.Name(), "symbols", *symbols, "start", *startDate)
	if err := g.Run(ctx); err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	return nil
}
