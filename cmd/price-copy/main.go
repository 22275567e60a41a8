// One-shot tool: copy every price of an instrument from its source table
// into the multiple-prices table.
//
// Usage:
//
//	go run ./cmd/price-copy -instrument EURUSD
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dailyprices/internal/config"
	"dailyprices/internal/pipeline"
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
		log.Fatalf("price-copy: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("price-copy", flag.ContinueOnError)
	instrument := fs.String("instrument", "", "instrument to copy (required)")
	cfgPath := fs.String("config", os.Getenv("PRICES_CONFIG"), "path to YAML config; empty uses environment only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instrument == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	p := pipeline.New(s, pipeline.OptionsFromConfig(cfg), logger)
	res, err := p.Copy(ctx, *instrument)
	if err != nil {
		return fmt.Errorf("copy failed: %w", err)
	}
	logger.Info("copy complete", "copied", res.Copied, "read", res.Read)
	return nil
}
