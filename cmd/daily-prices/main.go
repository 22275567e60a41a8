// One-shot tool: average an instrument's prices per UTC day from a start
// time up to now and write them to the daily-prices table.
//
// Usage:
//
//	go run ./cmd/daily-prices -instrument EURUSD -start 1700000000
//	go run ./cmd/daily-prices -event request.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dailyprices/internal/config"
	"dailyprices/internal/domain"
	"dailyprices/internal/pipeline"
	"dailyprices/internal/store"
	"dailyprices/internal/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	cancel()

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("daily-prices: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("daily-prices", flag.ContinueOnError)
	instrument := fs.String("instrument", "", "instrument to aggregate")
	start := fs.Int64("start", 0, "start of the range, unix seconds")
	eventPath := fs.String("event", "", "JSON request payload file; overrides -instrument and -start")
	cfgPath := fs.String("config", os.Getenv("PRICES_CONFIG"), "path to YAML config; empty uses environment only")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadRequest(*eventPath, *instrument, *start)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
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
	res, err := p.AggregateDaily(ctx, req)
	if err != nil {
		return fmt.Errorf("daily prices failed: %w", err)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(out))
	return err
}

func loadRequest(path, instrument string, start int64) (domain.Request, error) {
	if path == "" {
		if instrument == "" {
			return domain.Request{}, errors.New("-instrument or -event is required")
		}
		return domain.Request{Instrument: instrument, StartTime: start}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Request{}, err
	}
	var req domain.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.Request{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return req, nil
}
