// Lambda entry point. PRICES_HANDLER selects the function:
//
//	copy   direct invocation with {"instrument": "..."}
//	daily  API Gateway POST with {"instrument": "...", "start_time": ...}
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"dailyprices/internal/config"
	"dailyprices/internal/handler"
	"dailyprices/internal/pipeline"
	"dailyprices/internal/store"
	"dailyprices/internal/util"
)

func main() {
	cfg, err := config.Load(os.Getenv("PRICES_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// The store outlives invocations; Lambda freezes the process between them.
	s, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	h := handler.New(pipeline.New(s, pipeline.OptionsFromConfig(cfg), logger), logger)

	switch name := os.Getenv("PRICES_HANDLER"); name {
	case "copy":
		lambda.Start(h.Copy)
	case "daily", "":
		lambda.Start(h.DailyPrices)
	default:
		log.Fatalf("unknown PRICES_HANDLER %q (want copy or daily)", name)
	}
}
