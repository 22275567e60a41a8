package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"dailyprices/internal/domain"
	"dailyprices/internal/pipeline"
	"dailyprices/internal/store"
)

func sqliteConfig(t *testing.T) (string, string) {
	t.Helper()
	for _, k := range []string{"PRICES_CONFIG", "PRICES_STORE_BACKEND", "SQLITE_PATH", "SOURCE_TABLE_PREFIX", "MULTIPLE_PRICES_TABLE", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "prices.db")
	cfgPath := filepath.Join(dir, "prices.yaml")
	cfg := "store:\n  backend: sqlite\n  sqlite_path: " + dbPath + "\nlogging:\n  level: error\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dbPath
}

func TestRunCopies(t *testing.T) {
	cfgPath, dbPath := sqliteConfig(t)

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.BatchPut(context.Background(), "EURUSD", []domain.PriceRecord{
		{Instrument: "EURUSD", UnixDateTime: 100, Price: decimal.RequireFromString("1.105")},
	}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if err := run(context.Background(), []string{"-config", cfgPath, "-instrument", "EURUSD"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	s, err = store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	page, err := s.Query(context.Background(), "multiple_prices", store.Query{Instrument: "EURUSD"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Price.String() != "1.105" {
		t.Errorf("got %+v, want one record at 1.105", page.Records)
	}
}

func TestRunMissingSourceReturnsError(t *testing.T) {
	cfgPath, _ := sqliteConfig(t)
	err := run(context.Background(), []string{"-config", cfgPath, "-instrument", "EURUSD"})
	if !errors.Is(err, pipeline.ErrRetrieval) {
		t.Fatalf("run err = %v, want ErrRetrieval", err)
	}
}

func TestRunRequiresInstrument(t *testing.T) {
	if err := run(context.Background(), nil); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("run err = %v, want flag.ErrHelp", err)
	}
}
