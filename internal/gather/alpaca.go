package gather

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"dailyprices/internal/config"
	"dailyprices/internal/domain"
	"dailyprices/internal/pipeline"
	"dailyprices/internal/store"
	"dailyprices/internal/util"
)

// ---------------------------------------------------------------------------
// BarGatherer: seeds source tables from Alpaca historical bars.
// ---------------------------------------------------------------------------

// BarSource fetches historical bars for several symbols in one call.
// *marketdata.Client satisfies it.
type BarSource interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

var _ BarSource = (*marketdata.Client)(nil)

// BarGatherer writes the close of every bar for a set of symbols into the
// source table of each symbol.
type BarGatherer struct {
	source    BarSource
	store     store.Store
	tables    config.Tables
	symbols   []string
	dates     DateRange
	timeframe marketdata.TimeFrame
	feed      string
	perCall   int
	batchSize int
	limiter   *util.RateLimiter
	log       *slog.Logger
}

var _ Gatherer = (*BarGatherer)(nil)

// BarOptions configures a BarGatherer.
type BarOptions struct {
	Symbols   []string
	Dates     DateRange
	Tables    config.Tables
	Alpaca    config.Alpaca
	BatchSize int
}

// NewAlpacaClient builds a market-data client from cfg.
func NewAlpacaClient(cfg config.Alpaca) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return marketdata.NewClient(opts)
}

// NewBarGatherer creates a BarGatherer reading from src and writing to s.
func NewBarGatherer(src BarSource, s store.Store, opts BarOptions, logger *slog.Logger) (*BarGatherer, error) {
	if len(opts.Symbols) == 0 {
		return nil, errors.New("no symbols to gather")
	}
	if !opts.Dates.Valid() {
		return nil, fmt.Errorf("invalid date range %s - %s", opts.Dates.Start, opts.Dates.End)
	}
	tf, err := ParseTimeFrame(opts.Alpaca.Timeframe)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	symbols := make([]string, 0, len(opts.Symbols))
	for _, sym := range opts.Symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	slices.Sort(symbols)
	symbols = slices.Compact(symbols)

	perCall := opts.Alpaca.SymbolsPerCall
	if perCall < 1 {
		perCall = 1
	}

	return &BarGatherer{
		source:    src,
		store:     s,
		tables:    opts.Tables,
		symbols:   symbols,
		dates:     opts.Dates,
		timeframe: tf,
		feed:      opts.Alpaca.Feed,
		perCall:   perCall,
		batchSize: opts.BatchSize,
		limiter:   util.NewRateLimiter(opts.Alpaca.RateLimitPerMin),
		log:       logger.With("gatherer", "alpaca-bars"),
	}, nil
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string { return "alpaca-bars" }

// Run fetches bars for all symbols, perCall symbols per request, and writes
// each symbol's closes to its source table. Symbols without bars are
// skipped. Any fetch or write error stops the run.
func (g *BarGatherer) Run(ctx context.Context) error {
	runStart := time.Now()
	var total, empty int

	for chunk := range slices.Chunk(g.symbols, g.perCall) {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		multiBars, err := g.source.GetMultiBars(chunk, marketdata.GetBarsRequest{
			TimeFrame: g.timeframe,
			Start:     g.dates.Start,
			End:       g.dates.End,
			Feed:      g.feed,
		})
		if err != nil {
			return fmt.Errorf("GetMultiBars: %w", err)
		}

		for _, sym := range chunk {
			bars := multiBars[sym]
			if len(bars) == 0 {
				empty++
				g.log.Debug("no bars", "symbol", sym)
				continue
			}
			records := BarsToRecords(sym, bars)
			table := g.tables.SourceTable(sym)

			res, err := pipeline.WriteBatches(ctx, g.store, table, records, g.batchSize, g.log)
			if err != nil {
				return fmt.Errorf("writing %s: %w", sym, err)
			}
			total += res.Written
			g.log.Info("symbol seeded", "symbol", sym, "table", table, "records", res.Written)
		}
	}

	g.log.Info("gather complete",
		"symbols", len(g.symbols),
		"empty", empty,
		"records", total,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return nil
}

// BarsToRecords converts bars into price records keyed by the bar open time.
// Later bars with the same second replace earlier ones.
func BarsToRecords(symbol string, bars []marketdata.Bar) []domain.PriceRecord {
	byTime := make(map[int64]int, len(bars))
	records := make([]domain.PriceRecord, 0, len(bars))
	for _, b := range bars {
		r := domain.PriceRecord{
			Instrument:   symbol,
			UnixDateTime: b.Timestamp.Unix(),
			Price:        decimal.NewFromFloat(b.Close),
		}
		if i, ok := byTime[r.UnixDateTime]; ok {
			records[i] = r
			continue
		}
		byTime[r.UnixDateTime] = len(records)
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b domain.PriceRecord) int {
		return cmp.Compare(a.UnixDateTime, b.UnixDateTime)
	})
	return records
}

// ParseTimeFrame maps "1Min", "1Hour" and "1Day" (case-insensitive) to
// Alpaca timeframes.
func ParseTimeFrame(s string) (marketdata.TimeFrame, error) {
	switch strings.ToLower(s) {
	case "", "1min", "minute":
		return marketdata.OneMin, nil
	case "1hour", "hour":
		return marketdata.OneHour, nil
	case "1day", "day":
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", s)
	}
}
