// Package pipeline implements the two table-to-table runs: copying an
// instrument's raw prices into the shared multiple-prices table, and
// resampling a time range of those prices into daily means.
//
// Both runs share the paginated read in reader.go and the chunked write in
// writer.go. A run is synchronous and handles one request to completion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dailyprices/internal/config"
	"dailyprices/internal/domain"
	"dailyprices/internal/store"
)

// ErrInvalidRequest is returned for requests that cannot describe a run.
var ErrInvalidRequest = errors.New("invalid request")

// Options configures a Pipeline.
type Options struct {
	Tables    config.Tables
	PageSize  int
	BatchSize int

	// Now returns the invocation time. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig returns the Options described by cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Tables:    cfg.Tables,
		PageSize:  cfg.Store.PageSize,
		BatchSize: cfg.Pipeline.BatchSize,
	}
}

// Pipeline runs copy and aggregation requests against one store.
type Pipeline struct {
	store store.Store
	opts  Options
	log   *slog.Logger
}

// New creates a Pipeline. All dependencies are passed in so tests can
// substitute them.
func New(s store.Store, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = store.MaxBatchSize
	}
	return &Pipeline{store: s, opts: opts, log: logger}
}

// CopyResult reports a finished copy.
type CopyResult struct {
	RunID       string `json:"run_id"`
	Instrument  string `json:"instrument"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Read        int    `json:"read"`
	Copied      int    `json:"copied"`
	Batches     int    `json:"batches"`
}

// Copy reads every record of instrument from its source table and writes
// them unchanged to the multiple-prices table. Re-running it overwrites the
// same keys with the same values.
func (p *Pipeline) Copy(ctx context.Context, instrument string) (CopyResult, error) {
	if instrument == "" {
		return CopyResult{}, fmt.Errorf("%w: instrument is required", ErrInvalidRequest)
	}

	src := p.opts.Tables.SourceTable(instrument)
	dst := p.opts.Tables.MultiplePrices
	res := CopyResult{
		RunID:       uuid.NewString(),
		Instrument:  instrument,
		Source:      src,
		Destination: dst,
	}
	log := p.log.With("run_id", res.RunID, "op", "copy", "instrument", instrument)

	records, err := ReadAll(ctx, p.store, src, store.Query{
		Instrument: instrument,
		Limit:      p.opts.PageSize,
	}, log)
	if err != nil {
		return res, err
	}
	res.Read = len(records)

	wr, err := WriteBatches(ctx, p.store, dst, records, p.opts.BatchSize, log)
	res.Copied, res.Batches = wr.Written, wr.Batches
	if err != nil {
		return res, err
	}

	log.Info(fmt.Sprintf("%d items are copied from %s to %s", res.Copied, src, dst),
		"read", res.Read,
		"copied", res.Copied,
		"batches", res.Batches,
	)
	return res, nil
}

// DailyResult reports a finished aggregation.
type DailyResult struct {
	RunID       string `json:"run_id"`
	Instrument  string `json:"instrument"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	Read        int    `json:"read"`
	Days        int    `json:"days"`
	Written     int    `json:"written"`
	Destination string `json:"destination"`
}

// AggregateDaily reads req.Instrument's prices from req.StartTime up to now,
// averages them per UTC day and writes one record per day to the daily
// prices table.
func (p *Pipeline) AggregateDaily(ctx context.Context, req domain.Request) (DailyResult, error) {
	end := p.opts.Now().Unix()
	if req.Instrument == "" {
		return DailyResult{}, fmt.Errorf("%w: instrument is required", ErrInvalidRequest)
	}
	if req.StartTime > end {
		return DailyResult{}, fmt.Errorf("%w: start_time %d is after now (%d)", ErrInvalidRequest, req.StartTime, end)
	}

	src := p.opts.Tables.MultiplePrices
	dst := p.opts.Tables.DailyPrices
	res := DailyResult{
		RunID:       uuid.NewString(),
		Instrument:  req.Instrument,
		StartTime:   req.StartTime,
		EndTime:     end,
		Destination: dst,
	}
	log := p.log.With("run_id", res.RunID, "op", "daily_prices", "instrument", req.Instrument)

	records, err := ReadAll(ctx, p.store, src, store.Query{
		Instrument: req.Instrument,
		Range:      &store.Range{From: req.StartTime, To: end},
		Limit:      p.opts.PageSize,
	}, log)
	if err != nil {
		return res, err
	}
	res.Read = len(records)

	daily := DailyMeans(req.Instrument, records)
	res.Days = len(daily)

	out := make([]domain.PriceRecord, len(daily))
	for i, d := range daily {
		out[i] = d.Record()
	}

	wr, err := WriteBatches(ctx, p.store, dst, out, p.opts.BatchSize, log)
	res.Written = wr.Written
	if err != nil {
		return res, err
	}

	log.Info("daily prices written",
		"start_time", res.StartTime,
		"end_time", res.EndTime,
		"read", res.Read,
		"days", res.Days,
		"written", res.Written,
	)
	return res, nil
}
