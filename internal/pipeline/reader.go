package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"dailyprices/internal/domain"
	"dailyprices/internal/store"
)

// ErrRetrieval marks a failed read from the store.
var ErrRetrieval = errors.New("error occurred while retrieving prices")

// errStalledKey is returned when a backend hands back the key it was given.
var errStalledKey = errors.New("continuation key did not advance")

// Pages returns the pages of q in order. Each iteration issues one query;
// the sequence continues while the previous page carried a continuation key
// and stops after yielding the first error. Ranging over the result again
// restarts from q.StartKey.
func Pages(ctx context.Context, s store.Store, table string, q store.Query) iter.Seq2[*store.Page, error] {
	return func(yield func(*store.Page, error) bool) {
		q := q
		for {
			page, err := s.Query(ctx, table, q)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.LastKey == nil {
				return
			}
			if q.StartKey != nil && *page.LastKey == *q.StartKey {
				yield(nil, fmt.Errorf("%w: %+v", errStalledKey, *page.LastKey))
				return
			}
			q.StartKey = page.LastKey
		}
	}
}

// ReadAll returns every record matching q, following continuation keys
// until the query is exhausted. A read error is logged and returned wrapped
// in ErrRetrieval; nothing is retried.
func ReadAll(ctx context.Context, s store.Store, table string, q store.Query, log *slog.Logger) ([]domain.PriceRecord, error) {
	if log == nil {
		log = slog.Default()
	}

	var (
		records []domain.PriceRecord
		pages   int
	)
	for page, err := range Pages(ctx, s, table, q) {
		if err != nil {
			log.Error("error occurred while retrieving prices",
				"table", table,
				"instrument", q.Instrument,
				"pages_read", pages,
				"error", err,
			)
			return nil, fmt.Errorf("%w: table %s, instrument %s: %w", ErrRetrieval, table, q.Instrument, err)
		}
		pages++
		records = append(records, page.Records...)
	}

	log.Debug("prices retrieved",
		"table", table,
		"instrument", q.Instrument,
		"pages", pages,
		"records", len(records),
	)
	return records, nil
}
