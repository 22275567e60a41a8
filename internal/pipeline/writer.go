package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"dailyprices/internal/domain"
	"dailyprices/internal/store"
)

// WriteResult summarises a chunked write.
type WriteResult struct {
	Batches  int
	Written  int
	Expected int
}

// Complete reports whether every record was accepted.
func (r WriteResult) Complete() bool { return r.Written == r.Expected }

// WriteBatches writes records to table in chunks of at most batchSize
// (clamped to store.MaxBatchSize), including a final partial chunk. A
// shortfall between written and expected records is logged as a warning and
// is not an error. A failed call stops the write and is returned.
func WriteBatches(ctx context.Context, s store.Store, table string, records []domain.PriceRecord, batchSize int, log *slog.Logger) (WriteResult, error) {
	if log == nil {
		log = slog.Default()
	}
	if batchSize < 1 || batchSize > store.MaxBatchSize {
		batchSize = store.MaxBatchSize
	}

	res := WriteResult{Expected: len(records)}
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		n, err := s.BatchPut(ctx, table, records[start:end])
		res.Batches++
		res.Written += n
		if err != nil {
			return res, fmt.Errorf("batch write to %s (records %d-%d): %w", table, start, end-1, err)
		}
		if n < end-start {
			log.Debug("batch partially accepted",
				"table", table,
				"batch", res.Batches,
				"size", end-start,
				"accepted", n,
			)
		}
	}

	if !res.Complete() {
		log.Warn(fmt.Sprintf("only %d out of %d items were copied", res.Written, res.Expected),
			"table", table,
			"written", res.Written,
			"expected", res.Expected,
			"batches", res.Batches,
		)
	}
	return res, nil
}
