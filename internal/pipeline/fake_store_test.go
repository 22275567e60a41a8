package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"dailyprices/internal/domain"
	"dailyprices/internal/store"
)

// fakeStore is an in-memory store.Store. Like DynamoDB it sets LastKey
// whenever a page is full, so a query can end on an empty page.
type fakeStore struct {
	tables   map[string][]domain.PriceRecord
	pageSize int

	// acceptMax caps how many records a BatchPut accepts; 0 accepts all.
	acceptMax int
	// failQuery makes the n-th Query call (1-based) fail; 0 never fails.
	failQuery int
	// stallKey makes every Query return the key it was given.
	stallKey bool
	batchErr error

	queries int
	batches [][]domain.PriceRecord
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore(pageSize int) *fakeStore {
	return &fakeStore{tables: make(map[string][]domain.PriceRecord), pageSize: pageSize}
}

func (f *fakeStore) Query(_ context.Context, table string, q store.Query) (*store.Page, error) {
	f.queries++
	if f.failQuery > 0 && f.queries == f.failQuery {
		return nil, errors.New("throughput exceeded")
	}
	rows, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
	}
	if f.stallKey && q.StartKey != nil {
		return &store.Page{LastKey: q.StartKey}, nil
	}

	limit := f.pageSize
	if q.Limit > 0 {
		limit = q.Limit
	}
	page := &store.Page{}
	for _, r := range rows {
		if r.Instrument != q.Instrument || !q.Range.Contains(r.UnixDateTime) {
			continue
		}
		if q.StartKey != nil && r.UnixDateTime <= q.StartKey.UnixDateTime {
			continue
		}
		page.Records = append(page.Records, r)
		if len(page.Records) == limit {
			last := store.KeyOf(r)
			page.LastKey = &last
			break
		}
	}
	return page, nil
}

func (f *fakeStore) BatchPut(_ context.Context, table string, records []domain.PriceRecord) (int, error) {
	if len(records) > store.MaxBatchSize {
		return 0, store.ErrBatchTooLarge
	}
	f.batches = append(f.batches, append([]domain.PriceRecord(nil), records...))
	if f.batchErr != nil {
		return 0, f.batchErr
	}

	accepted := records
	if f.acceptMax > 0 && len(accepted) > f.acceptMax {
		accepted = accepted[:f.acceptMax]
	}
	f.put(table, accepted...)
	return len(accepted), nil
}

func (f *fakeStore) Close() error { return nil }

// put upserts records, keeping each table sorted by key.
func (f *fakeStore) put(table string, records ...domain.PriceRecord) {
	rows := f.tables[table]
	for _, r := range records {
		replaced := false
		for i := range rows {
			if store.KeyOf(rows[i]) == store.KeyOf(r) {
				rows[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Instrument != rows[j].Instrument {
			return rows[i].Instrument < rows[j].Instrument
		}
		return rows[i].UnixDateTime < rows[j].UnixDateTime
	})
	f.tables[table] = rows
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// series returns n records for instrument, one per minute from start, with
// prices 1, 2, 3, ...
func series(instrument string, start int64, n int) []domain.PriceRecord {
	out := make([]domain.PriceRecord, n)
	for i := range out {
		out[i] = domain.PriceRecord{
			Instrument:   instrument,
			UnixDateTime: start + int64(i)*60,
			Price:        decimal.NewFromInt(int64(i + 1)),
		}
	}
	return out
}
