package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"dailyprices/internal/domain"
)

// Compile-time interface check.
var _ Store = (*ParquetStore)(nil)

// ParquetStore implements Store using Parquet files on disk. Each partition
// is one file:
//
//	<DataDir>/<table>/<instrument>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// PriceRow is the Parquet schema for a price record. Price is kept as its
// decimal string so no precision is lost.
type PriceRow struct {
	Instrument   string `parquet:"instrument"`
	UnixDateTime int64  `parquet:"unix_date_time"`
	Price        string `parquet:"price"`
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

// Query reads the partition file and returns the page of rows after
// q.StartKey that fall inside q.Range.
func (s *ParquetStore) Query(_ context.Context, table string, q Query) (*Page, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.tableDir(table)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		return nil, err
	}

	path := s.partitionPath(table, q.Instrument)
	if !fileExists(path) {
		return &Page{}, nil
	}
	rows, err := readParquetFile[PriceRow](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", table, q.Instrument, err)
	}

	limit := pageLimit(q)
	page := &Page{}
	for _, r := range rows {
		if r.Instrument != q.Instrument {
			continue
		}
		if q.StartKey != nil && r.UnixDateTime <= q.StartKey.UnixDateTime {
			continue
		}
		if !q.Range.Contains(r.UnixDateTime) {
			continue
		}
		if len(page.Records) == limit {
			last := KeyOf(page.Records[limit-1])
			page.LastKey = &last
			break
		}
		rec, err := r.record()
		if err != nil {
			return nil, fmt.Errorf("reading %s/%s: %w", table, q.Instrument, err)
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// BatchPut merges records into their partition files, replacing rows that
// share a key.
func (s *ParquetStore) BatchPut(_ context.Context, table string, records []domain.PriceRecord) (int, error) {
	if err := checkBatch(table, records); err != nil {
		return 0, err
	}

	groups := make(map[string][]PriceRow)
	for _, r := range records {
		groups[r.Instrument] = append(groups[r.Instrument], PriceRow{
			Instrument:   r.Instrument,
			UnixDateTime: r.UnixDateTime,
			Price:        r.Price.String(),
		})
	}

	if err := os.MkdirAll(s.tableDir(table), 0o755); err != nil {
		return 0, fmt.Errorf("creating table dir %s: %w", table, err)
	}

	written := 0
	for instrument, rows := range groups {
		path := s.partitionPath(table, instrument)

		var existing []PriceRow
		if fileExists(path) {
			prior, err := readParquetFile[PriceRow](path)
			if err != nil {
				return written, fmt.Errorf("reading %s/%s: %w", table, instrument, err)
			}
			existing = prior
		}
		merged := mergePriceRows(existing, rows)

		if err := writeParquetFile(path, merged); err != nil {
			return written, fmt.Errorf("writing %s/%s: %w", table, instrument, err)
		}
		written += len(rows)
	}
	return written, nil
}

// Close is a no-op; files are closed after every call.
func (s *ParquetStore) Close() error { return nil }

func (r PriceRow) record() (domain.PriceRecord, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.PriceRecord{}, fmt.Errorf("price %q at %d: %w", r.Price, r.UnixDateTime, err)
	}
	return domain.PriceRecord{
		Instrument:   r.Instrument,
		UnixDateTime: r.UnixDateTime,
		Price:        price,
	}, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// tableDir returns the directory holding a table's partitions.
func (s *ParquetStore) tableDir(table string) string {
	return filepath.Join(s.DataDir, table)
}

// partitionPath returns the file holding one instrument's rows.
// Layout: <dataDir>/<table>/<escaped instrument>.parquet
//
// The instrument is path-escaped so distinct instruments never share a file
// and separators cannot leave the table dir.
func (s *ParquetStore) partitionPath(table, instrument string) string {
	return filepath.Join(s.tableDir(table), url.PathEscape(instrument)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// mergePriceRows deduplicates rows by timestamp, preferring incoming rows
// over existing ones. Results are sorted by timestamp.
func mergePriceRows(existing, incoming []PriceRow) []PriceRow {
	seen := make(map[int64]PriceRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.UnixDateTime] = r
	}
	for _, r := range incoming {
		seen[r.UnixDateTime] = r
	}

	merged := make([]PriceRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].UnixDateTime < merged[j].UnixDateTime
	})
	return merged
}
