// Package store defines the key-value table abstraction the pipelines read
// from and write to, and its backends: DynamoDB, SQLite, PostgreSQL and
// Parquet files on disk.
//
// Every table is keyed by (Instrument, UnixDateTime). Instrument is the
// partition key and UnixDateTime the sort key.
package store

import (
	"context"
	"errors"
	"fmt"

	"dailyprices/internal/config"
	"dailyprices/internal/domain"
)

// MaxBatchSize is the most records a single BatchPut accepts. It matches the
// DynamoDB BatchWriteItem limit so every backend behaves the same.
const MaxBatchSize = 25

// DefaultPageSize is used by the local backends when a query sets no limit.
const DefaultPageSize = 1000

var (
	// ErrTableNotFound is returned when a query names a table that does
	// not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrInvalidTable is returned for table names that break the naming rule.
	ErrInvalidTable = errors.New("invalid table name")

	// ErrBatchTooLarge is returned when BatchPut receives more than
	// MaxBatchSize records.
	ErrBatchTooLarge = errors.New("batch too large")
)

// Key identifies a record within a table.
type Key struct {
	Instrument   string
	UnixDateTime int64
}

// KeyOf returns the key of r.
func KeyOf(r domain.PriceRecord) Key {
	return Key{Instrument: r.Instrument, UnixDateTime: r.UnixDateTime}
}

// Range bounds the sort key, inclusive at both ends.
type Range struct {
	From int64
	To   int64
}

// Contains reports whether ts falls inside the range.
func (r *Range) Contains(ts int64) bool {
	return r == nil || (ts >= r.From && ts <= r.To)
}

// Query selects one partition, optionally narrowed to a sort-key range.
type Query struct {
	Instrument string
	Range      *Range

	// Limit caps the records per page. Zero leaves it to the backend.
	Limit int

	// StartKey resumes after the given key. It is the LastKey of the
	// previous page.
	StartKey *Key
}

// Page is one slice of a query result, ordered by UnixDateTime ascending.
type Page struct {
	Records []domain.PriceRecord

	// LastKey is set when more records may follow. A backend may return an
	// empty final page with a nil LastKey.
	LastKey *Key
}

// Store is a key-value table store.
type Store interface {
	// Query returns one page of records matching q from table.
	Query(ctx context.Context, table string, q Query) (*Page, error)

	// BatchPut writes up to MaxBatchSize records to table, overwriting
	// records with the same key. It returns how many records the backend
	// accepted; the rest were left unprocessed.
	BatchPut(ctx context.Context, table string, records []domain.PriceRecord) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		return NewDynamoStore(ctx, cfg.DynamoDB)
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.Postgres)
	case config.BackendParquet:
		return NewParquetStore(cfg.DataDir), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// checkTable validates a table name before it reaches a backend.
func checkTable(table string) error {
	if !config.ValidTableName(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

// checkBatch validates a BatchPut call.
func checkBatch(table string, records []domain.PriceRecord) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(records) > MaxBatchSize {
		return fmt.Errorf("%w: %d records, max %d", ErrBatchTooLarge, len(records), MaxBatchSize)
	}
	return nil
}

// pageLimit returns the effective page size for q.
func pageLimit(q Query) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return DefaultPageSize
}
