package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dailyprices/internal/config"
	"dailyprices/internal/domain"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// pgUndefinedTable is the SQLSTATE for "relation does not exist".
const pgUndefinedTable = "42P01"

// PostgresStore implements Store on PostgreSQL. Prices are NUMERIC so they
// keep their exact decimal value.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database described by cfg.
func NewPostgresStore(ctx context.Context, cfg config.DBConfig) (*PostgresStore, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Query returns up to one page of rows using keyset pagination on
// unix_date_time.
func (s *PostgresStore) Query(ctx context.Context, table string, q Query) (*Page, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	limit := pageLimit(q)
	stmt, args := buildSelect(pgIdent(table), "price::text", q, limit+1, func(n int) string {
		return fmt.Sprintf("$%d", n)
	})

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, pgError(table, err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		var (
			r     domain.PriceRecord
			price string
		)
		if err := rows.Scan(&r.Instrument, &r.UnixDateTime, &price); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("price %q in %s: %w", price, table, err)
		}
		page.Records = append(page.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError(table, err)
	}

	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		last := KeyOf(page.Records[limit-1])
		page.LastKey = &last
	}
	return page, nil
}

// BatchPut creates the table if needed and upserts records in a single
// pipelined batch.
func (s *PostgresStore) BatchPut(ctx context.Context, table string, records []domain.PriceRecord) (int, error) {
	if err := checkBatch(table, records); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	ident := pgIdent(table)
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+ident+` (
		instrument     TEXT    NOT NULL,
		unix_date_time BIGINT  NOT NULL,
		price          NUMERIC NOT NULL,
		PRIMARY KEY (instrument, unix_date_time)
	)`); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}

	insert := `INSERT INTO ` + ident + ` (instrument, unix_date_time, price)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (instrument, unix_date_time) DO UPDATE SET price = EXCLUDED.price`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insert, r.Instrument, r.UnixDateTime, r.Price.String())
	}

	n, err := execBatch(s.pool.SendBatch(ctx, batch), len(records))
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table, err)
	}
	return n, nil
}

// execBatch reads n results and closes br. The batch runs as one implicit
// transaction, so any failure means nothing was written.
func execBatch(br pgx.BatchResults, n int) (int, error) {
	for i := range n {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// pgIdent quotes a table name for use in SQL.
func pgIdent(table string) string {
	return pgx.Identifier{table}.Sanitize()
}

// pgError maps a missing relation to ErrTableNotFound.
func pgError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return fmt.Errorf("query %s: %w", table, err)
}
