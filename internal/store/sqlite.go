package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dailyprices/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store backed by a SQLite database. Each logical
// table is a SQL table with a (instrument, unix_date_time) primary key.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Query returns up to one page of rows using keyset pagination on
// unix_date_time.
func (s *SQLiteStore) Query(ctx context.Context, table string, q Query) (*Page, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	limit := pageLimit(q)
	stmt, args := buildSelect(sqliteIdent(table), "price", q, limit+1, func(int) string { return "?" })

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
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
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		last := KeyOf(page.Records[limit-1])
		page.LastKey = &last
	}
	return page, nil
}

// BatchPut creates the table if needed and upserts records in one
// transaction.
func (s *SQLiteStore) BatchPut(ctx context.Context, table string, records []domain.PriceRecord) (int, error) {
	if err := checkBatch(table, records); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	ident := sqliteIdent(table)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ident+` (
		instrument     TEXT    NOT NULL,
		unix_date_time INTEGER NOT NULL,
		price          TEXT    NOT NULL,
		PRIMARY KEY (instrument, unix_date_time)
	)`); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO `+ident+` (instrument, unix_date_time, price) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Instrument, r.UnixDateTime, r.Price.String()); err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", table, err)
	}
	return len(records), nil
}

// sqliteIdent quotes a table name for use in SQL.
func sqliteIdent(table string) string {
	return `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
}

// buildSelect renders the keyset-paginated SELECT shared by the SQL
// backends. priceExpr selects the price as text; placeholder returns the
// bind marker for the n-th argument.
func buildSelect(ident, priceExpr string, q Query, limit int, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	bind := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, placeholder(len(args))))
	}

	bind("instrument = %s", q.Instrument)
	if q.StartKey != nil {
		bind("unix_date_time > %s", q.StartKey.UnixDateTime)
	}
	if q.Range != nil {
		bind("unix_date_time >= %s", q.Range.From)
		bind("unix_date_time <= %s", q.Range.To)
	}

	stmt := "SELECT instrument, unix_date_time, " + priceExpr + " FROM " + ident +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY unix_date_time" +
		fmt.Sprintf(" LIMIT %d", limit)
	return stmt, args
}
