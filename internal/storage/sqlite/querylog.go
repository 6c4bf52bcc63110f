package sqlite

import (
	"context"
	"database/sql"
	"log"
	"time"
)

const slowQueryThreshold = 100 * time.Millisecond

// dbHandle abstracts the database handle so the store can run against a
// bare *sql.DB or one wrapped in a queryLogger.
type dbHandle interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Begin() (*sql.Tx, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// queryLogger reports statements that run past slowQueryThreshold. Lease
// scans and inbox reads should be index hits; anything slow here usually
// means a missing index or a lock pile-up worth surfacing.
type queryLogger struct {
	inner *sql.DB
}

func (q *queryLogger) Exec(query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := q.inner.Exec(query, args...)
	q.logIfSlow(start, query)
	return result, err
}

func (q *queryLogger) Query(query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.inner.Query(query, args...)
	q.logIfSlow(start, query)
	return rows, err
}

func (q *queryLogger) QueryRow(query string, args ...any) *sql.Row {
	start := time.Now()
	row := q.inner.QueryRow(query, args...)
	q.logIfSlow(start, query)
	return row
}

func (q *queryLogger) Begin() (*sql.Tx, error) {
	return q.inner.Begin()
}

func (q *queryLogger) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return q.inner.BeginTx(ctx, opts)
}

func (q *queryLogger) Close() error {
	return q.inner.Close()
}

func (q *queryLogger) logIfSlow(start time.Time, query string) {
	if d := time.Since(start); d >= slowQueryThreshold {
		log.Printf("sqlite: slow query (%s): %s", d.Round(time.Millisecond), trimSQL(query))
	}
}

func trimSQL(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
