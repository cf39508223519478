// Package db is the single point of contact with PostgreSQL. Every statement
// runs with positional arguments; reads use a dedicated connection and
// mutations run inside an explicit transaction.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rmcerp.io/internal/obs"
)

// Record is one result row keyed by column name.
type Record map[string]any

// Query describes one parameterised statement. Returning marks statements
// ending in RETURNING <pk>; the generated key is scanned into
// Result.LastInsertID.
type Query struct {
	SQL       string
	Args      []any
	Returning bool
}

// Result reports the effect of one mutation.
type Result struct {
	RowsAffected int64 `json:"affectedRows"`
	LastInsertID int64 `json:"insertId"`
}

// Tx is the statement surface available inside Transact.
type Tx interface {
	Query(ctx context.Context, q Query) ([]Record, error)
	Execute(ctx context.Context, q Query) (Result, error)
}

// PoolOptions tunes the underlying database/sql pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Gateway wraps the connection pool.
type Gateway struct {
	db *sql.DB
}

// Open connects through the pgx stdlib driver. The pool is lazy; call Ping
// to verify connectivity.
func Open(dsn string, opts PoolOptions) (*Gateway, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	idle := opts.ConnMaxIdleTime
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	sqlDB.SetConnMaxIdleTime(idle)
	return New(sqlDB), nil
}

// New wraps an existing pool.
func New(sqlDB *sql.DB) *Gateway {
	return &Gateway{db: sqlDB}
}

func (g *Gateway) Close() error { return g.db.Close() }

func (g *Gateway) DB() *sql.DB { return g.db }

// Ping verifies that a connection can be established.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Query runs a read on a dedicated connection and returns every row.
func (g *Gateway) Query(ctx context.Context, q Query) (recs []Record, err error) {
	defer func() { obs.ObserveDB("query", err) }()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, translate(err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	recs, err = scanRecords(rows)
	if err != nil {
		return nil, translate(err)
	}
	return recs, nil
}

// QueryOne returns the first row of q, if any.
func (g *Gateway) QueryOne(ctx context.Context, q Query) (Record, bool, error) {
	recs, err := g.Query(ctx, q)
	if err != nil || len(recs) == 0 {
		return nil, false, err
	}
	return recs[0], true, nil
}

// Execute runs one mutation inside its own transaction.
func (g *Gateway) Execute(ctx context.Context, q Query) (Result, error) {
	var res Result
	err := g.Transact(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = tx.Execute(ctx, q)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// RunTransaction executes qs in order on one connection. Either every
// statement commits or none does; the first failure is returned.
func (g *Gateway) RunTransaction(ctx context.Context, qs []Query) ([]Result, error) {
	results := make([]Result, 0, len(qs))
	err := g.Transact(ctx, func(ctx context.Context, tx Tx) error {
		for i, q := range qs {
			res, err := tx.Execute(ctx, q)
			if err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Transact runs fn inside one transaction on one connection. fn's error, or
// a panic, rolls everything back; otherwise the transaction commits once.
func (g *Gateway) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	defer func() { obs.ObserveDB("transaction", err) }()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return translate(err)
	}
	defer conn.Close()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, txScope{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

type txScope struct {
	tx *sql.Tx
}

func (s txScope) Query(ctx context.Context, q Query) ([]Record, error) {
	rows, err := s.tx.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, translate(err)
	}
	return recs, nil
}

func (s txScope) Execute(ctx context.Context, q Query) (Result, error) {
	if q.Returning {
		var id int64
		if err := s.tx.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&id); err != nil {
			return Result{}, translate(err)
		}
		return Result{RowsAffected: 1, LastInsertID: id}, nil
	}
	res, err := s.tx.ExecContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return Result{}, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, translate(err)
	}
	return Result{RowsAffected: n}, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			rec[col.Name()] = normalize(col.DatabaseTypeName(), vals[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// normalize turns driver values into JSON-friendly ones. NUMERIC arrives as
// text and is kept exact as a json.Number.
func normalize(dbType string, v any) any {
	switch val := v.(type) {
	case []byte:
		if dbType == "NUMERIC" && len(val) > 0 {
			return json.Number(val)
		}
		return string(val)
	case string:
		if dbType == "NUMERIC" && val != "" {
			return json.Number(val)
		}
	}
	return v
}
