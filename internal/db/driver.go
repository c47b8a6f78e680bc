// Package db provides the database drivers behind querygate: one
// implementation per engine (PostgreSQL, MySQL, SQLite, SQL Server), the
// structured DataSource they are opened from, and the helpers that bind
// named parameters and normalize result values.
package db

import (
	"context"
	"fmt"
	"time"
)

// Driver is the interface the executor and introspector use. An
// implementation owns a connection pool for one DataSource.
type Driver interface {
	// Engine reports which backend the driver talks to.
	Engine() Engine
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// ReadOnlyQuery runs query with positional args inside a transaction
	// that is never committed. At most maxRows rows are read (all rows when
	// maxRows <= 0); More reports whether another row was available.
	ReadOnlyQuery(ctx context.Context, query string, args []any, maxRows int) (*Rows, error)
	// Tables lists base tables in the default schema, sorted by name.
	Tables(ctx context.Context) ([]string, error)
	// DescribeTable returns column metadata in ordinal order.
	DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error)
	// ForeignKeys returns the outgoing foreign key edges of table.
	ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
	// Close releases the pool. Call once when done.
	Close() error
}

// Rows is a materialized result set. Values are already normalized.
type Rows struct {
	Columns []string
	Values  [][]any
	More    bool
}

// ColumnInfo describes one column.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	IsPK     bool   `json:"is_pk"`
}

// ForeignKey is one column reference from a table to another.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// PoolOptions sizes the pool a driver opens.
type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Open connects to src and returns a pooled driver.
func Open(ctx context.Context, src DataSource, opts PoolOptions) (Driver, error) {
	switch src.Engine {
	case Postgres:
		return NewPostgresDriver(ctx, src, opts)
	case MySQL:
		return NewMySQLDriver(ctx, src, opts)
	case SQLite:
		return NewSQLiteDriver(ctx, src, opts)
	case SQLServer:
		return NewSQLServerDriver(ctx, src, opts)
	}
	return nil, fmt.Errorf("unsupported database type %q", src.Engine)
}

// Probe opens a throwaway connection to src, runs a trivial query and
// closes it again.
func Probe(ctx context.Context, src DataSource) error {
	if src.IsZero() {
		return fmt.Errorf("no database configured")
	}
	if src.Engine == Postgres {
		return probePostgres(ctx, src)
	}
	d, err := Open(ctx, src, PoolOptions{MaxOpen: 1, MaxIdle: 0})
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Ping(ctx)
}
