package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// sqlDriver holds the database/sql plumbing shared by the MySQL, SQLite and
// SQL Server drivers.
type sqlDriver struct {
	engine Engine
	db     *sql.DB
}

func openSQL(ctx context.Context, driverName string, src DataSource, opts PoolOptions) (*sqlDriver, error) {
	dsn, err := src.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", src.Engine, err)
	}
	if opts.MaxOpen > 0 {
		db.SetMaxOpenConns(opts.MaxOpen)
	}
	if opts.MaxIdle > 0 {
		db.SetMaxIdleConns(opts.MaxIdle)
	}
	if opts.MaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.MaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", src.Engine, err)
	}
	return &sqlDriver{engine: src.Engine, db: db}, nil
}

// Engine implements Driver.
func (d *sqlDriver) Engine() Engine { return d.engine }

// Ping implements Driver.
func (d *sqlDriver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close implements Driver.
func (d *sqlDriver) Close() error {
	return d.db.Close()
}

// readOnlyQuery asks for a read-only transaction and falls back to a plain
// one when the driver refuses. The transaction is always rolled back.
func (d *sqlDriver) readOnlyQuery(ctx context.Context, query string, args []any, maxRows int) (*Rows, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		tx, err = d.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows, maxRows)
}

func scanRows(rows *sql.Rows, maxRows int) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	typeNames := make([]string, len(types))
	for i, ct := range types {
		typeNames[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	out := &Rows{Columns: cols}
	scan := make([]any, len(cols))
	vals := make([]any, len(cols))
	for i := range scan {
		scan[i] = &vals[i]
	}
	for rows.Next() {
		if maxRows > 0 && len(out.Values) == maxRows {
			out.More = true
			break
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]any, len(cols))
		for i, v := range vals {
			row[i] = normalizeColumn(typeNames[i], v)
		}
		out.Values = append(out.Values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *sqlDriver) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *sqlDriver) queryForeignKeys(ctx context.Context, query string, args ...any) ([]ForeignKey, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
