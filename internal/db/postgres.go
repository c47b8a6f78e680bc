package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDriver implements Driver for PostgreSQL using a pgx pool.
type PostgresDriver struct {
	pool *pgxpool.Pool
}

// NewPostgresDriver creates a pool for src and verifies it with a ping.
func NewPostgresDriver(ctx context.Context, src DataSource, opts PoolOptions) (*PostgresDriver, error) {
	dsn, err := src.dsn()
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if opts.MaxOpen > 0 {
		cfg.MaxConns = int32(opts.MaxOpen)
	}
	if opts.MaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresDriver{pool: pool}, nil
}

func probePostgres(ctx context.Context, src DataSource) error {
	dsn, err := src.dsn()
	if err != nil {
		return err
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer conn.Close(context.Background())
	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres probe: %w", err)
	}
	return nil
}

// Engine implements Driver.
func (d *PostgresDriver) Engine() Engine { return Postgres }

// Ping implements Driver.
func (d *PostgresDriver) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// ReadOnlyQuery implements Driver. The transaction is opened READ ONLY and
// its statement_timeout follows the context deadline, so the server stops
// work even if the client side cancellation is lost.
func (d *PostgresDriver) ReadOnlyQuery(ctx context.Context, query string, args []any, maxRows int) (*Rows, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tx.Rollback(rctx)
	}()

	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			ms = 1
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)); err != nil {
			return nil, err
		}
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := &Rows{Columns: make([]string, len(fields))}
	for i, f := range fields {
		out.Columns[i] = f.Name
		if out.Columns[i] == "" {
			out.Columns[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	for rows.Next() {
		if maxRows > 0 && len(out.Values) == maxRows {
			out.More = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = normalizePostgres(fields[i].DataTypeOID, v)
		}
		out.Values = append(out.Values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizePostgres(oid uint32, v any) any {
	switch t := v.(type) {
	case time.Time:
		if oid == pgtype.DateOID {
			return t.Format(time.DateOnly)
		}
	case pgtype.Numeric:
		return numericValue(t)
	case [16]byte:
		if oid == pgtype.UUIDOID {
			return uuid.UUID(t).String()
		}
	}
	return Normalize(v)
}

func numericValue(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	if n.NaN {
		return "NaN"
	}
	if n.InfinityModifier != pgtype.Finite {
		if n.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		return "-Infinity"
	}
	if i, err := n.Int64Value(); err == nil && i.Valid {
		return i.Int64
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid || math.IsInf(f.Float64, 0) {
		b, _ := n.MarshalJSON()
		return string(b)
	}
	return f.Float64
}

// Tables implements Driver.
func (d *PostgresDriver) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DescribeTable implements Driver.
func (d *PostgresDriver) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT c.column_name, upper(c.data_type), c.is_nullable = 'YES',
		       EXISTS (
		         SELECT 1 FROM information_schema.table_constraints tc
		         JOIN information_schema.key_column_usage kcu
		           ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		         WHERE tc.table_schema = c.table_schema AND tc.table_name = c.table_name
		           AND tc.constraint_type = 'PRIMARY KEY' AND kcu.column_name = c.column_name
		       )
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`,
		table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.IsPK); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ForeignKeys implements Driver.
func (d *PostgresDriver) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = current_schema() AND tc.table_name = $1
		ORDER BY tc.constraint_name, kcu.ordinal_position`,
		table)
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

// Close implements Driver.
func (d *PostgresDriver) Close() error {
	d.pool.Close()
	return nil
}

var _ Driver = (*PostgresDriver)(nil)
