package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteDriver implements Driver for SQLite using modernc.org/sqlite (pure Go, no CGO).
// Files are opened read-only.
type SQLiteDriver struct {
	*sqlDriver
}

// NewSQLiteDriver opens the SQLite file named by src.Database. The probe
// reads sqlite_master so a file that is not a database fails here rather
// than on the first query.
func NewSQLiteDriver(ctx context.Context, src DataSource, opts PoolOptions) (*SQLiteDriver, error) {
	if src.Database == MemoryPath || src.Database == "" {
		// Each connection to :memory: is a separate database.
		opts = PoolOptions{MaxOpen: 1, MaxIdle: 1}
	}
	d, err := openSQL(ctx, "sqlite", src, opts)
	if err != nil {
		return nil, err
	}
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		d.Close()
		return nil, fmt.Errorf("sqlite probe: %w", err)
	}
	return &SQLiteDriver{sqlDriver: d}, nil
}

// ReadOnlyQuery implements Driver.
func (d *SQLiteDriver) ReadOnlyQuery(ctx context.Context, query string, args []any, maxRows int) (*Rows, error) {
	return d.readOnlyQuery(ctx, query, args, maxRows)
}

// Tables implements Driver.
func (d *SQLiteDriver) Tables(ctx context.Context) ([]string, error) {
	return d.queryStrings(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
}

// DescribeTable implements Driver.
func (d *SQLiteDriver) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	// table_info returns: cid, name, type, notnull, dflt_value, pk
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLiteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, ColumnInfo{
			Name:     name,
			Type:     strings.ToUpper(colType),
			Nullable: notnull == 0 && pk == 0,
			IsPK:     pk > 0,
		})
	}
	return cols, rows.Err()
}

// ForeignKeys implements Driver. A reference without an explicit target
// column points at the referenced table's primary key.
func (d *SQLiteDriver) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	// foreign_key_list returns: id, seq, table, from, to, on_update, on_delete, match
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLiteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var id, seq int
		var refTable, from string
		var to, onUpdate, onDelete, match sql.NullString
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		fks = append(fks, ForeignKey{Column: from, RefTable: refTable, RefColumn: to.String})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i, fk := range fks {
		if fk.RefColumn != "" {
			continue
		}
		cols, err := d.DescribeTable(ctx, fk.RefTable)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if c.IsPK {
				fks[i].RefColumn = c.Name
				break
			}
		}
	}
	return fks, nil
}

var sqliteIdentReplacer = strings.NewReplacer(`"`, `""`)

func quoteSQLiteIdentifier(name string) string {
	return `"` + sqliteIdentReplacer.Replace(name) + `"`
}

var _ Driver = (*SQLiteDriver)(nil)
