package db

import (
	"context"
	"regexp"

	_ "github.com/microsoft/go-mssqldb"
)

// SQLServerDriver implements Driver for SQL Server using go-mssqldb.
type SQLServerDriver struct {
	*sqlDriver
}

// NewSQLServerDriver connects to SQL Server.
func NewSQLServerDriver(ctx context.Context, src DataSource, opts PoolOptions) (*SQLServerDriver, error) {
	d, err := openSQL(ctx, "sqlserver", src, opts)
	if err != nil {
		return nil, err
	}
	return &SQLServerDriver{sqlDriver: d}, nil
}

// ReadOnlyQuery implements Driver. A trailing LIMIT is rewritten to TOP.
func (d *SQLServerDriver) ReadOnlyQuery(ctx context.Context, query string, args []any, maxRows int) (*Rows, error) {
	return d.readOnlyQuery(ctx, rewriteLimitToTop(query), args, maxRows)
}

var (
	trailingLimit = regexp.MustCompile(`(?is)^\s*SELECT\s+(DISTINCT\s+)?(.*?)\s+LIMIT\s+(\d+)\s*$`)
	leadingTop    = regexp.MustCompile(`(?i)^TOP\b`)
)

// rewriteLimitToTop turns "SELECT [DISTINCT] x ... LIMIT n" into
// "SELECT [DISTINCT] TOP (n) x ...". When the select list already starts
// with TOP the LIMIT is dropped and the caller's TOP stands; the row ceiling
// still applies. Anything else is returned unchanged.
func rewriteLimitToTop(query string) string {
	m := trailingLimit.FindStringSubmatch(query)
	if m == nil {
		return query
	}
	if leadingTop.MatchString(m[2]) {
		return "SELECT " + m[1] + m[2]
	}
	return "SELECT " + m[1] + "TOP (" + m[3] + ") " + m[2]
}

// Tables implements Driver.
func (d *SQLServerDriver) Tables(ctx context.Context) ([]string, error) {
	return d.queryStrings(ctx, `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
}

// DescribeTable implements Driver.
func (d *SQLServerDriver) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT c.COLUMN_NAME, UPPER(c.DATA_TYPE),
	       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
	       CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END
	FROM INFORMATION_SCHEMA.COLUMNS c
	LEFT JOIN (
	  SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
	  FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
	  JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
	  WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
	) pk ON c.TABLE_SCHEMA = pk.TABLE_SCHEMA AND c.TABLE_NAME = pk.TABLE_NAME AND c.COLUMN_NAME = pk.COLUMN_NAME
	WHERE c.TABLE_SCHEMA = SCHEMA_NAME() AND c.TABLE_NAME = @p1
	ORDER BY c.ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var nullableInt, isPK int
		if err := rows.Scan(&c.Name, &c.Type, &nullableInt, &isPK); err != nil {
			return nil, err
		}
		c.Nullable = nullableInt == 1
		c.IsPK = isPK == 1
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ForeignKeys implements Driver.
func (d *SQLServerDriver) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	return d.queryForeignKeys(ctx, `
	SELECT pc.name, rt.name, rc.name
	FROM sys.foreign_key_columns fkc
	JOIN sys.tables t ON t.object_id = fkc.parent_object_id
	JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
	JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
	JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
	WHERE t.name = @p1 AND t.schema_id = SCHEMA_ID()
	ORDER BY fkc.constraint_object_id, fkc.constraint_column_id`, table)
}

var _ Driver = (*SQLServerDriver)(nil)
