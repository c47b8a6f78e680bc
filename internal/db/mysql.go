package db

import (
	"context"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	_ "github.com/pingcap/tidb/parser/test_driver"
)

// MySQLDriver implements Driver for MySQL using go-sql-driver/mysql.
type MySQLDriver struct {
	*sqlDriver
	checker *statementChecker
}

// NewMySQLDriver connects to MySQL. Times are parsed into time.Time.
func NewMySQLDriver(ctx context.Context, src DataSource, opts PoolOptions) (*MySQLDriver, error) {
	d, err := openSQL(ctx, "mysql", src, opts)
	if err != nil {
		return nil, err
	}
	return &MySQLDriver{sqlDriver: d, checker: newStatementChecker()}, nil
}

// ReadOnlyQuery implements Driver. MySQL gets a second opinion from a real
// parser before anything is sent to the server.
func (d *MySQLDriver) ReadOnlyQuery(ctx context.Context, query string, args []any, maxRows int) (*Rows, error) {
	if err := d.checker.check(query); err != nil {
		return nil, err
	}
	return d.readOnlyQuery(ctx, query, args, maxRows)
}

// Tables implements Driver.
func (d *MySQLDriver) Tables(ctx context.Context) ([]string, error) {
	return d.queryStrings(ctx, `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
}

// DescribeTable implements Driver.
func (d *MySQLDriver) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.COLUMN_NAME, UPPER(c.COLUMN_TYPE),
		       c.IS_NULLABLE = 'YES',
		       CASE WHEN c.COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = DATABASE() AND c.TABLE_NAME = ?
		ORDER BY c.ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var nullable, isPK int
		if err := rows.Scan(&c.Name, &c.Type, &nullable, &isPK); err != nil {
			return nil, err
		}
		c.Nullable = nullable == 1
		c.IsPK = isPK == 1
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ForeignKeys implements Driver.
func (d *MySQLDriver) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	return d.queryForeignKeys(ctx, `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		  AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, table)
}

var _ Driver = (*MySQLDriver)(nil)

// statementChecker wraps the TiDB parser, which is not safe for concurrent
// use.
type statementChecker struct {
	mu sync.Mutex
	p  *parser.Parser
}

func newStatementChecker() *statementChecker {
	return &statementChecker{p: parser.New()}
}

// check refuses text that the MySQL grammar splits into several statements
// or that is not a query. Text the parser cannot read is let through; the
// server will report the syntax error itself.
func (c *statementChecker) check(query string) error {
	c.mu.Lock()
	stmts, _, err := c.p.Parse(query, "", "")
	c.mu.Unlock()
	if err != nil {
		return nil
	}
	if len(stmts) != 1 {
		return fmt.Errorf("query parses into %d statements", len(stmts))
	}
	switch stmts[0].(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return nil
	}
	return fmt.Errorf("query is not a SELECT statement")
}
