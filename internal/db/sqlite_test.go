package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SedlarDavid/querygate/internal/db/dbtest"
)

func newTestSQLiteDriver(t *testing.T) *SQLiteDriver {
	t.Helper()
	path := dbtest.Employees(t)
	d, err := NewSQLiteDriver(context.Background(), DataSource{Engine: SQLite, Database: path}, PoolOptions{MaxOpen: 2})
	if err != nil {
		t.Fatalf("NewSQLiteDriver: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSQLite_Ping(t *testing.T) {
	d := newTestSQLiteDriver(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if d.Engine() != SQLite {
		t.Errorf("Engine = %q", d.Engine())
	}
}

func TestSQLite_missingFile(t *testing.T) {
	src := DataSource{Engine: SQLite, Database: filepath.Join(t.TempDir(), "nope", "missing.db")}
	d, err := NewSQLiteDriver(context.Background(), src, PoolOptions{})
	if err == nil {
		d.Close()
		t.Fatal("expected error opening a missing file read-only")
	}
}

func TestSQLite_Tables(t *testing.T) {
	d := newTestSQLiteDriver(t)
	tables, err := d.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(tables) != 2 || tables[0] != "departments" || tables[1] != "employees" {
		t.Errorf("Tables = %v", tables)
	}
}

func TestSQLite_DescribeTable(t *testing.T) {
	d := newTestSQLiteDriver(t)
	cols, err := d.DescribeTable(context.Background(), "employees")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if len(cols) != 7 {
		t.Fatalf("expected 7 columns, got %d", len(cols))
	}
	if cols[0].Name != "id" || !cols[0].IsPK {
		t.Errorf("expected id as PK, got %+v", cols[0])
	}
	if cols[1].Name != "name" || cols[1].Nullable || cols[1].Type != "TEXT" {
		t.Errorf("expected name as NOT NULL TEXT, got %+v", cols[1])
	}
}

func TestSQLite_ForeignKeys(t *testing.T) {
	d := newTestSQLiteDriver(t)
	fks, err := d.ForeignKeys(context.Background(), "employees")
	if err != nil {
		t.Fatalf("ForeignKeys: %v", err)
	}
	want := ForeignKey{Column: "dept_id", RefTable: "departments", RefColumn: "id"}
	if len(fks) != 1 || fks[0] != want {
		t.Errorf("ForeignKeys = %+v, want [%+v]", fks, want)
	}
}

func TestSQLite_ReadOnlyQuery(t *testing.T) {
	d := newTestSQLiteDriver(t)
	ctx := context.Background()

	q, args, err := Bind(SQLite, "SELECT name, salary, hired FROM employees WHERE name = :name", map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	rows, err := d.ReadOnlyQuery(ctx, q, args, 0)
	if err != nil {
		t.Fatalf("ReadOnlyQuery: %v", err)
	}
	if len(rows.Values) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows.Values))
	}
	row := rows.Values[0]
	if row[0] != "Ada" || row[1] != int64(60000) || row[2] != "2021-03-01" {
		t.Errorf("row = %#v", row)
	}
	if rows.More {
		t.Error("More should be false")
	}
}

func TestSQLite_ReadOnlyQuery_aggregate(t *testing.T) {
	d := newTestSQLiteDriver(t)
	rows, err := d.ReadOnlyQuery(context.Background(), "SELECT SUM(salary) AS total FROM employees", nil, 0)
	if err != nil {
		t.Fatalf("ReadOnlyQuery: %v", err)
	}
	if len(rows.Columns) != 1 || rows.Columns[0] != "total" {
		t.Errorf("columns = %v", rows.Columns)
	}
	if len(rows.Values) != 1 || rows.Values[0][0] != int64(145000) {
		t.Errorf("values = %v", rows.Values)
	}
}

func TestSQLite_ReadOnlyQuery_maxRows(t *testing.T) {
	path := dbtest.Numbers(t, 10)
	d, err := NewSQLiteDriver(context.Background(), DataSource{Engine: SQLite, Database: path}, PoolOptions{})
	if err != nil {
		t.Fatalf("NewSQLiteDriver: %v", err)
	}
	defer d.Close()

	rows, err := d.ReadOnlyQuery(context.Background(), "SELECT n FROM numbers ORDER BY n", nil, 4)
	if err != nil {
		t.Fatalf("ReadOnlyQuery: %v", err)
	}
	if len(rows.Values) != 4 || !rows.More {
		t.Errorf("got %d rows, More=%v; want 4, true", len(rows.Values), rows.More)
	}

	rows, err = d.ReadOnlyQuery(context.Background(), "SELECT n FROM numbers", nil, 10)
	if err != nil {
		t.Fatalf("ReadOnlyQuery: %v", err)
	}
	if len(rows.Values) != 10 || rows.More {
		t.Errorf("got %d rows, More=%v; want 10, false", len(rows.Values), rows.More)
	}
}

func TestSQLite_writesRefused(t *testing.T) {
	d := newTestSQLiteDriver(t)
	ctx := context.Background()
	if _, err := d.ReadOnlyQuery(ctx, "INSERT INTO departments (id, name) VALUES (3, 'Ops')", nil, 0); err == nil {
		t.Error("expected write to a read-only database to fail")
	}
	rows, err := d.ReadOnlyQuery(ctx, "SELECT COUNT(*) FROM departments", nil, 0)
	if err != nil {
		t.Fatalf("ReadOnlyQuery: %v", err)
	}
	if rows.Values[0][0] != int64(2) {
		t.Errorf("departments count = %v, want 2", rows.Values[0][0])
	}
}

func TestSQLite_missingTable(t *testing.T) {
	d := newTestSQLiteDriver(t)
	if _, err := d.ReadOnlyQuery(context.Background(), "SELECT * FROM nope", nil, 0); err == nil {
		t.Error("expected error for missing table")
	}
	// The pool stays usable.
	if err := d.Ping(context.Background()); err != nil {
		t.Errorf("Ping after error: %v", err)
	}
}

func TestProbe_sqlite(t *testing.T) {
	ctx := context.Background()
	if err := Probe(ctx, DataSource{Engine: SQLite, Database: dbtest.Employees(t)}); err != nil {
		t.Errorf("Probe(fixture): %v", err)
	}
	bad, err := ParseURL("sqlite:///bad/path/that/cannot/open")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if err := Probe(ctx, bad); err == nil {
		t.Error("expected Probe to fail for a missing file")
	}
	if err := Probe(ctx, DataSource{}); err == nil {
		t.Error("expected Probe to fail without a source")
	}
}
