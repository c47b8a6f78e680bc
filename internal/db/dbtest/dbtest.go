// Package dbtest builds SQLite fixture files for tests.
package dbtest

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite"
)

// EmployeesSchema creates departments and employees with a foreign key
// between them and two audit columns.
var EmployeesSchema = []string{
	`CREATE TABLE departments (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE employees (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		salary INTEGER NOT NULL,
		hired DATE,
		dept_id INTEGER REFERENCES departments(id),
		InsertedBy TEXT,
		UpdatedDateTime TEXT
	)`,
	`INSERT INTO departments (id, name) VALUES (1, 'Engineering'), (2, 'Sales')`,
	`INSERT INTO employees (id, name, salary, hired, dept_id) VALUES
		(1, 'Ada', 60000, '2021-03-01', 1),
		(2, 'Grace', 85000, '2019-07-15', 2)`,
}

// SQLiteFile writes a new database file in a temp dir, runs stmts against
// it and returns its path. The file is closed before returning so callers
// can reopen it read-only.
func SQLiteFile(t testing.TB, name string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("fixture %q: %v", s, err)
		}
	}
	return path
}

// Employees returns a fixture file built from EmployeesSchema.
func Employees(t testing.TB) string {
	t.Helper()
	return SQLiteFile(t, "employees.db", EmployeesSchema...)
}

// Numbers returns a fixture with a single table "numbers" holding n rows
// whose column "n" counts from 1.
func Numbers(t testing.TB, n int) string {
	t.Helper()
	path := SQLiteFile(t, "numbers.db", `CREATE TABLE numbers (n INTEGER NOT NULL)`)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 1; i <= n; i++ {
		if _, err := tx.Exec(`INSERT INTO numbers (n) VALUES (?)`, i); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return path
}

// Gzip compresses data into a new temp dir as name and returns its path.
func Gzip(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip %s: %v", name, err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip %s: %v", name, err)
	}
	return path
}

// GzipFile compresses the file at src as name.
func GzipFile(t testing.TB, name, src string) string {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read %s: %v", src, err)
	}
	return Gzip(t, name, data)
}
