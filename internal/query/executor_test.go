package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SedlarDavid/querygate/internal/db"
	"github.com/SedlarDavid/querygate/internal/db/dbtest"
	"github.com/SedlarDavid/querygate/internal/registry"
	"github.com/SedlarDavid/querygate/internal/sqlguard"
)

func sqliteRegistry(t *testing.T, path string) *registry.Registry {
	t.Helper()
	src, err := db.ParseURL("sqlite:///" + path)
	if err != nil {
		t.Fatal(err)
	}
	r := registry.New(src)
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func classify(t *testing.T, sql string, limit int) sqlguard.Statement {
	t.Helper()
	stmt, err := sqlguard.Classify(sql, limit)
	if err != nil {
		t.Fatalf("Classify(%q): %v", sql, err)
	}
	return stmt
}

func TestExecute_aggregate(t *testing.T) {
	ex := New(sqliteRegistry(t, dbtest.Employees(t)), Defaults{}, nil)
	stmt := classify(t, "SELECT SUM(salary) AS total FROM employees", 50)
	if stmt.String() != "SELECT SUM(salary) AS total FROM employees" {
		t.Fatalf("classifier changed aggregate: %q", stmt)
	}
	res, err := ex.Execute(context.Background(), stmt, nil, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Columns) != 1 || res.Columns[0] != "total" {
		t.Errorf("Columns = %v", res.Columns)
	}
	if res.RowCount != 1 || res.Rows[0][0] != int64(145000) || res.Truncated {
		t.Errorf("Result = %+v", res)
	}
}

func TestExecute_params(t *testing.T) {
	ex := New(sqliteRegistry(t, dbtest.Employees(t)), Defaults{}, nil)
	stmt := classify(t, "SELECT name FROM employees WHERE salary > :min ORDER BY name", 50)
	params := map[string]any{"min": float64(70000)}
	res, err := ex.Execute(context.Background(), stmt, params, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowCount != 1 || res.Rows[0][0] != "Grace" {
		t.Errorf("Rows = %v", res.Rows)
	}
	if params["min"] != float64(70000) {
		t.Error("Execute mutated params")
	}
}

func TestExecute_rowCeiling(t *testing.T) {
	ex := New(sqliteRegistry(t, dbtest.Numbers(t, 600)), Defaults{RowCeiling: 50, MaxRowCeiling: 500}, nil)
	tests := []struct {
		name      string
		limit     int
		opts      Options
		wantRows  int
		truncated bool
	}{
		{"classifier limit below ceiling", 10, Options{}, 10, false},
		{"ceiling below classifier limit", 600, Options{RowCeiling: 100}, 100, true},
		{"ceiling capped at max", 600, Options{RowCeiling: 10000}, 500, true},
		{"default ceiling", 600, Options{}, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := classify(t, "SELECT n FROM numbers ORDER BY n", tt.limit)
			res, err := ex.Execute(context.Background(), stmt, nil, tt.opts)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.RowCount != tt.wantRows || len(res.Rows) != tt.wantRows || res.Truncated != tt.truncated {
				t.Errorf("RowCount=%d len=%d Truncated=%v", res.RowCount, len(res.Rows), res.Truncated)
			}
			for _, row := range res.Rows {
				if len(row) != len(res.Columns) {
					t.Fatalf("row width %d, columns %d", len(row), len(res.Columns))
				}
			}
		})
	}
}

func TestExecute_engineError(t *testing.T) {
	ex := New(sqliteRegistry(t, dbtest.Employees(t)), Defaults{}, nil)
	res, err := ex.Execute(context.Background(), classify(t, "SELECT * FROM missing_table", 50), nil, Options{})
	var ee *ExecError
	if !errors.As(err, &ee) || ee.Kind != EngineError {
		t.Fatalf("err = %v, want EngineError", err)
	}
	if res != nil {
		t.Errorf("Result = %+v, want nil", res)
	}
}

func TestExecute_missingParam(t *testing.T) {
	ex := New(sqliteRegistry(t, dbtest.Employees(t)), Defaults{}, nil)
	_, err := ex.Execute(context.Background(), classify(t, "SELECT * FROM employees WHERE id = :id", 50), nil, Options{})
	var ee *ExecError
	if !errors.As(err, &ee) || ee.Kind != EngineError {
		t.Fatalf("err = %v, want EngineError", err)
	}
}

func TestExecute_notAttached(t *testing.T) {
	ex := New(registry.New(db.DataSource{}), Defaults{}, nil)
	_, err := ex.Execute(context.Background(), classify(t, "SELECT 1", 50), nil, Options{})
	var ee *ExecError
	if !errors.As(err, &ee) || ee.Kind != EngineError || !errors.Is(err, registry.ErrNotAttached) {
		t.Fatalf("err = %v, want EngineError wrapping ErrNotAttached", err)
	}
}

func TestExecute_zeroStatement(t *testing.T) {
	ex := New(registry.New(db.DataSource{}), Defaults{}, nil)
	if _, err := ex.Execute(context.Background(), sqlguard.Statement{}, nil, Options{}); err == nil {
		t.Error("expected error for zero Statement")
	}
}

// blockingDriver never returns from ReadOnlyQuery until its context ends.
type blockingDriver struct{}

func (blockingDriver) Engine() db.Engine                        { return db.Postgres }
func (blockingDriver) Ping(context.Context) error               { return nil }
func (blockingDriver) Close() error                             { return nil }
func (blockingDriver) Tables(context.Context) ([]string, error) { return nil, nil }
func (blockingDriver) DescribeTable(context.Context, string) ([]db.ColumnInfo, error) {
	return nil, nil
}
func (blockingDriver) ForeignKeys(context.Context, string) ([]db.ForeignKey, error) {
	return nil, nil
}
func (blockingDriver) ReadOnlyQuery(ctx context.Context, _ string, _ []any, _ int) (*db.Rows, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type blockingOpener struct{}

func (blockingOpener) Probe(context.Context, db.DataSource) error { return nil }
func (blockingOpener) Open(context.Context, db.DataSource, db.PoolOptions) (db.Driver, error) {
	return blockingDriver{}, nil
}

func TestExecute_timeout(t *testing.T) {
	src, _ := db.ParseURL("postgres://u@localhost/slow")
	reg := registry.New(src, registry.WithOpener(blockingOpener{}))
	if err := reg.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	ex := New(reg, Defaults{Timeout: time.Minute}, nil)

	start := time.Now()
	_, err := ex.Execute(context.Background(), classify(t, "SELECT pg_sleep(60)", 50), nil, Options{Timeout: 50 * time.Millisecond})
	var ee *ExecError
	if !errors.As(err, &ee) || ee.Kind != Timeout {
		t.Fatalf("err = %v, want Timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestExecute_cancelledIsEngineError(t *testing.T) {
	src, _ := db.ParseURL("postgres://u@localhost/slow")
	reg := registry.New(src, registry.WithOpener(blockingOpener{}))
	if err := reg.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	ex := New(reg, Defaults{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Execute(ctx, classify(t, "SELECT 1", 50), nil, Options{})
	var ee *ExecError
	if !errors.As(err, &ee) || ee.Kind != EngineError {
		t.Fatalf("err = %v, want EngineError", err)
	}
}
