package db

import (
	"reflect"
	"testing"
)

func TestBind(t *testing.T) {
	params := map[string]any{"name": "Ada", "min": float64(1000), "ratio": 0.5}
	tests := []struct {
		engine Engine
		in     string
		want   string
		args   []any
	}{
		{Postgres, "SELECT * FROM t WHERE a = :name", "SELECT * FROM t WHERE a = $1", []any{"Ada"}},
		{Postgres, "SELECT :name, :min, :name", "SELECT $1, $2, $1", []any{"Ada", int64(1000)}},
		{SQLServer, "SELECT * FROM t WHERE a = :name AND b > :min", "SELECT * FROM t WHERE a = @p1 AND b > @p2", []any{"Ada", int64(1000)}},
		{SQLite, "SELECT * FROM t WHERE a = :name OR b = :name", "SELECT * FROM t WHERE a = ?1 OR b = ?1", []any{"Ada"}},
		{MySQL, "SELECT * FROM t WHERE a = :name OR b = :name", "SELECT * FROM t WHERE a = ? OR b = ?", []any{"Ada", "Ada"}},
		{Postgres, "SELECT created::date FROM t WHERE r > :ratio", "SELECT created::date FROM t WHERE r > $1", []any{0.5}},
		{Postgres, "SELECT ':name' FROM t", "SELECT ':name' FROM t", nil},
		{Postgres, `SELECT "a:b" FROM t`, `SELECT "a:b" FROM t`, nil},
		{MySQL, "SELECT `x:y` FROM t", "SELECT `x:y` FROM t", nil},
		{SQLite, "SELECT '12:30' AS at", "SELECT '12:30' AS at", nil},
		{SQLite, "no placeholders", "no placeholders", nil},
	}
	for _, tt := range tests {
		got, args, err := Bind(tt.engine, tt.in, params)
		if err != nil {
			t.Errorf("Bind(%s, %q): %v", tt.engine, tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Bind(%s, %q) = %q, want %q", tt.engine, tt.in, got, tt.want)
		}
		if !reflect.DeepEqual(args, tt.args) {
			t.Errorf("Bind(%s, %q) args = %#v, want %#v", tt.engine, tt.in, args, tt.args)
		}
	}
}

func TestBind_missingParam(t *testing.T) {
	if _, _, err := Bind(Postgres, "SELECT * FROM t WHERE a = :missing", nil); err == nil {
		t.Error("expected error for missing parameter")
	}
}
