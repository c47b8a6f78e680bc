package db

import "testing"

func TestRewriteLimitToTop(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT name FROM employees LIMIT 50", "SELECT TOP (50) name FROM employees"},
		{"select distinct dept from employees limit 5", "SELECT distinct TOP (5) dept from employees"},
		{"SELECT a,\n b FROM t WHERE x = @p1\nLIMIT 10", "SELECT TOP (10) a,\n b FROM t WHERE x = @p1"},
		{"SELECT SUM(salary) FROM employees", "SELECT SUM(salary) FROM employees"},
		{"SELECT * FROM (SELECT a FROM t LIMIT 3) s", "SELECT * FROM (SELECT a FROM t LIMIT 3) s"},
		{"SELECT TOP 5 a FROM t LIMIT 50", "SELECT TOP 5 a FROM t"},
		{"SELECT DISTINCT top (5) a FROM t LIMIT 50", "SELECT DISTINCT top (5) a FROM t"},
		{"SELECT a FROM (SELECT TOP 3 a FROM t) s LIMIT 50", "SELECT TOP (50) a FROM (SELECT TOP 3 a FROM t) s"},
	}
	for _, tt := range tests {
		got := rewriteLimitToTop(tt.in)
		if got != tt.want {
			t.Errorf("rewriteLimitToTop(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
