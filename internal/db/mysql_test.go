package db

import "testing"

func TestStatementChecker(t *testing.T) {
	c := newStatementChecker()
	tests := []struct {
		sql     string
		wantErr bool
	}{
		{"SELECT * FROM t WHERE a = ? LIMIT 50", false},
		{"SELECT a FROM t UNION SELECT b FROM u", false},
		{"SELECT 1; SELECT 2", true},
		{"SELECT * FROM t WHERE name = 'x\\'; SELECT 1 '", false},
		{"SELECT 'a\\'b' FROM t; DELETE FROM t", true},
		{"DELETE FROM t", true},
		{"SELECT this is not sql ((", false},
	}
	for _, tt := range tests {
		err := c.check(tt.sql)
		if (err != nil) != tt.wantErr {
			t.Errorf("check(%q) err = %v, wantErr %v", tt.sql, err, tt.wantErr)
		}
	}
}
