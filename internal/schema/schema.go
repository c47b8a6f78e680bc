// Package schema renders a compact text summary of the active database's
// tables, columns and foreign keys. The summary is advisory context for
// whoever writes the SQL; nothing in querygate trusts it.
package schema

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/SedlarDavid/querygate/internal/db"
	"github.com/SedlarDavid/querygate/internal/registry"
)

// IgnoredTables are migration bookkeeping tables left out of summaries.
var IgnoredTables = map[string]bool{
	"__EFMigrationsHistory": true,
	"alembic_version":       true,
	"schema_migrations":     true,
	"goose_db_version":      true,
	"flyway_schema_history": true,
}

// IgnoredColumns are audit columns left out of summaries. Keys are lower
// case; matching is case-insensitive.
var IgnoredColumns = map[string]bool{
	"insertedby":       true,
	"inserteddatetime": true,
	"updatedby":        true,
	"updateddatetime":  true,
}

// Summarize describes every non-ignored table of d:
//
//	Table: "employees"
//	  - "id" (INTEGER)
//	  FK: "employees"."dept_id" -> "departments"."id"
//
// Tables are separated by a blank line.
func Summarize(ctx context.Context, d db.Driver) (string, error) {
	tables, err := d.Tables(ctx)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	var b strings.Builder
	for _, t := range tables {
		if IgnoredTables[t] {
			continue
		}
		cols, err := d.DescribeTable(ctx, t)
		if err != nil {
			return "", fmt.Errorf("describe %s: %w", t, err)
		}
		fks, err := d.ForeignKeys(ctx, t)
		if err != nil {
			return "", fmt.Errorf("foreign keys of %s: %w", t, err)
		}

		fmt.Fprintf(&b, "Table: %q\n", t)
		for _, c := range cols {
			if IgnoredColumns[strings.ToLower(c.Name)] {
				continue
			}
			fmt.Fprintf(&b, "  - %q (%s)\n", c.Name, c.Type)
		}
		for _, fk := range fks {
			fmt.Fprintf(&b, "  FK: %q.%q -> %q.%q\n", t, fk.Column, fk.RefTable, fk.RefColumn)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// Introspector summarizes whichever database is active at call time.
type Introspector struct {
	reg *registry.Registry
	log *zap.Logger
}

// NewIntrospector returns an Introspector over reg.
func NewIntrospector(reg *registry.Registry, log *zap.Logger) *Introspector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Introspector{reg: reg, log: log}
}

// Summary borrows the active driver for the length of one Summarize call.
func (in *Introspector) Summary(ctx context.Context) (string, error) {
	h, err := in.reg.Borrow()
	if err != nil {
		return "", err
	}
	defer h.Release()
	s, err := Summarize(ctx, h.Driver())
	if err != nil {
		in.log.Warn("schema summary failed", zap.String("generation", h.Generation()), zap.Error(err))
		return "", err
	}
	return s, nil
}
