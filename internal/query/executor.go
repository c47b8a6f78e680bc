// Package query executes classified statements against the active database
// under a timeout and a row ceiling, and renders results for callers.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SedlarDavid/querygate/internal/db"
	"github.com/SedlarDavid/querygate/internal/registry"
	"github.com/SedlarDavid/querygate/internal/sqlguard"
)

// Kind classifies an execution failure.
type Kind string

const (
	Timeout     Kind = "Timeout"
	EngineError Kind = "EngineError"
)

// ExecError is returned by Execute. Any failure that is not a timeout is an
// EngineError.
type ExecError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ExecError) Error() string { return string(e.Kind) + ": " + e.Message }

func (e *ExecError) Unwrap() error { return e.Err }

// Result is a materialized, truncated result set. RowCount always equals
// len(Rows).
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// Borrower lends the active driver. *registry.Registry implements it.
type Borrower interface {
	Borrow() (*registry.Handle, error)
}

// Defaults are the configured limits. MaxRowCeiling caps any per-call
// RowCeiling.
type Defaults struct {
	Timeout       time.Duration
	RowCeiling    int
	MaxRowCeiling int
}

// Options override Defaults for one call. Zero values use the defaults.
type Options struct {
	Timeout    time.Duration
	RowCeiling int
}

// Executor runs statements on whatever database is active at call time.
type Executor struct {
	reg      Borrower
	defaults Defaults
	log      *zap.Logger
}

// New returns an Executor. A nil logger discards logs.
func New(reg Borrower, defaults Defaults, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if defaults.MaxRowCeiling <= 0 {
		defaults.MaxRowCeiling = 500
	}
	if defaults.RowCeiling <= 0 || defaults.RowCeiling > defaults.MaxRowCeiling {
		defaults.RowCeiling = defaults.MaxRowCeiling
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	return &Executor{reg: reg, defaults: defaults, log: log}
}

func (e *Executor) resolve(opts Options) (time.Duration, int) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaults.Timeout
	}
	ceiling := opts.RowCeiling
	if ceiling <= 0 {
		ceiling = e.defaults.RowCeiling
	}
	if ceiling > e.defaults.MaxRowCeiling {
		ceiling = e.defaults.MaxRowCeiling
	}
	return timeout, ceiling
}

// Execute binds params into stmt and runs it in a read-only transaction on
// the active database. The handle borrowed for the call is released before
// Execute returns.
func (e *Executor) Execute(ctx context.Context, stmt sqlguard.Statement, params map[string]any, opts Options) (*Result, error) {
	if stmt.IsZero() {
		return nil, &ExecError{Kind: EngineError, Message: "statement was not produced by the classifier"}
	}
	timeout, ceiling := e.resolve(opts)

	h, err := e.reg.Borrow()
	if err != nil {
		return nil, &ExecError{Kind: EngineError, Message: err.Error(), Err: err}
	}
	defer h.Release()
	drv := h.Driver()

	text, args, err := db.Bind(drv.Engine(), stmt.String(), params)
	if err != nil {
		return nil, &ExecError{Kind: EngineError, Message: err.Error(), Err: err}
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := drv.ReadOnlyQuery(qctx, text, args, ceiling)
	log := e.log.With(
		zap.String("generation", h.Generation()),
		zap.String("engine", string(drv.Engine())),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			log.Error("query timed out", zap.Duration("timeout", timeout), zap.String("sql", stmt.String()))
			return nil, &ExecError{
				Kind:    Timeout,
				Message: fmt.Sprintf("query execution timed out after %s", timeout),
				Err:     err,
			}
		}
		log.Error("query failed", zap.String("sql", stmt.String()), zap.Error(err))
		return nil, &ExecError{Kind: EngineError, Message: err.Error(), Err: err}
	}

	res := &Result{Columns: rows.Columns, Rows: rows.Values}
	if res.Columns == nil {
		res.Columns = []string{}
	}
	if len(res.Rows) > ceiling {
		res.Rows = res.Rows[:ceiling]
		rows.More = true
	}
	if res.Rows == nil {
		res.Rows = [][]any{}
	}
	res.RowCount = len(res.Rows)
	res.Truncated = rows.More
	if res.Truncated {
		log.Warn("result exceeded row ceiling; truncated", zap.Int("row_ceiling", ceiling))
	}
	log.Debug("query executed", zap.Int("rows", res.RowCount))
	return res, nil
}
