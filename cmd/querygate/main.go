// Package main runs querygate: an MCP stdio server (serve) and a small CLI
// for checking and running read-only SQL against the configured database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SedlarDavid/querygate/internal/config"
	"github.com/SedlarDavid/querygate/internal/logging"
	"github.com/SedlarDavid/querygate/internal/query"
	"github.com/SedlarDavid/querygate/internal/registry"
	"github.com/SedlarDavid/querygate/internal/reporter"
	"github.com/SedlarDavid/querygate/internal/schema"
	mcpserver "github.com/SedlarDavid/querygate/internal/server"
	"github.com/SedlarDavid/querygate/internal/sqlguard"
)

var (
	configPath string
	rowLimit   int
	timeout    time.Duration
	params     map[string]string
	attachFile string
)

var rootCmd = &cobra.Command{
	Use:   "querygate",
	Short: "Read-only SQL gateway for language model generated queries",
	Long: `querygate accepts untrusted SQL, verifies it is a single side-effect-free
SELECT, runs it against one switchable database under a timeout and a row
ceiling, and returns structured results. "serve" exposes this as MCP tools
over stdio.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdin/stdout",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check <sql>",
	Short: "Classify SQL without touching a database",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Classify and run SQL against the configured database",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the schema summary of the configured database",
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured database and whether it is reachable",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $QUERYGATE_CONFIG or ~/.querygate/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&attachFile, "file", "f", "", "Use this SQLite file instead of the configured database")

	checkCmd.Flags().IntVarP(&rowLimit, "limit", "l", 0, "LIMIT appended to non-aggregate queries (default from config)")
	queryCmd.Flags().IntVarP(&rowLimit, "limit", "l", 0, "Row ceiling for this query (default from config)")
	queryCmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Query timeout (default from config)")
	queryCmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Named parameter, repeatable: -p min=1000")

	rootCmd.AddCommand(serveCmd, checkCmd, queryCmd, schemaCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// app wires the services every database command needs.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	reg    *registry.Registry
	exec   *query.Executor
	schema *schema.Introspector
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogOptions())
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	src, err := cfg.DefaultSource()
	if err != nil {
		return nil, err
	}
	reg := registry.New(src,
		registry.WithLogger(log),
		registry.WithPoolOptions(cfg.PoolOptions()),
		registry.WithUploadDir(cfg.UploadDir),
	)
	if attachFile != "" {
		if err := reg.AttachFile(ctx, attachFile); err != nil {
			return nil, err
		}
	} else if err := reg.Init(ctx); err != nil {
		// The server stays up so a client can attach another database.
		log.Warn("default database unreachable; starting without an active database", zap.Error(err))
	}
	return &app{
		cfg: cfg,
		log: log,
		reg: reg,
		exec: query.New(reg, query.Defaults{
			Timeout:       cfg.QueryTimeout,
			RowCeiling:    cfg.MaxRowLimit,
			MaxRowCeiling: cfg.MaxRowLimit,
		}, log),
		schema: schema.NewIntrospector(reg, log),
	}, nil
}

func (a *app) Close() {
	if err := a.reg.Close(); err != nil {
		a.log.Warn("closing database pools", zap.Error(err))
	}
	_ = a.log.Sync()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.New(&mcpserver.Deps{
		Registry:  a.reg,
		Executor:  a.exec,
		Schema:    a.schema,
		RowLimit:  a.cfg.DefaultRowLimit,
		UploadDir: a.cfg.UploadDir,
		Log:       a.log,
	})
	stdio := server.NewStdioServer(srv)
	stdio.SetErrorLogger(zap.NewStdLog(a.log))

	a.log.Info("serving MCP on stdio", zap.Object("default", a.reg.DefaultSource()))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func runCheck(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	limit := rowLimit
	if limit <= 0 {
		limit = cfg.DefaultRowLimit
	}
	rpt := reporter.NewConsoleReporter()
	stmt, err := sqlguard.Classify(args[0], limit)
	if err != nil {
		rpt.Failure(err)
		return err
	}
	rpt.Accepted(stmt)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rpt := reporter.NewConsoleReporter()
	stmt, err := sqlguard.Classify(args[0], a.cfg.DefaultRowLimit)
	if err != nil {
		rpt.Failure(err)
		return err
	}
	res, err := a.exec.Execute(cmd.Context(), stmt, decodeParams(params), query.Options{Timeout: timeout, RowCeiling: rowLimit})
	if err != nil {
		rpt.Failure(err)
		return err
	}
	return rpt.Result(res)
}

// decodeParams reads each value as JSON when it parses ("42", "true",
// "null") and as a plain string otherwise.
func decodeParams(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
			continue
		}
		out[k] = v
	}
	return out
}

func runSchema(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.schema.Summary(cmd.Context())
	if err != nil {
		reporter.NewConsoleReporter().Failure(err)
		return err
	}
	reporter.NewConsoleReporter().Text(s)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	a.reg.Health(cmd.Context())
	reporter.NewConsoleReporter().Database(a.reg.Current())
	return nil
}
