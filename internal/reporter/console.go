// Package reporter prints querygate results for humans on a terminal.
package reporter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/SedlarDavid/querygate/internal/query"
	"github.com/SedlarDavid/querygate/internal/registry"
	"github.com/SedlarDavid/querygate/internal/sqlguard"
)

type ConsoleReporter struct {
	out io.Writer
}

func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{out: os.Stdout}
}

// NewWriterReporter writes to w instead of stdout.
func NewWriterReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: w}
}

// Accepted prints the sanitized statement.
func (r *ConsoleReporter) Accepted(stmt sqlguard.Statement) {
	fmt.Fprintf(r.out, "%s %s\n", color.GreenString("✔ accepted:"), color.CyanString(stmt.String()))
}

// Failure prints a rejection, execution or attach error with its kind.
func (r *ConsoleReporter) Failure(err error) {
	var (
		rej  *sqlguard.Rejection
		exec *query.ExecError
		att  *registry.AttachError
	)
	bold := color.New(color.FgRed, color.Bold)
	switch {
	case errors.As(err, &rej):
		fmt.Fprintf(r.out, "%s [%s] %s\n", color.RedString("✘ rejected:"), bold.Sprint(rej.Kind), rej.Message)
	case errors.As(err, &exec):
		fmt.Fprintf(r.out, "%s [%s] %s\n", color.RedString("✘ failed:"), bold.Sprint(exec.Kind), exec.Message)
	case errors.As(err, &att):
		fmt.Fprintf(r.out, "%s [%s] %v\n", color.RedString("✘ attach failed:"), bold.Sprint(att.Kind), att.Err)
	default:
		fmt.Fprintf(r.out, "%s %v\n", color.RedString("✘"), err)
	}
}

// Result prints res as an aligned table followed by a row count.
func (r *ConsoleReporter) Result(res *query.Result) error {
	// Escape codes would skew tabwriter's widths, so cells stay uncoloured.
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = truncate(fmt.Sprint(v), 60)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "\n(%d row(s))\n", res.RowCount)
	if res.Truncated {
		fmt.Fprintln(r.out, color.YellowString("⚠ result truncated at the row ceiling"))
	}
	return nil
}

// Database prints the active database descriptor.
func (r *ConsoleReporter) Database(d registry.Descriptor) {
	status := color.GreenString(string(d.Status))
	if d.Status != registry.StatusConnected {
		status = color.RedString(string(d.Status))
	}
	fmt.Fprintf(r.out, "Status:     %s\n", status)
	if d.Status == registry.StatusNone {
		return
	}
	fmt.Fprintf(r.out, "URL:        %s\n", d.MaskedURL)
	fmt.Fprintf(r.out, "Engine:     %s\n", d.Engine)
	fmt.Fprintf(r.out, "Origin:     %s\n", d.Origin)
	fmt.Fprintf(r.out, "Generation: %s\n", d.Generation)
	keys := make([]string, 0, len(d.Details))
	for k := range d.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "  %s: %s\n", k, d.Details[k])
	}
}

// Text prints s as is.
func (r *ConsoleReporter) Text(s string) {
	fmt.Fprintln(r.out, s)
}

// truncate cuts s to max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max]) + "..."
	}
	return s
}
