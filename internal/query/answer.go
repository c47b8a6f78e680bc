package query

import (
	"fmt"
	"strings"
)

// Mode is the kind of response a caller asked for.
type Mode string

const (
	QueryOnly      Mode = "QUERY_ONLY"
	AnswerOnly     Mode = "ANSWER_ONLY"
	QueryAndAnswer Mode = "QUERY_AND_ANSWER"
)

var (
	answerPhrases = []string{
		"only answer", "just the answer", "only the answer",
		"just answer", "answer only", "no sql", "without sql",
	}
	queryPhrases = []string{
		"sql", "query", "command only", "just the query",
		"show me the query", "give me the sql", "only the sql",
		"only sql", "sql only", "raw query",
	}
)

// DetectMode guesses the response mode from a natural language request.
// Answer phrases are checked first since several contain "sql".
func DetectMode(message string) Mode {
	lower := strings.ToLower(message)
	for _, p := range answerPhrases {
		if strings.Contains(lower, p) {
			return AnswerOnly
		}
	}
	for _, p := range queryPhrases {
		if strings.Contains(lower, p) {
			return QueryOnly
		}
	}
	return QueryAndAnswer
}

// ParseMode accepts a Mode name in any case. Empty means QueryAndAnswer.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return QueryAndAnswer, nil
	case QueryOnly, AnswerOnly, QueryAndAnswer:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Executes reports whether the mode needs the statement to run.
func (m Mode) Executes() bool { return m != QueryOnly }

// AnswerText renders a short human readable summary of res.
func AnswerText(res *Result, explanation string) string {
	if res == nil || res.RowCount == 0 {
		return "The query returned no results."
	}
	if res.RowCount == 1 && len(res.Columns) == 1 {
		return strings.TrimSpace(fmt.Sprintf("%s Result: %s = %s", explanation, res.Columns[0], formatValue(res.Rows[0][0])))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d row(s).\nColumns: %s.", res.RowCount, strings.Join(res.Columns, ", "))
	shown := res.Rows
	if res.RowCount > 5 {
		b.WriteString("\nFirst 3 rows:")
		shown = res.Rows[:3]
	}
	for _, row := range shown {
		b.WriteString("\n  • ")
		for i, v := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(res.Columns[i] + ": " + formatValue(v))
		}
	}
	if res.RowCount > 5 {
		fmt.Fprintf(&b, "\n  … and %d more.", res.RowCount-3)
	}
	return b.String()
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

// Response is what run_query returns: the statement and/or its result,
// depending on Mode.
type Response struct {
	Mode        Mode           `json:"mode"`
	SQL         string         `json:"sql,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Result      *Result        `json:"result,omitempty"`
	AnswerText  string         `json:"answer_text,omitempty"`
}

// BuildResponse assembles a Response for mode. res may be nil when the
// statement was not executed.
func BuildResponse(mode Mode, sql string, params map[string]any, explanation string, res *Result) Response {
	r := Response{Mode: mode, Explanation: explanation}
	if mode == QueryOnly || mode == QueryAndAnswer {
		r.SQL = sql
		r.Params = params
	}
	if (mode == AnswerOnly || mode == QueryAndAnswer) && res != nil {
		r.Result = res
		r.AnswerText = AnswerText(res, explanation)
	}
	return r
}
