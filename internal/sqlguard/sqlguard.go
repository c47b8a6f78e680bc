// Package sqlguard decides whether an untrusted SQL string is a single
// read-only SELECT that may be executed. It is a lexical filter, not a
// parser: it never consults a database and never rewrites anything except
// a trailing semicolon and an appended LIMIT clause.
package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultRowLimit is appended to non-aggregate queries when the caller
// passes a non-positive row limit.
const DefaultRowLimit = 50

// ForbiddenKeywords are rejected as whole words in any letter case, at any
// position, including inside string literals.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE",
	"CREATE", "REPLACE", "MERGE", "CALL", "EXEC", "EXECUTE",
	"GRANT", "REVOKE", "COMMIT", "ROLLBACK", "SAVEPOINT",
	"SET", "COPY", "LOAD", "IMPORT",
}

var commentMarkers = []string{"--", "/*", "*/", "#"}

var (
	keywordPatterns  = compileKeywords(ForbiddenKeywords)
	selectPrefix     = regexp.MustCompile(`^SELECT\b`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	limitPattern     = regexp.MustCompile(`(?i)\bLIMIT\s+\d+\b`)
	aggregatePattern = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MIN|MAX|GROUP\s+BY)\b`)
)

func compileKeywords(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`(?i)\b` + w + `\b`)
	}
	return out
}

// Statement is SQL text that passed Classify. The zero value is empty and
// is refused by the executor.
type Statement struct {
	text string
}

// String returns the sanitized SQL text.
func (s Statement) String() string { return s.text }

// IsZero reports whether s was not produced by Classify.
func (s Statement) IsZero() bool { return s.text == "" }

// Kind names why a statement was rejected.
type Kind string

const (
	EmptyInput         Kind = "EmptyInput"
	NotSelect          Kind = "NotSelect"
	ForbiddenKeyword   Kind = "ForbiddenKeyword"
	CommentDetected    Kind = "CommentDetected"
	MultipleStatements Kind = "MultipleStatements"
)

// Rejection is returned by Classify for input that must not run.
type Rejection struct {
	Kind    Kind
	Keyword string // set for ForbiddenKeyword
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(kind Kind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify validates raw and returns the sanitized statement. The checks run
// in a fixed order and the first failing one determines the rejection kind.
// rowLimit is the LIMIT appended to non-aggregate queries that carry none.
func Classify(raw string, rowLimit int) (Statement, error) {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}

	sql := strings.TrimSpace(raw)
	if sql == "" {
		return Statement{}, reject(EmptyInput, "SQL query is empty")
	}

	sql = stripTrailingSemicolon(sql)

	normalized := strings.ToUpper(whitespaceRun.ReplaceAllString(sql, " "))
	if !selectPrefix.MatchString(normalized) {
		return Statement{}, reject(NotSelect, "only SELECT statements are permitted, got %q", preview(sql, 60))
	}

	for i, re := range keywordPatterns {
		if re.MatchString(sql) {
			r := reject(ForbiddenKeyword, "forbidden keyword detected: %s", ForbiddenKeywords[i])
			r.Keyword = ForbiddenKeywords[i]
			return Statement{}, r
		}
	}

	for _, m := range commentMarkers {
		if strings.Contains(sql, m) {
			return Statement{}, reject(CommentDetected, "SQL comments are not permitted")
		}
	}

	if hasStatementSeparator(sql) {
		return Statement{}, reject(MultipleStatements, "multiple SQL statements are not permitted")
	}

	if !aggregatePattern.MatchString(sql) && !limitPattern.MatchString(sql) {
		sql = strings.TrimRightFunc(sql, unicode.IsSpace) + " LIMIT " + strconv.Itoa(rowLimit)
	}
	return Statement{text: sql}, nil
}

// stripTrailingSemicolon removes one terminating semicolon and the
// whitespace around it.
func stripTrailingSemicolon(sql string) string {
	s := strings.TrimRightFunc(sql, unicode.IsSpace)
	if strings.HasSuffix(s, ";") {
		s = strings.TrimRightFunc(s[:len(s)-1], unicode.IsSpace)
	}
	return s
}

// hasStatementSeparator reports whether sql contains a semicolon outside
// quoted literals. Literals are scanned twice, once with standard doubled
// quote escapes only and once also honouring backslash escapes, so text
// that splits differently under the two conventions is refused.
func hasStatementSeparator(sql string) bool {
	return scanSemicolon(sql, false) || scanSemicolon(sql, true)
}

func scanSemicolon(sql string, backslash bool) bool {
	var quote byte
	sawInLiteral := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote == 0 {
			switch c {
			case '\'', '"':
				quote = c
				sawInLiteral = false
			case ';':
				return true
			}
			continue
		}
		switch {
		case backslash && c == '\\':
			i++
		case c == quote:
			if i+1 < len(sql) && sql[i+1] == quote {
				i++
				continue
			}
			quote = 0
		case c == ';':
			sawInLiteral = true
		}
	}
	// An unterminated literal leaves the boundary of the statement unknown.
	return quote != 0 && sawInLiteral
}

// preview returns at most the first n runes of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
