package db

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bind rewrites :name placeholders in query into the positional form of
// engine and returns the matching argument list. Values are passed to the
// driver as arguments, never spliced into the text. Placeholders inside
// quoted literals and PostgreSQL "::type" casts are left alone.
func Bind(engine Engine, query string, params map[string]any) (string, []any, error) {
	var (
		b       strings.Builder
		args    []any
		indexOf = make(map[string]int)
		quote   byte
	)
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
			continue
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			b.WriteString("::")
			i++
			continue
		case c != ':' || i+1 >= len(query) || !isIdentStart(query[i+1]):
			b.WriteByte(c)
			continue
		}

		j := i + 1
		for j < len(query) && isIdentPart(query[j]) {
			j++
		}
		name := query[i+1 : j]
		val, ok := params[name]
		if !ok {
			return "", nil, fmt.Errorf("missing value for parameter :%s", name)
		}
		val = bindValue(val)

		if engine == MySQL {
			// MySQL placeholders are anonymous; repeat the value per use.
			args = append(args, val)
			b.WriteByte('?')
		} else {
			n, seen := indexOf[name]
			if !seen {
				args = append(args, val)
				n = len(args)
				indexOf[name] = n
			}
			b.WriteString(placeholder(engine, n))
		}
		i = j - 1
	}
	if quote != 0 && len(args) > 0 {
		return "", nil, fmt.Errorf("unterminated literal in parameterized query")
	}
	return b.String(), args, nil
}

func placeholder(engine Engine, n int) string {
	switch engine {
	case Postgres:
		return "$" + strconv.Itoa(n)
	case SQLServer:
		return "@p" + strconv.Itoa(n)
	default:
		return "?" + strconv.Itoa(n)
	}
}

// bindValue narrows JSON decoded numbers so integer comparisons behave.
func bindValue(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
