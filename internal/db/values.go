package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Normalize converts a driver value to one of the result scalar kinds:
// nil, bool, int64, float64 or string. Times become RFC 3339 strings and
// byte slices become UTF-8 text with invalid sequences replaced.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, int64:
		return t
	case float64:
		return normalizeFloat(t)
	case string:
		return strings.ToValidUTF8(t, "\uFFFD")
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint64:
		return normalizeUint(t)
	case float32:
		return normalizeFloat(float64(t))
	case []byte:
		return strings.ToValidUTF8(string(t), "\uFFFD")
	case json.RawMessage:
		return strings.ToValidUTF8(string(t), "\uFFFD")
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case uuid.UUID:
		return t.String()
	case [16]byte:
		return uuid.UUID(t).String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case driver.Valuer:
		inner, err := t.Value()
		if err != nil {
			return fmt.Sprint(t)
		}
		if _, same := inner.(driver.Valuer); same {
			return fmt.Sprint(inner)
		}
		return Normalize(inner)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// NaN and infinities have no JSON number form.
func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}

// normalizeColumn applies Normalize with knowledge of the declared column
// type. Text protocols hand numbers back as bytes; those are parsed so that
// numeric columns keep a numeric JSON form.
func normalizeColumn(typeName string, v any) any {
	switch t := v.(type) {
	case []byte:
		if isNumericType(typeName) {
			s := string(t)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return normalizeFloat(f)
			}
		}
	case time.Time:
		if typeName == "DATE" {
			return t.Format(time.DateOnly)
		}
	}
	return Normalize(v)
}

func isNumericType(typeName string) bool {
	switch typeName {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"UNSIGNED INT", "UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED BIGINT",
		"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "MONEY", "SMALLMONEY", "YEAR":
		return true
	}
	return false
}
