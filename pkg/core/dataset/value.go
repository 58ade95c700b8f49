package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are tried in order when a string is cast to a timestamp.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// AsFloat casts a value to float64. Strings are parsed; anything else that is
// not numeric reports false. NaN is treated as null.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case float32:
		if math.IsNaN(float64(x)) {
			return 0, false
		}
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsString renders a value as text. Null reports false.
func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return x.Format(time.RFC3339), true
	default:
		return "", false
	}
}

// AsTime casts a value to a timestamp without failing: values that cannot be
// interpreted as a point in time report false and count as null.
func AsTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// IsNull reports whether a value counts as missing.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	default:
		return false
	}
}

// Compare orders two non-null values: -1 if a < b, 0 if equal, 1 if a > b.
// Numbers compare numerically, timestamps chronologically, everything else
// falls back to string comparison.
func Compare(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := AsTime(b); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			}
			return 0
		}
	}

	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}

	_, aString := a.(string)
	_, bString := b.(string)
	if !aString || !bString {
		fa, okA := AsFloat(a)
		fb, okB := AsFloat(b)
		if okA && okB {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}

	sa, _ := AsString(a)
	sb, _ := AsString(b)
	return strings.Compare(sa, sb)
}
