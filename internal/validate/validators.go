// Package validate provides field validators and a declarative schema engine
// that turns raw request fields into a normalized document carrying a list of
// per-field errors. Validators never return Go errors: a nil Entry means the
// value passed.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Violation describes one failed check.
type Violation struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
	Message  string `json:"message"`
}

// Entry maps a field name to its violation.
type Entry map[string]Violation

func fail(field string, value any, message string) Entry {
	return Entry{field: {Property: field, Value: value, Message: message}}
}

var (
	mongoIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	emailPattern   = regexp.MustCompile(`^[a-z0-9._%+-]{1,50}@[a-z0-9.-]{1,25}\.[a-z]{2,6}$`)
)

// Range is an inclusive integer interval.
type Range struct {
	Min int64
	Max int64
}

// AnyInt accepts every int64.
var AnyInt = Range{Min: math.MinInt64, Max: math.MaxInt64}

// AtLeast returns the interval [n, MaxInt64].
func AtLeast(n int64) Range { return Range{Min: n, Max: math.MaxInt64} }

// Between returns the interval [lo, hi].
func Between(lo, hi int64) Range { return Range{Min: lo, Max: hi} }

// NotEmpty fails for nil, blank strings and empty sequences.
func NotEmpty(value any, field string) Entry {
	if value == nil {
		return fail(field, value, "Required value.")
	}
	if s, ok := value.(string); ok {
		if strings.TrimSpace(s) == "" {
			return fail(field, value, "Required value.")
		}
		return nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		if rv.Len() == 0 {
			return fail(field, value, "Required value.")
		}
	}
	return nil
}

// IsMongoID requires a 24 character hexadecimal identifier.
func IsMongoID(value any, field string) Entry {
	s, ok := value.(string)
	if !ok || !mongoIDPattern.MatchString(s) {
		return fail(field, value, "The Mongo Id is not valid.")
	}
	return nil
}

// IsEmail requires a conventional lowercase email address.
func IsEmail(value any, field string) Entry {
	s, ok := value.(string)
	if !ok || !emailPattern.MatchString(s) {
		return fail(field, value, "The email address is not valid.")
	}
	return nil
}

// IsBoolean requires a boolean value. Strings such as "true" are rejected.
func IsBoolean(value any, field string) Entry {
	if _, ok := value.(bool); !ok {
		return fail(field, value, "Not a boolean.")
	}
	return nil
}

// IsASCII requires a string made only of 7-bit characters.
func IsASCII(value any, field string) Entry {
	s, ok := value.(string)
	if !ok {
		return fail(field, value, "Not an ASCII string.")
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return fail(field, value, "Not an ASCII string.")
		}
	}
	return nil
}

// IsArray requires a slice or array.
func IsArray(value any, field string) Entry {
	if value == nil {
		return fail(field, value, "Not an array.")
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return nil
	}
	return fail(field, value, "Not an array.")
}

// IsLength requires the textual form of value to have between min and max
// characters inclusive.
func IsLength(value any, field string, min, max int) Entry {
	s, ok := Text(value)
	if !ok {
		return fail(field, value, "Not a string.")
	}
	n := utf8.RuneCountInString(s)
	if n < min || n > max {
		if min == max {
			return fail(field, value, fmt.Sprintf("Must be exactly %d characters.", min))
		}
		return fail(field, value, fmt.Sprintf("Must be between %d and %d characters.", min, max))
	}
	return nil
}

// IsInteger requires an integral number (or numeric string) inside r.
func IsInteger(value any, field string, r Range) Entry {
	n, ok := ParseInteger(value)
	if !ok {
		return fail(field, value, "Not an integer.")
	}
	if n < r.Min || n > r.Max {
		switch {
		case r.Max == math.MaxInt64:
			return fail(field, value, fmt.Sprintf("Must be at least %d.", r.Min))
		case r.Min == math.MinInt64:
			return fail(field, value, fmt.Sprintf("Must be at most %d.", r.Max))
		default:
			return fail(field, value, fmt.Sprintf("Must be between %d and %d.", r.Min, r.Max))
		}
	}
	return nil
}

// IsIn requires value to be one of list.
func IsIn(value any, field string, list []string) Entry {
	s, ok := value.(string)
	if !ok || !slices.Contains(list, s) {
		return fail(field, value, "The value was not in the list of choices.")
	}
	return nil
}

// IsDate requires a value that parses as a calendar date.
func IsDate(value any, field string) Entry {
	if _, ok := ParseDate(value); !ok {
		return fail(field, value, "Not a valid date.")
	}
	return nil
}

// Matches requires the textual form of value to match re.
func Matches(value any, field string, re *regexp.Regexp) Entry {
	s, ok := Text(value)
	if !ok || !re.MatchString(s) {
		return fail(field, value, "Does not match the expected format.")
	}
	return nil
}

// Text returns the string form of scalar values.
func Text(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

// ParseInteger converts integral numbers and numeric strings to int64.
func ParseInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate parses time.Time values and strings in the accepted layouts.
// Matching is case-insensitive so lowercased input still parses.
func ParseDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		s := strings.TrimSpace(v)
		for _, candidate := range []string{s, strings.ToUpper(s)} {
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, candidate); err == nil {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}
