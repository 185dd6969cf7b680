// Package document defines the schemaless record exchanged between the HTTP
// layer, the validation engine, and the stores.
package document

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
)

// Reserved keys.
const (
	IDKey     = "_id"
	AltIDKey  = "id"
	ActiveKey = "active"
	ErrorsKey = "errors"
)

// Document is a string-keyed record.
type Document map[string]any

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// ID returns the document identifier, accepting either "_id" or "id".
func (d Document) ID() string {
	for _, key := range []string{IDKey, AltIDKey} {
		switch v := d[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

// Active reports whether the document is active. Missing means active.
func (d Document) Active() bool {
	v, ok := d[ActiveKey].(bool)
	return !ok || v
}

// Without returns a copy of d without the given keys.
func (d Document) Without(keys ...string) Document {
	out := d.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Equal compares two field values. Numeric kinds compare by value so that
// int64 from a store equals float64 from JSON; strings compare exactly, so
// "007" and "7" are different card numbers.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
