package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oresults/oresults/internal/document"
)

// Type controls how a field value is coerced before checking and how it is
// stored once valid.
type Type int

const (
	String Type = iota
	Integer
	Bool
	Date
	Ref
	List
	Docs
)

// Kind identifies a check.
type Kind int

const (
	KindMongoID Kind = iota
	KindEmail
	KindBoolean
	KindASCII
	KindArray
	KindLength
	KindInteger
	KindIn
	KindDate
	KindMatches
	KindEach
	KindDocs
)

// Check is a declarative validator binding. Only the parameters relevant to
// Kind are set.
type Check struct {
	Kind    Kind
	Min     int
	Max     int
	Range   Range
	List    []string
	Pattern *regexp.Regexp
	Elem    []Check
	Schema  *Schema
}

func MongoID() Check { return Check{Kind: KindMongoID} }
func Email() Check { return Check{Kind: KindEmail} }
func Boolean() Check { return Check{Kind: KindBoolean} }
func ASCII() Check { return Check{Kind: KindASCII} }
func Array() Check { return Check{Kind: KindArray} }
func Length(min, max int) Check { return Check{Kind: KindLength, Min: min, Max: max} }
func Int(r Range) Check { return Check{Kind: KindInteger, Range: r} }
func In(list ...string) Check { return Check{Kind: KindIn, List: list} }
func DateValue() Check { return Check{Kind: KindDate} }
func Pattern(expr string) Check { return Check{Kind: KindMatches, Pattern: regexp.MustCompile(expr)} }
func Each(checks ...Check) Check { return Check{Kind: KindEach, Elem: checks} }
func EachDoc(schema *Schema) Check { return Check{Kind: KindDocs, Schema: schema} }

func (c Check) apply(value any, field string) []Entry {
	var e Entry
	switch c.Kind {
	case KindMongoID:
		e = IsMongoID(value, field)
	case KindEmail:
		e = IsEmail(value, field)
	case KindBoolean:
		e = IsBoolean(value, field)
	case KindASCII:
		e = IsASCII(value, field)
	case KindArray:
		e = IsArray(value, field)
	case KindLength:
		e = IsLength(value, field, c.Min, c.Max)
	case KindInteger:
		e = IsInteger(value, field, c.Range)
	case KindIn:
		e = IsIn(value, field, c.List)
	case KindDate:
		e = IsDate(value, field)
	case KindMatches:
		e = Matches(value, field, c.Pattern)
	case KindEach:
		return c.each(value, field)
	case KindDocs:
		return c.docs(value, field)
	}
	if e == nil {
		return nil
	}
	return []Entry{e}
}

func (c Check) each(value any, field string) []Entry {
	items, ok := value.([]any)
	if !ok {
		return []Entry{IsArray(value, field)}
	}
	var out []Entry
	for i, item := range items {
		key := fmt.Sprintf("%s[%d]", field, i)
		for _, elem := range c.Elem {
			out = append(out, elem.apply(item, key)...)
		}
	}
	return out
}

func (c Check) docs(value any, field string) []Entry {
	items, ok := value.([]any)
	if !ok {
		return []Entry{IsArray(value, field)}
	}
	var out []Entry
	for i, item := range items {
		key := fmt.Sprintf("%s[%d]", field, i)
		sub, ok := item.(map[string]any)
		if !ok {
			out = append(out, fail(key, item, "Not an object."))
			continue
		}
		res := c.Schema.Validate(sub, sub)
		for _, entry := range Errors(res) {
			for name, v := range entry {
				nested := key + "." + name
				v.Property = nested
				out = append(out, Entry{nested: v})
			}
		}
	}
	return out
}

// Field binds a name to a type and its checks.
type Field struct {
	Name   string
	Type   Type
	Checks []Check
}

// Schema lists the required and optional fields of a resource.
type Schema struct {
	Required []Field
	Optional []Field
}

// Extend returns a copy of s with extra required fields prepended.
func (s *Schema) Extend(required ...Field) *Schema {
	out := &Schema{
		Required: append(append([]Field{}, required...), s.Required...),
		Optional: append([]Field{}, s.Optional...),
	}
	return out
}

// Lookup returns the field named name.
func (s *Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.Required {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range s.Optional {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks required and optional fields and returns a single document
// holding the normalized values plus an "errors" list, which is empty when
// every check passed. Required fields run not-empty first; optional fields
// are only checked when present.
func (s *Schema) Validate(required, optional map[string]any) document.Document {
	out := make(document.Document, len(s.Required)+len(s.Optional)+1)
	errs := make([]Entry, 0)

	for _, f := range s.Required {
		v := f.Coerce(required[f.Name])
		if e := NotEmpty(v, f.Name); e != nil {
			errs = append(errs, e)
			out[f.Name] = v
			continue
		}
		entries := f.check(v)
		errs = append(errs, entries...)
		out[f.Name] = f.store(v, len(entries) == 0)
	}

	for _, f := range s.Optional {
		raw, ok := optional[f.Name]
		if !ok || raw == nil {
			continue
		}
		v := f.Coerce(raw)
		entries := f.check(v)
		errs = append(errs, entries...)
		out[f.Name] = f.store(v, len(entries) == 0)
	}

	out[document.ErrorsKey] = errs
	return out
}

// Errors extracts the error list from a validated document.
func Errors(d document.Document) []Entry {
	errs, _ := d[document.ErrorsKey].([]Entry)
	return errs
}

// Valid reports whether a validated document carries no errors.
func Valid(d document.Document) bool {
	return len(Errors(d)) == 0
}

// Value coerces, checks and normalizes a single raw value for f. It is used
// for lookups and filters that must match the stored representation.
func (f Field) Value(raw any) (any, bool) {
	v := f.Coerce(raw)
	if NotEmpty(v, f.Name) != nil {
		return v, false
	}
	entries := f.check(v)
	return f.store(v, len(entries) == 0), len(entries) == 0
}

func (f Field) check(v any) []Entry {
	var out []Entry
	for _, c := range f.Checks {
		out = append(out, c.apply(v, f.Name)...)
	}
	return out
}

// Coerce converts a raw request value to the form its checks expect: text
// scalars become trimmed lowercase strings and list items are lowercased.
func (f Field) Coerce(v any) any {
	switch f.Type {
	case String, Integer, Date, Ref:
		if s, ok := Text(v); ok {
			return strings.ToLower(strings.TrimSpace(s))
		}
		return v
	case List:
		switch items := v.(type) {
		case []string:
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = strings.ToLower(strings.TrimSpace(item))
			}
			return out
		case []any:
			out := make([]any, len(items))
			for i, item := range items {
				if s, ok := item.(string); ok {
					out[i] = strings.ToLower(strings.TrimSpace(s))
				} else {
					out[i] = item
				}
			}
			return out
		}
		return v
	case Docs:
		if items, ok := v.([]map[string]any); ok {
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = item
			}
			return out
		}
		return v
	}
	return v
}

func (f Field) store(v any, valid bool) any {
	if !valid {
		return v
	}
	switch f.Type {
	case Integer:
		if n, ok := ParseInteger(v); ok {
			return n
		}
	case Date:
		if t, ok := ParseDate(v); ok {
			return t.UTC().Format(time.RFC3339)
		}
	case Docs:
		items, ok := v.([]any)
		if !ok {
			return v
		}
		var sub *Schema
		for _, c := range f.Checks {
			if c.Kind == KindDocs {
				sub = c.Schema
			}
		}
		if sub == nil {
			return v
		}
		out := make([]any, len(items))
		for i, item := range items {
			m, _ := item.(map[string]any)
			res := sub.Validate(m, m)
			delete(res, document.ErrorsKey)
			out[i] = map[string]any(res)
		}
		return out
	}
	return v
}
