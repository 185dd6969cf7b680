// Package resource declares the seven record types served by the API: their
// field schemas, uniqueness groups, lookup keys, and delete semantics.
package resource

import (
	"sort"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/validate"
)

// Resource describes one collection.
type Resource struct {
	// Name is the singular form used in messages.
	Name string
	// Collection is the store collection and URL segment.
	Collection string
	Schema     *validate.Schema
	// UniqueKeys lists field groups that must not repeat among active
	// documents. Any matching group makes a candidate a duplicate.
	UniqueKeys [][]string
	// NaturalKey is an alternate lookup field for GET by identifier.
	NaturalKey string
	HardDelete bool
	// Refs maps reference fields to the collection they point into.
	Refs map[string]string
	// Defaults fills in derived fields before a create is validated.
	Defaults func(doc document.Document)
	// Virtuals adds computed fields to documents on read.
	Virtuals func(doc document.Document)
}

var idField = validate.Field{Name: document.IDKey, Type: validate.Ref, Checks: []validate.Check{validate.MongoID()}}

var activeField = validate.Field{Name: document.ActiveKey, Type: validate.Bool, Checks: []validate.Check{validate.Boolean()}}

// UpdateSchema is Schema plus a required "_id".
func (r *Resource) UpdateSchema() *validate.Schema {
	return r.Schema.Extend(idField)
}

// IDField returns the identifier field definition.
func IDField() validate.Field {
	return idField
}

// RefFields returns the reference field names in a stable order.
func (r *Resource) RefFields() []string {
	fields := make([]string, 0, len(r.Refs))
	for f := range r.Refs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

var registry = map[string]*Resource{}

func register(r *Resource) *Resource {
	registry[r.Collection] = r
	return r
}

// Lookup returns the resource served under collection.
func Lookup(collection string) (*Resource, bool) {
	r, ok := registry[collection]
	return r, ok
}

// All returns every resource ordered by collection name.
func All() []*Resource {
	out := make([]*Resource, 0, len(registry))
	for _, r := range registry {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out
}
