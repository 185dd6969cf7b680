package mongostore

import (
	"time"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ToFilter translates a store filter into a BSON query. A malformed
// identifier in the filter is an error.
func ToFilter(f store.Filter) (bson.M, error) {
	filter := bson.M{}
	for k, v := range f.Equals {
		if k == document.IDKey {
			s, _ := v.(string)
			oid, err := bson.ObjectIDFromHex(s)
			if err != nil {
				return nil, err
			}
			filter[k] = oid
			continue
		}
		filter[k] = v
	}
	if f.NotID != "" {
		oid, err := bson.ObjectIDFromHex(f.NotID)
		if err != nil {
			return nil, err
		}
		filter["_id"] = bson.M{"$ne": oid}
	}
	return filter, nil
}

// ToBSON converts a document into a BSON map. Nested documents become
// bson.M and lists become bson.A.
func ToBSON(d document.Document) bson.M {
	m := make(bson.M, len(d))
	for k, v := range d {
		m[k] = toBSONValue(v)
	}
	return m
}

func toBSONValue(v any) any {
	switch x := v.(type) {
	case document.Document:
		return ToBSON(x)
	case map[string]any:
		return ToBSON(x)
	case []any:
		out := make(bson.A, len(x))
		for i, item := range x {
			out[i] = toBSONValue(item)
		}
		return out
	}
	return v
}

// FromBSON converts a decoded BSON document into plain Go values: ObjectIDs
// become hex strings, dates become RFC 3339 strings, 32-bit integers widen
// to int64.
func FromBSON(m bson.M) document.Document {
	d := make(document.Document, len(m))
	for k, v := range m {
		d[k] = fromBSONValue(v)
	}
	return d
}

func fromBSONValue(v any) any {
	switch x := v.(type) {
	case bson.ObjectID:
		return x.Hex()
	case bson.DateTime:
		return x.Time().UTC().Format(time.RFC3339)
	case int32:
		return int64(x)
	case bson.M:
		return map[string]any(FromBSON(x))
	case map[string]any:
		return map[string]any(FromBSON(x))
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = fromBSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = fromBSONValue(item)
		}
		return out
	}
	return v
}
