package resource

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	eventID   = "507f1f77bcf86cd799439011"
	courseID  = "507f1f77bcf86cd799439012"
	studentID = "507f1f77bcf86cd799439013"
	classID   = "507f1f77bcf86cd799439014"
)

func TestRegistry(t *testing.T) {
	all := All()
	require.Len(t, all, 7)
	names := make([]string, len(all))
	for i, r := range all {
		names[i] = r.Collection
	}
	assert.Equal(t, []string{"cards", "classes", "controls", "courses", "events", "results", "students"}, names)

	r, ok := Lookup("students")
	require.True(t, ok)
	assert.Same(t, Student, r)
	_, ok = Lookup("teams")
	assert.False(t, ok)
}

func TestValidDocuments(t *testing.T) {
	tests := []struct {
		res *Resource
		doc map[string]any
	}{
		{Card, map[string]any{"number": "2045000"}},
		{Class, map[string]any{"year": 2024, "semester": "fall", "prefix": "heso", "number": "253", "name": "orienteering", "section": "001"}},
		{Control, map[string]any{"number": 31, "type": "control", "points": 10}},
		{Course, map[string]any{
			"location": "Lake Johnson", "name": "Lake Sprint", "mapdate": "2016-03-01",
			"codename": "ls201631-4821", "type": "score", "inorder": false,
			"controls": []any{map[string]any{"number": 1, "type": "start", "points": 0}},
		}},
		{Event, map[string]any{"location": "umstead park", "name": "Spring Meet", "date": "2016-04-02"}},
		{Result, map[string]any{"event": eventID, "course": courseID, "student": studentID, "card": "2045000", "cn": "31", "time": "2016-04-02T10:31:00Z"}},
		{Student, map[string]any{"unityid": "jqdoe123", "email": "jqdoe123@ncsu.edu", "firstname": "Jane", "lastname": "Doe", "sex": "F", "class": []any{classID}}},
	}
	for _, tt := range tests {
		t.Run(tt.res.Name, func(t *testing.T) {
			out := tt.res.Schema.Validate(tt.doc, tt.doc)
			assert.Empty(t, validate.Errors(out))
		})
	}
}

func TestStudentUnityIDBoundary(t *testing.T) {
	base := map[string]any{"email": "jdoe@ncsu.edu", "firstname": "j", "lastname": "d", "sex": "m", "class": []any{classID}}
	for id, ok := range map[string]bool{"abcdefg": false, "abcdefgh": true, "abcdefghi": false} {
		doc := map[string]any{"unityid": id}
		for k, val := range base {
			doc[k] = val
		}
		errs := validate.Errors(Student.Schema.Validate(doc, doc))
		if ok {
			assert.Empty(t, errs, id)
		} else {
			require.Len(t, errs, 1, id)
			assert.Contains(t, errs[0], "unityid")
		}
	}
}

func TestClassRejectsOutOfRange(t *testing.T) {
	doc := map[string]any{"year": 1999, "semester": "winter", "prefix": "h", "number": "99", "name": "x", "section": "1"}
	errs := validate.Errors(Class.Schema.Validate(doc, doc))
	keys := map[string]bool{}
	for _, e := range errs {
		for k := range e {
			keys[k] = true
		}
	}
	for _, f := range []string{"year", "semester", "prefix", "number", "section"} {
		assert.True(t, keys[f], "expected error for %s", f)
	}
	assert.False(t, keys["name"])
}

func TestUpdateSchemaRequiresID(t *testing.T) {
	doc := map[string]any{"number": "12"}
	errs := validate.Errors(Card.UpdateSchema().Validate(doc, doc))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], document.IDKey)
}

func TestCodename(t *testing.T) {
	date := time.Date(2016, time.March, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "ls201631-4821", Codename("Lake Sprint", date, 4821))
	assert.Equal(t, "abcdef201631-1000", Codename("a b c d e f g h", date, 1000))
	assert.Equal(t, "c201631-1000", Codename("12 34", date, 1000))
}

func TestCourseDefaultsGeneratesValidCodename(t *testing.T) {
	doc := document.Document{"name": "Umstead Long Course", "mapdate": "2016-11-20"}
	Course.Defaults(doc)
	code, ok := doc["codename"].(string)
	require.True(t, ok)
	assert.Regexp(t, regexp.MustCompile(codenamePattern), code)
	assert.True(t, strings.HasPrefix(code, "ulc20161120-"))

	doc = document.Document{"name": "x", "mapdate": "2016-11-20", "codename": "keep"}
	Course.Defaults(doc)
	assert.Equal(t, "keep", doc["codename"])
}

func TestClassTitle(t *testing.T) {
	doc := document.Document{"prefix": "heso", "number": "253", "section": "001", "name": "orienteering", "semester": "fall", "year": int64(2024)}
	Class.Virtuals(doc)
	assert.Equal(t, "heso 253-001 orienteering, fall 2024", doc["title"])
}
