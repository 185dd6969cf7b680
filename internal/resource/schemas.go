package resource

import (
	"fmt"

	"github.com/oresults/oresults/internal/document"
	v "github.com/oresults/oresults/internal/validate"
)

var (
	Locations    = []string{"lake raleigh", "lake johnson", "schenck forest", "umstead park"}
	Semesters    = []string{"fall", "spring", "summer 1", "summer 2"}
	ControlTypes = []string{"start", "control", "station", "clear", "finish"}
	CourseTypes  = []string{"score", "classic"}
	Sexes        = []string{"m", "f", "male", "female"}
)

const (
	namePattern     = `^[a-z0-9 ]{1,50}$`
	codenamePattern = `^[a-z]{1,6}[0-9]{1,8}-[0-9]{4}$`
)

func idList(name string) v.Field {
	return v.Field{Name: name, Type: v.List, Checks: []v.Check{v.Array(), v.Each(v.MongoID())}}
}

var Card = register(&Resource{
	Name:       "card",
	Collection: "cards",
	Schema: &v.Schema{
		Required: []v.Field{
			{Name: "number", Type: v.String, Checks: []v.Check{v.Int(v.AtLeast(0)), v.Length(1, 7)}},
		},
		Optional: []v.Field{activeField},
	},
	UniqueKeys: [][]string{{"number"}},
	NaturalKey: "number",
})

var Class = register(&Resource{
	Name:       "class",
	Collection: "classes",
	Schema: &v.Schema{
		Required: []v.Field{
			{Name: "year", Type: v.Integer, Checks: []v.Check{v.Int(v.Between(2000, 2100))}},
			{Name: "semester", Type: v.String, Checks: []v.Check{v.In(Semesters...)}},
			{Name: "prefix", Type: v.String, Checks: []v.Check{v.ASCII(), v.Length(2, 6)}},
			{Name: "number", Type: v.String, Checks: []v.Check{v.Int(v.Between(100, 999))}},
			{Name: "name", Type: v.String, Checks: []v.Check{v.Length(1, 50)}},
			{Name: "section", Type: v.String, Checks: []v.Check{v.Int(v.Between(1, 999)), v.Length(3, 3)}},
		},
		Optional: []v.Field{activeField},
	},
	UniqueKeys: [][]string{{"year", "semester", "prefix", "number", "name", "section"}},
	Virtuals: func(doc document.Document) {
		doc["title"] = fmt.Sprintf("%v %v-%v %v, %v %v",
			doc["prefix"], doc["number"], doc["section"], doc["name"], doc["semester"], doc["year"])
	},
})

var Control = register(&Resource{
	Name:       "control",
	Collection: "controls",
	Schema: &v.Schema{
		Required: []v.Field{
			{Name: "number", Type: v.Integer, Checks: []v.Check{v.Int(v.AtLeast(1))}},
			{Name: "type", Type: v.String, Checks: []v.Check{v.In(ControlTypes...)}},
			{Name: "points", Type: v.Integer, Checks: []v.Check{v.Int(v.AtLeast(0))}},
		},
		Optional: []v.Field{activeField},
	},
	UniqueKeys: [][]string{{"number"}},
	NaturalKey: "number",
})

var courseControl = &v.Schema{
	Required: []v.Field{
		{Name: "number", Type: v.Integer, Checks: []v.Check{v.Int(v.AtLeast(1))}},
		{Name: "type", Type: v.String, Checks: []v.Check{v.In(ControlTypes...)}},
		{Name: "points", Type: v.Integer, Checks: []v.Check{v.Int(v.AtLeast(0))}},
	},
}

var Course = register(&Resource{
	Name:       "course",
	Collection: "courses",
	Schema: &v.Schema{
		Required: []v.Field{
			{Name: "location", Type: v.String, Checks: []v.Check{v.In(Locations...)}},
			{Name: "name", Type: v.String, Checks: []v.Check{v.Pattern(namePattern)}},
			{Name: "mapdate", Type: v.Date, Checks: []v.Check{v.DateValue()}},
			{Name: "codename", Type: v.String, Checks: []v.Check{v.Pattern(codenamePattern)}},
			{Name: "type", Type: v.String, Checks: []v.Check{v.In(CourseTypes...)}},
			{Name: "inorder", Type: v.Bool, Checks: []v.Check{v.Boolean()}},
			{Name: "controls", Type: v.Docs, Checks: []v.Check{v.Array(), v.EachDoc(courseControl)}},
		},
		Optional: []v.Field{activeField},
	},
	UniqueKeys: [][]string{{"location", "name", "mapdate", "type"}},
	NaturalKey: "codename",
	Defaults:   courseDefaults,
})

var Event = register(&Resource{
	Name:       "event",
	Collection: "events",
	Schema: &v.Schema{
		Required: []v.Field{
			{Name: "location", Type: v.String, Checks: []v.Check{v.In(Locations...)}},
			{Name: "name", Type: v.String, Checks: []v.Check{v.Pattern(namePattern)}},
			{Name: "date", Type: v.Date, Checks: []v.Check{v.DateValue()}},
		},
		Optional: []v.Field{activeField, idList("students"), idList("courses"), idList("classes")},
	},
	UniqueKeys: [][]string{{"location", "name", "date"}},
	HardDelete: true,
	Refs: map[string]string{
		"students": Student.Collection,
		"courses":  Course.Collection,
		"classes":  Class.Collection,
	},
})

var Result = register(&Resource{
	Name:       "result",
	Collection: "results",
	Schema: &v.Schema{
		Required: []v.Field{
			{Name: "event", Type: v.Ref, Checks: []v.Check{v.MongoID()}},
			{Name: "course", Type: v.Ref, Checks: []v.Check{v.MongoID()}},
			{Name: "student", Type: v.Ref, Checks: []v.Check{v.MongoID()}},
			{Name: "card", Type: v.String, Checks: []v.Check{v.Pattern(`^[0-9]{1,7}$`)}},
			{Name: "cn", Type: v.String, Checks: []v.Check{v.Pattern(`^[0-9]{1,3}$`)}},
			{Name: "time", Type: v.Date, Checks: []v.Check{v.DateValue()}},
		},
		Optional: []v.Field{activeField},
	},
	UniqueKeys: [][]string{{"event", "course", "student", "card", "cn", "time"}},
	Refs: map[string]string{
		"event":   Event.Collection,
		"course":  Course.Collection,
		"student": Student.Collection,
	},
})

var Student = register(&Resource{
	Name:       "student",
	Collection: "students",
	Schema: &v.Schema{
		Required: []v.Field{
			{Name: "unityid", Type: v.String, Checks: []v.Check{v.ASCII(), v.Length(8, 8)}},
			{Name: "email", Type: v.String, Checks: []v.Check{v.Email()}},
			{Name: "firstname", Type: v.String, Checks: []v.Check{v.Length(1, 50)}},
			{Name: "lastname", Type: v.String, Checks: []v.Check{v.Length(1, 50)}},
			{Name: "sex", Type: v.String, Checks: []v.Check{v.In(Sexes...)}},
			idList("class"),
		},
		Optional: []v.Field{activeField},
	},
	UniqueKeys: [][]string{{"email"}, {"unityid"}},
	NaturalKey: "unityid",
	HardDelete: true,
	Refs: map[string]string{
		"class": Class.Collection,
	},
})
