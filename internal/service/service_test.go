package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oresults/oresults/internal/cache"
	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/events"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/store"
	"github.com/oresults/oresults/internal/store/memstore"
	"github.com/oresults/oresults/pkg/config"
	apperrors "github.com/oresults/oresults/pkg/errors"
	"github.com/oresults/oresults/pkg/metrics"
	pkgredis "github.com/oresults/oresults/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unknownID     = "507f1f77bcf86cd799439099"
	orphanClassID = "507f1f77bcf86cd799439098"
)

type recorder struct {
	mu      sync.Mutex
	changes []events.Change
	err     error
}

func (r *recorder) Publish(_ context.Context, c events.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

func (r *recorder) Close() error { return nil }

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	for _, res := range resource.All() {
		require.NoError(t, st.EnsureCollection(context.Background(), res.Collection, res.UniqueKeys))
	}
	return st
}

func newService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	return New(newStore(t), Config{Publisher: rec, BatchLimit: 2}), rec
}

func classInput() document.Document {
	return document.Document{"year": 2024, "semester": "fall", "prefix": "heso", "number": "253", "name": "orienteering", "section": "001"}
}

func studentInput(unityid string, class ...any) document.Document {
	if len(class) == 0 {
		class = []any{orphanClassID}
	}
	return document.Document{
		"unityid": unityid, "email": unityid + "@ncsu.edu", "firstname": "Jane",
		"lastname": "Doe", "sex": "f", "class": class,
	}
}

func mustCreate(t *testing.T, svc *Service, res *resource.Resource, input document.Document) document.Document {
	t.Helper()
	out := svc.Create(context.Background(), res, input)
	require.NoError(t, out.Err, "%v", out.Errors)
	return out.Document
}

func TestCreateClass(t *testing.T) {
	svc, rec := newService(t)
	out := svc.Create(context.Background(), resource.Class, classInput())

	require.True(t, out.OK())
	assert.Equal(t, []State{Received, Validating, Validated, CheckingDuplicate, Unique, Persisting, Persisted}, out.Trail)
	assert.Len(t, out.Document.ID(), 24)
	assert.Equal(t, true, out.Document[document.ActiveKey])
	assert.Equal(t, int64(2024), out.Document["year"])
	assert.Equal(t, "The class was added to the database", out.Message)

	require.Len(t, rec.changes, 1)
	assert.Equal(t, events.Created, rec.changes[0].Type)
	assert.Equal(t, out.Document.ID(), rec.changes[0].ID)
}

func TestCreateIgnoresClientID(t *testing.T) {
	svc, _ := newService(t)
	input := document.Document{"number": "1", "id": unknownID}
	doc := mustCreate(t, svc, resource.Card, input)
	assert.NotEqual(t, unknownID, doc.ID())
	assert.NotContains(t, doc, document.AltIDKey)
}

func TestCreateCardTwiceIsDuplicate(t *testing.T) {
	svc, _ := newService(t)
	mustCreate(t, svc, resource.Card, document.Document{"number": "2045000"})

	out := svc.Create(context.Background(), resource.Card, document.Document{"number": "2045000"})
	assert.Equal(t, Duplicate, out.State)
	assert.ErrorIs(t, out.Err, apperrors.ErrDuplicate)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(out.Err))
	assert.Equal(t, "This card already exists.", out.Message)
}

func TestCardNumbersWithLeadingZerosAreDistinct(t *testing.T) {
	svc, _ := newService(t)
	mustCreate(t, svc, resource.Card, document.Document{"number": "0045000"})

	out := svc.Create(context.Background(), resource.Card, document.Document{"number": "45000"})
	assert.Equal(t, Persisted, out.State)
	assert.NoError(t, out.Err)

	got, err := svc.Get(context.Background(), resource.Card, "45000")
	require.NoError(t, err)
	assert.Equal(t, out.Document.ID(), got.ID())
}

func TestCreateValidationFailed(t *testing.T) {
	svc, rec := newService(t)
	out := svc.Create(context.Background(), resource.Student, studentInput("short"))

	assert.Equal(t, ValidationFailed, out.State)
	assert.ErrorIs(t, out.Err, apperrors.ErrValidation)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "unityid")
	assert.NotContains(t, out.Document, document.ErrorsKey)
	assert.Empty(t, rec.changes)

	docs, err := svc.List(context.Background(), resource.Student, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCreateFillsCourseCodename(t *testing.T) {
	svc, _ := newService(t)
	doc := mustCreate(t, svc, resource.Course, document.Document{
		"location": "lake johnson", "name": "lake sprint", "mapdate": "2016-03-01",
		"type": "score", "inorder": true,
		"controls": []any{map[string]any{"number": "1", "type": "start", "points": "0"}},
	})
	assert.Regexp(t, `^ls201631-[0-9]{4}$`, doc["codename"])
	controls := doc["controls"].([]any)
	assert.Equal(t, int64(1), controls[0].(map[string]any)["number"])
}

func TestListFiltersOnBooleanField(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	course := func(name string, inorder bool) document.Document {
		return document.Document{
			"location": "lake johnson", "name": name, "mapdate": "2016-03-01",
			"type": "score", "inorder": inorder,
			"controls": []any{map[string]any{"number": "1", "type": "start", "points": "0"}},
		}
	}
	ordered := mustCreate(t, svc, resource.Course, course("lake sprint", true))
	mustCreate(t, svc, resource.Course, course("lake long", false))

	docs, err := svc.List(ctx, resource.Course, url.Values{"inorder": {"true"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, ordered.ID(), docs[0].ID())

	docs, err = svc.List(ctx, resource.Course, url.Values{"inorder": {"false"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "lake long", docs[0]["name"])

	_, err = svc.List(ctx, resource.Course, url.Values{"inorder": {"maybe"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpdateUnknownStudentIsNotFound(t *testing.T) {
	svc, _ := newService(t)
	input := studentInput("jqdoe123")
	input["_id"] = unknownID

	out := svc.Update(context.Background(), resource.Student, input)
	assert.Equal(t, PersistFailed, out.State)
	assert.ErrorIs(t, out.Err, apperrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatusCode(out.Err))
}

func TestUpdateRequiresIdentifier(t *testing.T) {
	svc, _ := newService(t)
	out := svc.Update(context.Background(), resource.Card, document.Document{"number": "5"})
	assert.Equal(t, ValidationFailed, out.State)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], document.IDKey)
}

func TestUpdateExcludesItselfFromDuplicateCheck(t *testing.T) {
	svc, rec := newService(t)
	card := mustCreate(t, svc, resource.Card, document.Document{"number": "77"})

	out := svc.Update(context.Background(), resource.Card, document.Document{"id": card.ID(), "number": "77"})
	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, card.ID(), out.Document.ID())

	other := mustCreate(t, svc, resource.Card, document.Document{"number": "78"})
	out = svc.Update(context.Background(), resource.Card, document.Document{"_id": other.ID(), "number": "77"})
	assert.Equal(t, Duplicate, out.State)
	assert.Len(t, rec.changes, 3)
}

func TestSoftDeleteKeepsDocumentRetrievable(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()
	class := mustCreate(t, svc, resource.Class, classInput())

	out := svc.Delete(ctx, resource.Class, class.ID())
	require.True(t, out.OK())
	assert.Equal(t, false, out.Document[document.ActiveKey])
	assert.Equal(t, events.Deleted, rec.changes[len(rec.changes)-1].Type)

	got, err := svc.Get(ctx, resource.Class, class.ID())
	require.NoError(t, err)
	assert.Equal(t, false, got[document.ActiveKey])
	assert.Equal(t, "heso 253-001 orienteering, fall 2024", got["title"])

	docs, err := svc.List(ctx, resource.Class, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)

	// the same class can be created again once the old one is inactive
	mustCreate(t, svc, resource.Class, classInput())
}

func TestHardDeleteRemovesStudent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	student := mustCreate(t, svc, resource.Student, studentInput("jqdoe123"))

	out := svc.Delete(ctx, resource.Student, student.ID())
	require.True(t, out.OK())
	assert.Equal(t, "The student was removed from the database", out.Message)

	_, err := svc.Get(ctx, resource.Student, student.ID())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	out = svc.Delete(ctx, resource.Student, student.ID())
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatusCode(out.Err))
}

func TestDeleteRejectsMalformedID(t *testing.T) {
	svc, _ := newService(t)
	out := svc.Delete(context.Background(), resource.Card, "not-an-id")
	assert.Equal(t, ValidationFailed, out.State)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "The Mongo Id is not valid.", out.Errors[0][document.IDKey].Message)
}

func TestUpdateBatchKeepsOrder(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	var inputs []document.Document
	for _, n := range []string{"10", "11", "12", "13"} {
		card := mustCreate(t, svc, resource.Card, document.Document{"number": n})
		inputs = append(inputs, document.Document{"_id": card.ID(), "number": "9" + n})
	}
	inputs = append(inputs,
		document.Document{"_id": unknownID, "number": "500"},
		document.Document{"_id": "bad", "number": "501"},
	)

	result := svc.UpdateBatch(ctx, resource.Card, inputs)
	assert.True(t, result.Errors)
	require.Len(t, result.Success, 4)
	for i, doc := range result.Success {
		assert.Equal(t, inputs[i]["number"], doc["number"])
	}
	require.Len(t, result.Fail, 2)
	assert.Equal(t, "No card was found with that id.", result.Fail[0].Message)
	assert.Equal(t, "There have been validation errors", result.Fail[1].Message)
	assert.NotEmpty(t, result.Fail[1].Errors)
}

func TestUpdateBatchAllSucceed(t *testing.T) {
	svc, _ := newService(t)
	card := mustCreate(t, svc, resource.Card, document.Document{"number": "1"})
	result := svc.UpdateBatch(context.Background(), resource.Card, []document.Document{{"_id": card.ID(), "number": "2"}})
	assert.False(t, result.Errors)
	assert.Empty(t, result.Fail)
	assert.Len(t, result.Success, 1)
}

func TestGetByNaturalKey(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	student := mustCreate(t, svc, resource.Student, studentInput("jqdoe123"))
	mustCreate(t, svc, resource.Control, document.Document{"number": 31, "type": "control", "points": 10})

	got, err := svc.Get(ctx, resource.Student, "JQDOE123")
	require.NoError(t, err)
	assert.Equal(t, student.ID(), got.ID())

	got, err = svc.Get(ctx, resource.Control, "31")
	require.NoError(t, err)
	assert.Equal(t, "control", got["type"])

	_, err = svc.Get(ctx, resource.Event, "spring-meet")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.Get(ctx, resource.Control, unknownID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPopulateReferences(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	class := mustCreate(t, svc, resource.Class, classInput())
	student := mustCreate(t, svc, resource.Student, studentInput("jqdoe123", class.ID(), unknownID))

	got, err := svc.Get(ctx, resource.Student, student.ID())
	require.NoError(t, err)
	classes := got["class"].([]any)
	require.Len(t, classes, 2)
	populated, ok := classes[0].(document.Document)
	require.True(t, ok)
	assert.Equal(t, class.ID(), populated.ID())
	assert.Equal(t, "heso 253-001 orienteering, fall 2024", populated["title"])
	assert.Equal(t, unknownID, classes[1])

	event := mustCreate(t, svc, resource.Event, document.Document{"location": "umstead park", "name": "spring meet", "date": "2016-04-02"})
	course := mustCreate(t, svc, resource.Course, document.Document{
		"location": "umstead park", "name": "long", "mapdate": "2016-04-01", "type": "classic", "inorder": true,
		"controls": []any{map[string]any{"number": 1, "type": "start", "points": 0}},
	})
	mustCreate(t, svc, resource.Result, document.Document{
		"event": event.ID(), "course": course.ID(), "student": student.ID(),
		"card": "2045000", "cn": "31", "time": "2016-04-02T10:31:00Z",
	})

	results, err := svc.List(ctx, resource.Result, url.Values{"event": {event.ID()}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "spring meet", results[0]["event"].(document.Document)["name"])
	assert.Equal(t, "jqdoe123", results[0]["student"].(document.Document)["unityid"])
}

func TestListFilters(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, resource.Control, document.Document{"number": 1, "type": "start", "points": 0})
	mustCreate(t, svc, resource.Control, document.Document{"number": 2, "type": "control", "points": 10})
	mustCreate(t, svc, resource.Control, document.Document{"number": 3, "type": "control", "points": 20})

	docs, err := svc.List(ctx, resource.Control, url.Values{"type": {"CONTROL"}, "page": {"2"}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = svc.List(ctx, resource.Control, url.Values{"points": {"20"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(3), docs[0]["number"])

	_, err = svc.List(ctx, resource.Control, url.Values{"type": {"bogus"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

type racyStore struct {
	*memstore.Store
}

// Count always reports no match, as if a concurrent writer had not landed yet.
func (racyStore) Count(context.Context, string, store.Filter) (int64, error) { return 0, nil }

func TestUniqueIndexCatchesRace(t *testing.T) {
	svc := New(racyStore{newStore(t)}, Config{})
	mustCreate(t, svc, resource.Card, document.Document{"number": "42"})

	out := svc.Create(context.Background(), resource.Card, document.Document{"number": "42"})
	assert.Equal(t, Duplicate, out.State)
	assert.Equal(t, []State{Received, Validating, Validated, CheckingDuplicate, Unique, Persisting, Duplicate}, out.Trail)
}

type failingStore struct {
	*memstore.Store
}

func (failingStore) Create(context.Context, string, document.Document) (document.Document, error) {
	return nil, errors.New("connection reset")
}

func TestPersistFailureIsServerError(t *testing.T) {
	svc := New(failingStore{newStore(t)}, Config{})
	out := svc.Create(context.Background(), resource.Card, document.Document{"number": "42"})
	assert.Equal(t, PersistFailed, out.State)
	assert.ErrorIs(t, out.Err, apperrors.ErrPersistence)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatusCode(out.Err))
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	svc := New(newStore(t), Config{Publisher: &recorder{err: errors.New("circuit open")}, Metrics: m})

	out := svc.Create(context.Background(), resource.Card, document.Document{"number": "42"})
	assert.True(t, out.OK())

	out = svc.Create(context.Background(), resource.Card, document.Document{})
	assert.Equal(t, ValidationFailed, out.State)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			values[f.GetName()] += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, values["change_publish_failures_total"])
	assert.Equal(t, 1.0, values["document_validation_failures_total"])
	assert.Equal(t, 2.0, values["document_writes_total"])
}

func TestCachedGetIsInvalidatedOnUpdate(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Addr: mr.Addr(), PoolSize: 2, CacheTTL: time.Minute}
	client, err := pkgredis.NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	svc := New(newStore(t), Config{Cache: cache.New(client, cfg)})
	ctx := context.Background()
	card := mustCreate(t, svc, resource.Card, document.Document{"number": "1"})

	got, err := svc.Get(ctx, resource.Card, card.ID())
	require.NoError(t, err)
	assert.Equal(t, "1", got["number"])
	assert.True(t, mr.Exists("doc:cards:"+card.ID()))

	out := svc.Update(ctx, resource.Card, document.Document{"_id": card.ID(), "number": "2"})
	require.True(t, out.OK())
	assert.False(t, mr.Exists("doc:cards:"+card.ID()))

	got, err = svc.Get(ctx, resource.Card, card.ID())
	require.NoError(t, err)
	assert.Equal(t, "2", got["number"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "checking_duplicate", CheckingDuplicate.String())
	assert.Equal(t, "unknown", State(99).String())
}
