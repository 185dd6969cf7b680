package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/service"
	"github.com/oresults/oresults/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unknownID = "507f1f77bcf86cd799439099"

type response struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []map[string]struct {
		Property string `json:"property"`
		Message  string `json:"message"`
	} `json:"errors"`
}

func (r response) doc(t *testing.T) map[string]any {
	t.Helper()
	var d map[string]any
	require.NoError(t, json.Unmarshal(r.Data, &d))
	return d
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	st := memstore.New()
	svc := service.New(st, service.Config{})
	r := chi.NewRouter()
	for _, res := range resource.All() {
		require.NoError(t, st.EnsureCollection(context.Background(), res.Collection, res.UniqueKeys))
		r.Mount("/"+res.Collection, New(svc, res).Routes())
	}
	return r
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func postJSON(t *testing.T, h http.Handler, collection, body string) (int, response) {
	return do(t, h, http.MethodPost, "/"+collection, "application/json", body)
}

const classBody = `{"year":2024,"semester":"fall","prefix":"heso","number":"253","name":"orienteering","section":"001"}`

func TestPostClass(t *testing.T) {
	h := newRouter(t)
	code, resp := postJSON(t, h, "classes", classBody)

	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "The class was added to the database", resp.Message)
	doc := resp.doc(t)
	assert.Len(t, doc["_id"], 24)
	assert.Equal(t, true, doc["active"])
	assert.Equal(t, "orienteering", doc["name"])
}

func TestPostCardTwice(t *testing.T) {
	h := newRouter(t)
	code, _ := postJSON(t, h, "cards", `{"number":"2045000"}`)
	require.Equal(t, http.StatusCreated, code)

	code, resp := postJSON(t, h, "cards", `{"number":"2045000"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "This card already exists.", resp.Message)
	assert.Equal(t, "2045000", resp.doc(t)["number"])
}

func TestPostValidationErrors(t *testing.T) {
	h := newRouter(t)
	code, resp := postJSON(t, h, "controls", `{"number":0,"type":"beacon"}`)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "There have been validation errors", resp.Message)
	props := map[string]bool{}
	for _, e := range resp.Errors {
		for name, v := range e {
			props[name] = true
			assert.Equal(t, name, v.Property)
		}
	}
	assert.Equal(t, map[string]bool{"number": true, "type": true, "points": true}, props)
}

func TestPostForm(t *testing.T) {
	h := newRouter(t)
	form := url.Values{
		"location": {"Lake Johnson"},
		"name":     {"spring meet"},
		"date":     {"2016-04-02"},
		"active":   {"true"},
	}
	code, resp := do(t, h, http.MethodPost, "/events", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusCreated, code, resp.Message)
	doc := resp.doc(t)
	assert.Equal(t, "lake johnson", doc["location"])
	assert.Equal(t, "2016-04-02T00:00:00Z", doc["date"])
}

func TestPostFormSingleListValue(t *testing.T) {
	h := newRouter(t)
	form := url.Values{
		"unityid": {"jqdoe123"}, "email": {"jqdoe123@ncsu.edu"}, "firstname": {"Jane"},
		"lastname": {"Doe"}, "sex": {"f"}, "class": {unknownID},
	}
	code, resp := do(t, h, http.MethodPost, "/students", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusCreated, code, resp.Message)
	classes, ok := resp.doc(t)["class"].([]any)
	require.True(t, ok)
	assert.Len(t, classes, 1)
}

func TestPostFormKeepsBooleanWordsInTextFields(t *testing.T) {
	h := newRouter(t)
	form := url.Values{
		"year": {"2024"}, "semester": {"fall"}, "prefix": {"heso"}, "number": {"253"},
		"name": {"true"}, "section": {"001"}, "active": {"true"},
	}
	code, resp := do(t, h, http.MethodPost, "/classes", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusCreated, code, resp.Message)
	doc := resp.doc(t)
	assert.Equal(t, "true", doc["name"])
	assert.Equal(t, true, doc["active"])
}

func TestPostRejectsMalformedBody(t *testing.T) {
	h := newRouter(t)
	code, resp := postJSON(t, h, "cards", `{"number":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "The request body could not be read.", resp.Message)

	code, _ = postJSON(t, h, "cards", `[{"number":"1"}]`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPutStudentUnknownID(t *testing.T) {
	h := newRouter(t)
	body := `{"_id":"` + unknownID + `","unityid":"jqdoe123","email":"jqdoe123@ncsu.edu","firstname":"Jane","lastname":"Doe","sex":"f","class":["507f1f77bcf86cd799439014"]}`
	code, resp := do(t, h, http.MethodPut, "/students", "application/json", body)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No student was found with that id.", resp.Message)
}

func TestPutBatch(t *testing.T) {
	h := newRouter(t)
	_, created := postJSON(t, h, "cards", `{"number":"1"}`)
	id := created.doc(t)["_id"].(string)

	body := `[{"_id":"` + id + `","number":"2"},{"_id":"` + unknownID + `","number":"3"}]`
	code, resp := do(t, h, http.MethodPut, "/cards", "application/json", body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Check the data property for the results", resp.Message)

	var result struct {
		Success []map[string]any `json:"success"`
		Fail    []struct {
			Message string `json:"message"`
		} `json:"fail"`
		Errors bool `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.Errors)
	require.Len(t, result.Success, 1)
	assert.Equal(t, "2", result.Success[0]["number"])
	require.Len(t, result.Fail, 1)
	assert.Equal(t, "No card was found with that id.", result.Fail[0].Message)
}

func TestSoftDeleteClass(t *testing.T) {
	h := newRouter(t)
	_, created := postJSON(t, h, "classes", classBody)
	id := created.doc(t)["_id"].(string)

	code, resp := do(t, h, http.MethodDelete, "/classes", "application/json", `{"id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp.doc(t)["active"])

	code, resp = do(t, h, http.MethodGet, "/classes/"+id, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "heso 253-001 orienteering, fall 2024", resp.doc(t)["title"])

	code, resp = do(t, h, http.MethodGet, "/classes", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestDeleteByPathAndQuery(t *testing.T) {
	h := newRouter(t)
	_, a := postJSON(t, h, "controls", `{"number":1,"type":"start","points":0}`)
	_, b := postJSON(t, h, "controls", `{"number":2,"type":"finish","points":0}`)

	code, _ := do(t, h, http.MethodDelete, "/controls/"+a.doc(t)["_id"].(string), "", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, h, http.MethodDelete, "/controls?id="+b.doc(t)["_id"].(string), "", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp := do(t, h, http.MethodDelete, "/controls", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "Required value.", resp.Errors[0]["_id"].Message)
}

func TestGetStudentByUnityID(t *testing.T) {
	h := newRouter(t)
	_, created := postJSON(t, h, "students", `{"unityid":"JQDOE123","email":"jqdoe123@ncsu.edu","firstname":"Jane","lastname":"Doe","sex":"F","class":["507f1f77bcf86cd799439014"]}`)

	code, resp := do(t, h, http.MethodGet, "/students/jqdoe123", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "The student was successfully retrieved", resp.Message)
	assert.Equal(t, created.doc(t)["_id"], resp.doc(t)["_id"])

	code, _ = do(t, h, http.MethodGet, "/students/nobody00", "", "")
	assert.Equal(t, http.StatusNotFound, code)
}
