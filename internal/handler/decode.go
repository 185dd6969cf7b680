package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/validate"
	apperrors "github.com/oresults/oresults/pkg/errors"
)

const maxBodyBytes = 1 << 20

// input is a decoded request body: one document, or a batch when the JSON
// body is an array.
type input struct {
	doc   document.Document
	batch []document.Document
}

var errBadBody = apperrors.New(apperrors.ErrInvalidInput, "The request body could not be read.")

// decode reads a JSON or form body. Form values are typed by schema.
func decode(r *http.Request, schema *validate.Schema) (input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return decodeForm(r, schema)
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return input{}, apperrors.New(apperrors.ErrInvalidInput, "The request body is too large.").WithStatus(http.StatusRequestEntityTooLarge)
		}
		return input{}, errBadBody
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return input{doc: document.Document{}}, nil
	}
	if body[0] == '[' {
		var batch []document.Document
		if err := json.Unmarshal(body, &batch); err != nil {
			return input{}, errBadBody
		}
		if batch == nil {
			batch = []document.Document{}
		}
		return input{batch: batch}, nil
	}
	var doc document.Document
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return input{}, errBadBody
	}
	return input{doc: doc}, nil
}

// decodeForm maps form fields onto a document. List fields, repeated keys
// and keys ending in "[]" become lists. Boolean fields parse "true" and
// "false"; every other value stays a string.
func decodeForm(r *http.Request, schema *validate.Schema) (input, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		err = r.ParseMultipartForm(maxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return input{}, errBadBody
	}
	doc := make(document.Document, len(r.PostForm))
	for key, values := range r.PostForm {
		name, list := strings.CutSuffix(key, "[]")
		field, known := schema.Lookup(name)
		if list || len(values) > 1 || (known && field.Type == validate.List) {
			items := make([]any, len(values))
			for i, v := range values {
				items[i] = v
			}
			doc[name] = items
			continue
		}
		doc[name] = values[0]
		if known && field.Type == validate.Bool {
			if b, err := strconv.ParseBool(values[0]); err == nil {
				doc[name] = b
			}
		}
	}
	return input{doc: doc}, nil
}

func encode(w io.Writer, data any) error {
	return json.NewEncoder(w).Encode(data)
}
