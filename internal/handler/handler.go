// Package handler exposes one resource collection over HTTP. Every response
// uses the same {message, data, errors} envelope.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/service"
	apperrors "github.com/oresults/oresults/pkg/errors"
	"github.com/oresults/oresults/pkg/logger"
)

type Handler struct {
	svc    *service.Service
	res    *resource.Resource
	logger *slog.Logger
}

func New(svc *service.Service, res *resource.Resource) *Handler {
	return &Handler{
		svc:    svc,
		res:    res,
		logger: slog.Default().With("component", "handler", "resource", res.Collection),
	}
}

// Routes returns the collection's sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Put("/", h.Update)
	r.Delete("/", h.Delete)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.List(r.Context(), h.res, r.URL.Query())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Message: "Success", Data: docs})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), h.res, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{
		Message: "The " + h.res.Name + " was successfully retrieved",
		Data:    doc,
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	in, err := decode(r, h.res.Schema)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if in.batch != nil {
		h.writeErr(w, r, apperrors.New(apperrors.ErrInvalidInput, "Expected a single document."))
		return
	}
	out := h.svc.Create(r.Context(), h.res, in.doc)
	h.writeOutcome(w, r, &out, http.StatusCreated)
}

// Update handles a single document, or a batch when the body is a JSON
// array.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	in, err := decode(r, h.res.Schema)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if in.batch != nil {
		result := h.svc.UpdateBatch(r.Context(), h.res, in.batch)
		logger.FromContext(r.Context()).Info("batch update",
			"resource", h.res.Collection,
			"success", len(result.Success),
			"fail", len(result.Fail),
		)
		h.writeJSON(w, http.StatusOK, envelope{
			Message: "Check the data property for the results",
			Data:    result,
		})
		return
	}
	out := h.svc.Update(r.Context(), h.res, in.doc)
	h.writeOutcome(w, r, &out, http.StatusOK)
}

// Delete takes the identifier from the path, the body ("_id" or "id"), or
// the id query parameter, in that order.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" && r.ContentLength != 0 {
		in, err := decode(r, h.res.Schema)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		if in.doc != nil {
			id = in.doc.ID()
		}
	}
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	out := h.svc.Delete(r.Context(), h.res, id)
	h.writeOutcome(w, r, &out, http.StatusOK)
}

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
	Errors  any    `json:"errors,omitempty"`
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, out *service.Outcome, status int) {
	log := logger.FromContext(r.Context())
	defer func() {
		out.Respond()
		log.Debug("workflow finished", "resource", h.res.Collection, "trail", out.Trail)
	}()
	if out.Err == nil {
		h.writeJSON(w, status, envelope{Message: out.Message, Data: out.Document})
		return
	}
	status = apperrors.HTTPStatusCode(out.Err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "resource", h.res.Collection, "state", out.State.String(), "error", out.Err)
	}
	env := envelope{Message: out.Message, Data: out.Document}
	if len(out.Errors) > 0 {
		env.Errors = out.Errors
	}
	h.writeJSON(w, status, env)
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "resource", h.res.Collection, "error", err)
	}
	h.writeJSON(w, status, envelope{Message: apperrors.ClientMessage(err), Data: nil})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encode(w, data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
