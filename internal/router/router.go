// Package router wires the collection routes, health endpoints and the middleware
// chain into one http.Handler.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oresults/oresults/internal/handler"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/service"
	"github.com/oresults/oresults/pkg/health"
	"github.com/oresults/oresults/pkg/metrics"
	"github.com/oresults/oresults/pkg/middleware"
	"github.com/oresults/oresults/pkg/ratelimit"
)

// Options tunes the middleware chain. Metrics, Checker and Limiter may be
// nil.
type Options struct {
	Metrics        *metrics.Metrics
	Checker        *health.Checker
	Limiter        *ratelimit.Limiter
	CORS           middleware.CORSConfig
	RequestTimeout time.Duration
	Tracing        bool
}

// New builds the API handler.
//
// Route table, per collection (cards, classes, controls, courses, events,
// results, students):
//
//	GET    /{collection}          list active documents
//	GET    /{collection}/{id}     get by id or natural key
//	POST   /{collection}          create
//	PUT    /{collection}          update one, or a batch for an array body
//	DELETE /{collection}          delete by body _id/id or ?id=
//	DELETE /{collection}/{id}     delete by path
//
// plus GET /health/live, GET /health/ready and GET /metrics.
//
// Middleware chain (outermost first):
//
//	RequestID → AccessLog → CORS → Metrics → RateLimit → Trace → Timeout → routes
//
// Health endpoints and /metrics are registered outside the rate-limited group.
func New(svc *service.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(middleware.CORS(opts.CORS))
	if opts.Metrics != nil {
		r.Use(middleware.Metrics(opts.Metrics))
	}

	if opts.Checker != nil {
		r.Get("/health/live", opts.Checker.LiveHandler())
		r.Get("/health/ready", opts.Checker.ReadyHandler())
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(middleware.RateLimit(opts.Limiter))
		}
		if opts.Tracing {
			r.Use(middleware.Trace)
		}
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		for _, res := range resource.All() {
			r.Mount("/"+res.Collection, handler.New(svc, res).Routes())
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not found","data":null}` + "\n"))
	})
	return r
}
