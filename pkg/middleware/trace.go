package middleware

import (
	"net/http"

	"github.com/oresults/oresults/pkg/logger"
	"github.com/oresults/oresults/pkg/tracing"
)

// Trace opens a root span per request, keyed by the request ID, and logs the
// span tree when the request finishes.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), r.Method+" "+r.URL.Path, logger.RequestID(r.Context()))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			span.SetAttr("status", sw.status)
			span.End()
			span.Log(logger.FromContext(ctx))
		}()
		next.ServeHTTP(sw, r.WithContext(ctx))
	})
}
