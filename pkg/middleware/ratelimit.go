package middleware

import (
	"net"
	"net/http"
	"strconv"

	"github.com/oresults/oresults/pkg/logger"
	"github.com/oresults/oresults/pkg/ratelimit"
)

// RateLimit rejects clients that exhaust their token bucket with 429.
// Clients are keyed by the connection's remote host; forwarding headers are
// client controlled and ignored.
func RateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(1, int(l.RetryAfter().Seconds())))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			client := clientAddr(r)
			if !l.Allow(client) {
				logger.FromContext(r.Context()).Warn("rate limit exceeded", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"message":"Too many requests","data":null}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
