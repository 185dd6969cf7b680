package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oresults/oresults/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(ctx context.Context) error   { return nil }
func down(ctx context.Context) error { return errors.New("dial tcp: refused") }

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("store", Ping(up))
	c.Register("cache", Optional(Ping(down)))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "dial tcp: refused", report.Components["cache"].Message)

	c.Register("store", Ping(down))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
}

func TestBreakerCheck(t *testing.T) {
	cb := resilience.NewCircuitBreaker("kafka", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	assert.Equal(t, StatusUp, Breaker(cb)(context.Background()).Status)

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("broker unavailable") })
	h := Breaker(cb)(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "circuit open after 1 consecutive failures", h.Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("store", Ping(up))
	c.Register("changes", Optional(Ping(down)))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Len(t, report.Components, 2)

	c.Register("store", Ping(down))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker(0).LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestRunBoundsSlowCheck(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := NewChecker(20 * time.Millisecond)
	c.Register("store", func(ctx context.Context) ComponentHealth {
		<-release
		return ComponentHealth{Status: StatusUp}
	})

	start := time.Now()
	report := c.Run(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusDown, report.Status)
	assert.Contains(t, report.Components["store"].Message, "store")
}
