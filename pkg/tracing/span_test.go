package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansInheritTraceID(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "POST /cards", "req-1")
	_, validate := StartChildSpan(ctx, "validate")
	validate.End()
	_, persist := StartChildSpan(ctx, "persist")
	persist.End()
	root.End()

	require.Len(t, root.Children, 2)
	assert.Equal(t, "req-1", validate.TraceID)
	assert.Equal(t, "persist", root.Children[1].Name)
	assert.False(t, root.EndTime.IsZero())
}

func TestDetachedChild(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, SpanFromContext(ctx))
}

func TestEndIsIdempotent(t *testing.T) {
	_, span := StartSpan(context.Background(), "x", "t")
	span.End()
	first := span.EndTime
	span.End()
	assert.Equal(t, first, span.EndTime)
}

func TestLogWritesFailedSpansAtWarn(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, root := StartSpan(context.Background(), "PUT /students", "req-2")
	_, child := StartChildSpan(ctx, "persist")
	child.SetAttr("resource", "students")
	child.Fail(errors.New("connection reset"))
	child.Fail(nil)
	child.End()
	root.End()
	root.Log(l)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "span="))
	assert.Contains(t, out, "span=persist")
	assert.Contains(t, out, "resource=students")
	assert.Contains(t, out, `error="connection reset"`)
}
