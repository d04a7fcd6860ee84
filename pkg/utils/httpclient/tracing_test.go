package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// setupTracer 设置测试用的 Tracer 和 W3C 传播器。
func setupTracer(t *testing.T) trace.Tracer {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("test")
}

func TestInjectTraceContext_WithSpan(t *testing.T) {
	tracer := setupTracer(t)
	client := NewClient(10*time.Second, 0)

	ctx, span := tracer.Start(context.Background(), "embed")
	defer span.End()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil).WithContext(ctx)
	client.injectTraceContext(req)

	// version-trace_id-parent_id-trace_flags
	assert.GreaterOrEqual(t, len(req.Header.Get("traceparent")), 55)
}

func TestInjectTraceContext_WithoutSpan(t *testing.T) {
	setupTracer(t)
	client := NewClient(10*time.Second, 0)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
	client.injectTraceContext(req)

	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestInjectTraceContext_NilRequest(t *testing.T) {
	setupTracer(t)
	client := NewClient(10*time.Second, 0)

	assert.NotPanics(t, func() { client.injectTraceContext(nil) })
}

func TestDoRequest_PropagatesTraceparent(t *testing.T) {
	tracer := setupTracer(t)

	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "generate")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := NewClient(10*time.Second, 0).DoRequest(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.GreaterOrEqual(t, len(received), 55, "下游服务应收到 traceparent")
}
