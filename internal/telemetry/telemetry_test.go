package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestSetup_DisabledKeepsGlobals(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetMeterProvider()

	shutdown, err := Setup(context.Background(), Options{Enabled: false})
	require.NoError(t, err)
	assert.Same(t, before, otel.GetMeterProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), Options{Enabled: true})
	assert.Error(t, err)
}

func TestSetup_ExportsToCollector(t *testing.T) {
	restoreGlobals(t)

	var mu sync.Mutex
	paths := map[string]int{}
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	shutdown, err := Setup(context.Background(), Options{
		Enabled:        true,
		Endpoint:       strings.TrimPrefix(collector.URL, "http://"),
		Insecure:       true,
		ServiceName:    "workflow-provisioner-test",
		ServiceVersion: "test",
		ExportInterval: time.Hour,
	})
	require.NoError(t, err)

	_, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	require.True(t, ok)
	_, ok = otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)

	counter, err := otel.Meter("telemetry-test").Int64Counter("test.operations")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "op")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, paths["/v1/metrics"])
	assert.Positive(t, paths["/v1/traces"])
}
