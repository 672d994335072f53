package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "workflow-provisioner/internal/services"

type metrics struct {
	operations metric.Int64Counter
}

func newMetrics() *metrics {
	counter, err := otel.Meter(meterName).Int64Counter(
		"provisioner.operations",
		metric.WithDescription("Pipeline operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return &metrics{operations: counter}
}

// record counts one operation. The outcome is "ok" or the failure kind.
func (m *metrics) record(ctx context.Context, operation string, err error) {
	if m == nil || m.operations == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
