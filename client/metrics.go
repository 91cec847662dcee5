package client

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type clientMetrics struct {
	requests metric.Int64Counter
	duration metric.Int64Histogram
}

func newClientMetrics(logger pslog.Base) *clientMetrics {
	meter := otel.Meter("pkt.systems/etcdgw/client")
	m := &clientMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"etcdgw.client.requests",
		metric.WithDescription("Gateway calls issued by the client"),
	)
	logMetricInitError(logger, "etcdgw.client.requests", err)

	m.duration, err = meter.Int64Histogram(
		"etcdgw.client.request.duration_ms",
		metric.WithDescription("Gateway call latency"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "etcdgw.client.request.duration_ms", err)

	return m
}

func (m *clientMetrics) record(ctx context.Context, path string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := metric.WithAttributes(
		attribute.String("etcdgw.path", path),
		attribute.String("etcdgw.result", metricResultLabel(err)),
	)
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Milliseconds(), attrs)
	}
}

func metricResultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return "api_error"
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "parse_error"
	}
	return "transport_error"
}

func logMetricInitError(logger pslog.Base, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
