package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ComposeMetricsMeterName is the name used for the compose metrics meter
	ComposeMetricsMeterName = "github.com/relengtools/composer/compose"

	// PushMetricsMeterName is the name used for the push metrics meter
	PushMetricsMeterName = "github.com/relengtools/composer/push"
)

// ComposeMetrics holds the OpenTelemetry instruments for compose runs
type ComposeMetrics struct {
	composeDuration metric.Float64Histogram
	stageDuration   metric.Float64Histogram
	ejectedUpdates  metric.Int64Counter
}

// NewComposeMetrics creates a new ComposeMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewComposeMetrics(provider metric.MeterProvider) (*ComposeMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ComposeMetricsMeterName)

	composeDuration, err := meter.Float64Histogram(
		"composer_compose_duration_seconds",
		metric.WithDescription("Duration of compose runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200, 14400),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"composer_stage_duration_seconds",
		metric.WithDescription("Duration of compose pipeline stages in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 1, 10, 60, 300, 900, 3600),
	)
	if err != nil {
		return nil, err
	}

	ejectedUpdates, err := meter.Int64Counter(
		"composer_ejected_updates_total",
		metric.WithDescription("Number of updates ejected from composes"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	return &ComposeMetrics{
		composeDuration: composeDuration,
		stageDuration:   stageDuration,
		ejectedUpdates:  ejectedUpdates,
	}, nil
}

// RecordComposeDuration records the duration of a whole compose run
func (m *ComposeMetrics) RecordComposeDuration(
	ctx context.Context, compose, contentType string, duration time.Duration, success bool,
) {
	if m == nil || m.composeDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("compose", compose),
		attribute.String("content_type", contentType),
		attribute.Bool("success", success),
	}

	m.composeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordStageDuration records the duration of one pipeline stage
func (m *ComposeMetrics) RecordStageDuration(ctx context.Context, stage string, duration time.Duration, success bool) {
	if m == nil || m.stageDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	}

	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEjection counts an update ejected from a compose
func (m *ComposeMetrics) RecordEjection(ctx context.Context, compose string) {
	if m == nil || m.ejectedUpdates == nil {
		return
	}
	m.ejectedUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("compose", compose)))
}

// PushMetrics holds the OpenTelemetry instruments for pushes
type PushMetrics struct {
	composesTotal metric.Int64Counter
}

// NewPushMetrics creates a new PushMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPushMetrics(provider metric.MeterProvider) (*PushMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PushMetricsMeterName)

	composesTotal, err := meter.Int64Counter(
		"composer_push_composes_total",
		metric.WithDescription("Number of composes run by pushes, by outcome"),
		metric.WithUnit("{compose}"),
	)
	if err != nil {
		return nil, err
	}

	return &PushMetrics{composesTotal: composesTotal}, nil
}

// RecordComposeResult counts a finished compose
func (m *PushMetrics) RecordComposeResult(ctx context.Context, request string, success bool) {
	if m == nil || m.composesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("request", request),
		attribute.Bool("success", success),
	}

	m.composesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}
