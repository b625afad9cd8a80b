// Package telemetry owns the OpenTelemetry meter provider and the pipeline's
// instruments.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/ppiankov/ledgerwatch"

// Instrument names.
const (
	MetricRequests        = "ledgerwatch.requests"
	MetricNetworkAttempts = "ledgerwatch.network.attempts"
	MetricNetworkDuration = "ledgerwatch.network.duration"
	MetricAuditFailures   = "ledgerwatch.audit.failures"
	MetricDivergences     = "ledgerwatch.apply.divergences"
)

// Config selects the metric exporter.
type Config struct {
	OTLPEndpoint string        `yaml:"otlp_endpoint"`
	Interval     time.Duration `yaml:"interval"`
}

// Setup builds a meter provider. With no endpoint configured it returns a
// no-op provider and a no-op shutdown.
func Setup(ctx context.Context, cfg Config) (metric.MeterProvider, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)))
	return mp, mp.Shutdown, nil
}

// Metrics holds the pipeline's instruments.
type Metrics struct {
	requests        metric.Int64Counter
	networkAttempts metric.Int64Counter
	networkDuration metric.Float64Histogram
	auditFailures   metric.Int64Counter
	divergences     metric.Int64Counter
}

// NewMetrics registers the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.requests, err = meter.Int64Counter(MetricRequests,
		metric.WithDescription("Pipeline requests by outcome")); err != nil {
		return nil, err
	}
	if m.networkAttempts, err = meter.Int64Counter(MetricNetworkAttempts,
		metric.WithDescription("Per-network submission attempts")); err != nil {
		return nil, err
	}
	if m.networkDuration, err = meter.Float64Histogram(MetricNetworkDuration,
		metric.WithDescription("Per-network attempt duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.auditFailures, err = meter.Int64Counter(MetricAuditFailures,
		metric.WithDescription("Audit records that could not be written")); err != nil {
		return nil, err
	}
	if m.divergences, err = meter.Int64Counter(MetricDivergences,
		metric.WithDescription("Settled transactions whose state update failed")); err != nil {
		return nil, err
	}
	return m, nil
}

// Nop returns instruments bound to a no-op provider.
func Nop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordRequest counts one finished pipeline request.
func (m *Metrics) RecordRequest(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordNetworkAttempt counts one network attempt and its duration.
func (m *Metrics) RecordNetworkAttempt(ctx context.Context, network string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("network", network), attribute.Bool("success", success))
	m.networkAttempts.Add(ctx, 1, attrs)
	m.networkDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordAuditFailure counts an audit write that was lost.
func (m *Metrics) RecordAuditFailure(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordDivergence counts a ledger/state divergence.
func (m *Metrics) RecordDivergence(ctx context.Context, assetID string) {
	if m == nil {
		return
	}
	m.divergences.Add(ctx, 1, metric.WithAttributes(attribute.String("asset_id", assetID)))
}
