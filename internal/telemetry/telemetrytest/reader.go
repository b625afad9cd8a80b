// Package telemetrytest records pipeline metrics in memory for tests.
package telemetrytest

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ppiankov/ledgerwatch/internal/telemetry"
)

// Recorder pairs instruments with the reader that collects them.
type Recorder struct {
	Metrics *telemetry.Metrics
	reader  *sdkmetric.ManualReader
}

// New returns instruments backed by a manual reader.
func New(t testing.TB) *Recorder {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	return &Recorder{Metrics: m, reader: reader}
}

// Counter sums every data point of the named Int64 counter.
func (r *Recorder) Counter(t testing.TB, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
