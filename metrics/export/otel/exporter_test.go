package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/workgate"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot workgate.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() workgate.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := workgate.MetricsSnapshot{
		Counters:   make(map[workgate.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[workgate.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func int64Value(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				return data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				return data.DataPoints[0].Value
			}
			t.Fatalf("%s has unexpected data %T", name, m.Data)
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: workgate.MetricsSnapshot{
			Counters: map[workgate.MetricID]uint64{
				workgate.MetricLoginSuccess:      3,
				workgate.MetricTwoFactorRequired: 2,
			},
			Histograms: map[workgate.MetricID][]uint64{
				workgate.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(provider.Meter("workgate-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := int64Value(t, rm, "workgate_login_success_total"); got != 3 {
		t.Fatalf("login success = %d", got)
	}
	if got := int64Value(t, rm, "workgate_two_factor_required_total"); got != 2 {
		t.Fatalf("two-factor required = %d", got)
	}
	if got := int64Value(t, rm, "workgate_audit_dropped_total"); got != 1 {
		t.Fatalf("audit dropped = %d", got)
	}
	if got := int64Value(t, rm, "workgate_verify_latency_seconds_bucket_le_0_025"); got != 3 {
		t.Fatalf("cumulative 25ms bucket = %d", got)
	}
	if got := int64Value(t, rm, "workgate_verify_latency_seconds_count"); got != 8 {
		t.Fatalf("histogram count = %d", got)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporterFromSource(provider.Meter("workgate-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: workgate.MetricsSnapshot{
			Counters:   map[workgate.MetricID]uint64{workgate.MetricLoginSuccess: 1},
			Histograms: map[workgate.MetricID][]uint64{workgate.MetricAuthorizeLatency: {1, 0, 0, 0, 0, 0, 0, 0}},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("workgate-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer func() { _ = exp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[workgate.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
