package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/MrEthical07/workgate"
)

type fakeSource struct {
	snapshot workgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() workgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollectorCountersAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: workgate.MetricsSnapshot{
			Counters: map[workgate.MetricID]uint64{
				workgate.MetricLoginSuccess:    7,
				workgate.MetricSessionConflict: 2,
			},
			Histograms: map[workgate.MetricID][]uint64{
				workgate.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	})

	families := gather(t, c)
	if got := families["workgate_login_success_total"].GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Fatalf("login success = %v", got)
	}
	if got := families["workgate_session_conflict_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("session conflict = %v", got)
	}
	if got := families["workgate_audit_dropped_total"].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("audit dropped = %v", got)
	}

	hist := families["workgate_verify_latency_seconds"].GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 36 {
		t.Fatalf("sample count = %d", hist.GetSampleCount())
	}
	buckets := hist.GetBucket()
	if len(buckets) != 7 || buckets[0].GetUpperBound() != 0.005 || buckets[0].GetCumulativeCount() != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	if buckets[6].GetCumulativeCount() != 28 {
		t.Fatalf("0.5s bucket = %d", buckets[6].GetCumulativeCount())
	}

	// Histograms disabled in the snapshot are omitted.
	if _, ok := families["workgate_authorize_latency_seconds"]; ok {
		t.Fatal("authorize histogram should be absent")
	}
}

func TestCollectorFromEngine(t *testing.T) {
	store := workgate.NewMemoryStore()
	cfg := workgate.DefaultConfig()
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	engine, err := workgate.New().WithConfig(cfg).WithStore(store).WithMailer(workgate.NopMailer{}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Verify(t.Context(), "not-a-token"); err == nil {
		t.Fatal("expected verify failure")
	}
	families := gather(t, NewCollector(engine))
	if got := families["workgate_verify_invalid_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("verify invalid = %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: workgate.MetricsSnapshot{
			Counters:   map[workgate.MetricID]uint64{workgate.MetricLoginSuccess: 1},
			Histograms: map[workgate.MetricID][]uint64{},
		},
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "workgate_login_success_total 1") {
		t.Fatalf("missing counter in:\n%s", rec.Body.String())
	}
}

func BenchmarkCollect(b *testing.B) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: workgate.MetricsSnapshot{
			Counters: map[workgate.MetricID]uint64{
				workgate.MetricLoginSuccess:   1000,
				workgate.MetricLoginFailure:   40,
				workgate.MetricAuthorizeAllow: 800,
				workgate.MetricAuthorizeDeny:  10,
			},
			Histograms: map[workgate.MetricID][]uint64{
				workgate.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	ch := make(chan prometheus.Metric, 64)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Collect(ch)
		for len(ch) > 0 {
			<-ch
		}
	}
}
