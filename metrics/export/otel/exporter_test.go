package otel

import (
	"context"
	"sync"
	"testing"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[custodyauth.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() custodyauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := custodyauth.MetricsSnapshot{
		Counters:   make(map[custodyauth.MetricID]uint64, len(f.counters)),
		Histograms: map[custodyauth.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[custodyauth.MetricBackofficeLatency] = append([]uint64(nil), f.latency...)
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			}
		}
	}
	return out
}

func TestExporterCollectsCountersAndBuckets(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		counters: map[custodyauth.MetricID]uint64{
			custodyauth.MetricLoginSuccess:              3,
			custodyauth.MetricBackofficeRefreshFallback: 1,
		},
		latency: []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped: 2,
	}

	exp, err := NewFromSource(provider.Meter("custodyauth-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	got := collect(t, reader)
	want := map[string]int64{
		"custodyauth_login_success_total":                       3,
		"custodyauth_backoffice_refresh_fallback_total":         1,
		"custodyauth_backoffice_latency_seconds_bucket_le_0_05": 1,
		"custodyauth_backoffice_latency_seconds_bucket_le_1":    5,
		"custodyauth_backoffice_latency_seconds_bucket_le_inf":  8,
		"custodyauth_backoffice_latency_seconds_count":          8,
		"custodyauth_audit_dropped_total":                       2,
	}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("%s: expected %d, got %d", name, v, got[name])
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	if _, err := NewFromSource(provider.Meter("custodyauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := New(provider.Meter("custodyauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{counters: map[custodyauth.MetricID]uint64{}}

	exp, err := NewFromSource(provider.Meter("custodyauth-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[custodyauth.MetricLoginFailure] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
