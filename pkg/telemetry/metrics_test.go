package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/hmr/pkg/hmr"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func newRuntime(t *testing.T, opts hmr.Options) *hmr.Runtime {
	t.Helper()
	accept := func(ctx context.Context, m *hmr.Module) error {
		m.Hot().Accept()
		return m.Export("v", 1)
	}
	rt, err := hmr.NewRuntime(hmr.Config{Main: "main.js", Generation: 1}, hmr.RawTable{
		"main.js": hmr.RawESM{Deps: []any{"leaf.js"}, ExportKeys: []string{"v"}, Load: accept},
		"leaf.js": hmr.RawESM{ExportKeys: []string{"v"}, Load: func(ctx context.Context, m *hmr.Module) error {
			return m.Export("v", 1)
		}},
		"bad.js": hmr.RawESM{Load: func(ctx context.Context, m *hmr.Module) error {
			return errors.New("boom")
		}},
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestMetrics_Loads(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	rt := newRuntime(t, hmr.Options{Interceptors: []hmr.Interceptor{m}})

	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Registry().EnsureLoaded(context.Background(), "bad.js"); err == nil {
		t.Fatal("expected load error")
	}
	if _, err := rt.Registry().EnsureLoaded(context.Background(), "missing.js"); err == nil {
		t.Fatal("expected not found")
	}

	if got := metricCounterValue(t, m.loadsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("loads_total(success) = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.loadsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("loads_total(error) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.loadErrors.WithLabelValues("internal")); got != 1 {
		t.Errorf("load_errors_total(internal) = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.loadDuration); got != 3 {
		t.Errorf("load_duration_seconds count = %d, want 3", got)
	}
}

func TestMetrics_Updates(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))
	rt := newRuntime(t, hmr.Options{Interceptors: []hmr.Interceptor{m}})
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	leaf := hmr.RawESM{ExportKeys: []string{"v"}, Load: func(ctx context.Context, m *hmr.Module) error {
		return m.Export("v", 2)
	}}
	res, err := rt.Apply(context.Background(), hmr.Batch{Generation: 2, Modules: hmr.RawTable{"leaf.js": leaf}})
	if err != nil || res.Outcome != hmr.OutcomePatched {
		t.Fatalf("Apply() = %+v, %v", res, err)
	}
	if _, err := rt.Apply(context.Background(), hmr.Batch{Generation: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Apply(context.Background(), hmr.Batch{Generation: 9}); err == nil {
		t.Fatal("expected stale generation")
	}

	if got := metricCounterValue(t, m.updatesTotal.WithLabelValues("patched")); got != 1 {
		t.Errorf("updates_total(patched) = %v", got)
	}
	if got := metricCounterValue(t, m.updatesTotal.WithLabelValues("noop")); got != 1 {
		t.Errorf("updates_total(noop) = %v", got)
	}
	if got := metricCounterValue(t, m.updatesTotal.WithLabelValues("rejected_stale")); got != 1 {
		t.Errorf("updates_total(rejected_stale) = %v", got)
	}
	if got := metricHistogramCount(t, m.patchedModules); got != 1 {
		t.Errorf("patched_modules count = %d", got)
	}
	if got := metricGaugeValue(t, m.generation); got != 2 {
		t.Errorf("generation = %v, want 2", got)
	}
}

func TestMetrics_DevServerRecorders(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	m.RecordClientConnect()
	m.RecordClientConnect()
	m.RecordClientDisconnect()
	m.RecordFrame("Update")
	m.RecordFrame("Update")
	m.RecordGeneration(7)

	if got := metricGaugeValue(t, m.connectedClients); got != 1 {
		t.Errorf("connected_clients = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.framesSent.WithLabelValues("Update")); got != 2 {
		t.Errorf("frames_sent_total(Update) = %v, want 2", got)
	}
	if got := metricGaugeValue(t, m.generation); got != 7 {
		t.Errorf("generation = %v, want 7", got)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&hmr.DecodeError{ID: "a", Reason: "x"}, "decode"},
		{&hmr.LoadError{ID: "a", Err: hmr.ErrNotInitialized}, "not_initialized"},
		{&hmr.GenerationError{Current: 1, Got: 3}, "stale"},
		{hmr.ErrUpdateInProgress, "in_progress"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range tests {
		if got := categorizeError(tc.err); got != tc.want {
			t.Errorf("categorizeError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
