package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vango-dev/hmr/pkg/hmr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
)

type recordingProvider struct {
	embedded.TracerProvider

	mu    sync.Mutex
	spans []*recordingSpan
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return &recordingTracer{p: p}
}

func (p *recordingProvider) named(name string) []*recordingSpan {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*recordingSpan
	for _, s := range p.spans {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}

type recordingTracer struct {
	embedded.Tracer
	p *recordingProvider
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordingSpan{name: name, attrs: cfg.Attributes()}
	t.p.mu.Lock()
	t.p.spans = append(t.p.spans, s)
	t.p.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

type recordingSpan struct {
	noop.Span

	mu     sync.Mutex
	name   string
	attrs  []attribute.KeyValue
	status codes.Code
	errs   []error
	ended  bool
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	s.attrs = append(s.attrs, kv...)
	s.mu.Unlock()
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordingSpan) End(...trace.SpanEndOption) {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

func (s *recordingSpan) attr(key string) (attribute.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range s.attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_Loads(t *testing.T) {
	tp := &recordingProvider{}
	tr := NewTracing(WithTracerProvider(tp), WithAttributes(attribute.String("realm", "client")))

	var seen trace.Span
	rt, err := hmr.NewRuntime(hmr.Config{Main: "main.js"}, hmr.RawTable{
		"main.js": hmr.RawESM{Deps: []any{"bad.js"}, Load: func(ctx context.Context, m *hmr.Module) error {
			return nil
		}},
		"ok.js": hmr.RawESM{Load: func(ctx context.Context, m *hmr.Module) error {
			seen = trace.SpanFromContext(ctx)
			return nil
		}},
		"bad.js": hmr.RawESM{Load: func(ctx context.Context, m *hmr.Module) error {
			return errors.New("boom")
		}},
	}, hmr.Options{Interceptors: []hmr.Interceptor{tr}})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	if _, err := rt.Registry().EnsureLoaded(context.Background(), "ok.js"); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Start(context.Background()); err == nil {
		t.Fatal("expected main to fail through bad.js")
	}

	loads := tp.named("hmr.load")
	if len(loads) != 3 {
		t.Fatalf("got %d load spans, want 3", len(loads))
	}
	byModule := make(map[string]*recordingSpan)
	for _, s := range loads {
		v, ok := s.attr("hmr.module")
		if !ok {
			t.Fatal("load span without hmr.module")
		}
		if _, ok := s.attr("realm"); !ok {
			t.Error("load span missing constant attribute")
		}
		if !s.ended {
			t.Errorf("span for %s not ended", v.AsString())
		}
		byModule[v.AsString()] = s
	}

	if seen != trace.Span(byModule["ok.js"]) {
		t.Error("module body did not run with its load span in context")
	}
	if byModule["ok.js"].status != codes.Ok {
		t.Errorf("ok.js status = %v, want Ok", byModule["ok.js"].status)
	}
	for _, id := range []string{"bad.js", "main.js"} {
		s := byModule[id]
		if s.status != codes.Error || len(s.errs) != 1 {
			t.Errorf("%s status = %v errs = %d, want Error with one error", id, s.status, len(s.errs))
		}
	}
}

func TestTracing_ModuleFilter(t *testing.T) {
	tp := &recordingProvider{}
	tr := NewTracing(WithTracerProvider(tp), WithModuleFilter(func(id hmr.ModuleID) bool {
		return id != "vendor.js"
	}))

	rt, err := hmr.NewRuntime(hmr.Config{Main: "main.js"}, hmr.RawTable{
		"main.js":   hmr.RawESM{Deps: []any{"vendor.js"}, Load: func(context.Context, *hmr.Module) error { return nil }},
		"vendor.js": hmr.RawESM{Load: func(context.Context, *hmr.Module) error { return nil }},
	}, hmr.Options{Interceptors: []hmr.Interceptor{tr}})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	loads := tp.named("hmr.load")
	if len(loads) != 1 {
		t.Fatalf("got %d load spans, want 1", len(loads))
	}
	if v, _ := loads[0].attr("hmr.module"); v.AsString() != "main.js" {
		t.Errorf("traced %q, want main.js", v.AsString())
	}
}

func TestTracing_Updates(t *testing.T) {
	tp := &recordingProvider{}
	tr := NewTracing(WithTracerProvider(tp))

	rt, err := hmr.NewRuntime(hmr.Config{Main: "main.js", Generation: 1}, hmr.RawTable{
		"main.js": hmr.RawESM{Load: func(ctx context.Context, m *hmr.Module) error { return nil }},
	}, hmr.Options{Interceptors: []hmr.Interceptor{tr}})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// main never accepts, so any change to it escalates.
	res, err := rt.Apply(context.Background(), hmr.Batch{Generation: 2, Modules: hmr.RawTable{
		"main.js": hmr.RawESM{Load: func(ctx context.Context, m *hmr.Module) error { return nil }},
	}})
	if err != nil || res.Outcome != hmr.OutcomeFullReload {
		t.Fatalf("Apply() = %+v, %v", res, err)
	}
	if _, err := rt.Apply(context.Background(), hmr.Batch{Generation: 5}); !errors.Is(err, hmr.ErrStaleGeneration) {
		t.Fatalf("Apply() error = %v, want ErrStaleGeneration", err)
	}

	updates := tp.named("hmr.update")
	if len(updates) != 2 {
		t.Fatalf("got %d update spans, want 2", len(updates))
	}
	first, second := updates[0], updates[1]
	if v, _ := first.attr("hmr.generation"); v.AsInt64() != 2 {
		t.Errorf("hmr.generation = %d, want 2", v.AsInt64())
	}
	if v, _ := first.attr("hmr.outcome"); v.AsString() != "full-reload" {
		t.Errorf("hmr.outcome = %q, want full-reload", v.AsString())
	}
	if _, ok := first.attr("hmr.reload_reason"); !ok {
		t.Error("expected hmr.reload_reason on full reload")
	}
	if first.status != codes.Ok {
		t.Errorf("full reload status = %v, want Ok", first.status)
	}
	if second.status != codes.Error {
		t.Errorf("rejected batch status = %v, want Error", second.status)
	}
}
