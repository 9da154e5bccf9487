package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/watchout/haishin-puls-hub-sub001/internal/metrics"
	"github.com/watchout/haishin-puls-hub-sub001/internal/provider"
	"github.com/watchout/haishin-puls-hub-sub001/internal/ratelimit"
	"github.com/watchout/haishin-puls-hub-sub001/internal/router"
	"github.com/watchout/haishin-puls-hub-sub001/internal/store"
	"github.com/watchout/haishin-puls-hub-sub001/internal/template"
	"github.com/watchout/haishin-puls-hub-sub001/internal/testutil"
)

// memSink records usage records in memory.
type memSink struct {
	mu      sync.Mutex
	records []*store.UsageRecord
}

func (s *memSink) RecordUsage(_ context.Context, r *store.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *memSink) all() []*store.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.UsageRecord(nil), s.records...)
}

func announceTemplate() *template.PromptTemplate {
	return &template.PromptTemplate{
		Usecase:      "draft_announce",
		SystemPrompt: "あなたはイベント運営アシスタントです。",
		UserPromptTemplate: "件名: 説明会の案内\n宛先: {{event.contact}} {{event.email}}",
		Variables: template.VariableDefinition{
			"event": {
				Required: []string{"contact", "email"},
				Fields: map[string]template.FieldDef{
					"contact": {Type: template.TypeString},
					"email":   {Type: template.TypeString},
				},
			},
		},
		Version:  1,
		IsActive: true,
	}
}

func announceVariables() map[string]any {
	return map[string]any{
		"event": map[string]any{
			"contact": "山田太郎",
			"email":   "yamada@example.com",
		},
	}
}

type fixture struct {
	pipeline  *Pipeline
	provider  *testutil.FakeProvider
	templates *testutil.MemTemplateStore
	limiter   *ratelimit.Limiter
	sink      *memSink
	collector *metrics.Collector
}

func newFixture(t *testing.T, p *testutil.FakeProvider, maxRequests int) *fixture {
	t.Helper()

	rt := router.New(provider.NewRegistry(p), router.Config{
		Models: map[string]router.ModelDefinition{
			"model-a": {Provider: "fake", InputCostPer1K: 1, OutputCostPer1K: 1},
			"model-b": {Provider: "fake", InputCostPer1K: 1, OutputCostPer1K: 1},
		},
		DefaultModel:   "model-a",
		FallbackChain:  []string{"model-a", "model-b"},
		AttemptTimeout: time.Second,
	})

	f := &fixture{
		provider:  p,
		templates: testutil.NewMemTemplateStore(announceTemplate()),
		limiter:   ratelimit.New(maxRequests, time.Minute, 0, 0),
		sink:      &memSink{},
		collector: metrics.NewCollector(),
	}
	f.pipeline = New(Options{
		Limiter:    f.limiter,
		Templates:  f.templates,
		Router:     rt,
		Sink:       f.sink,
		Collector:  f.collector,
		PIIEnabled: true,
	})
	return f
}

// ---- happy path ----

func TestProcess_StreamsAndAccounts(t *testing.T) {
	p := &testutil.FakeProvider{
		ProviderName: "fake",
		Chunks:       []string{"ご案内を", "作成しました。"},
		Usage:        provider.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000},
		ReportUsage:  true,
	}
	f := newFixture(t, p, 10)

	resp, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("missing request id")
	}
	if resp.Model != "model-a" {
		t.Errorf("model = %q, want model-a", resp.Model)
	}

	out := testutil.DrainResult(t, resp.Recv)
	if out != "ご案内を作成しました。" {
		t.Errorf("output = %q", out)
	}

	records := f.sink.all()
	if len(records) != 1 {
		t.Fatalf("got %d usage records, want 1", len(records))
	}
	rec := records[0]
	if rec.Status != "ok" {
		t.Errorf("status = %q, want ok", rec.Status)
	}
	if rec.InputTokens != 1000 || rec.OutputTokens != 1000 {
		t.Errorf("tokens = (%d, %d), want (1000, 1000)", rec.InputTokens, rec.OutputTokens)
	}
	if rec.EstimatedCostJPY != 2 {
		t.Errorf("cost = %d, want 2", rec.EstimatedCostJPY)
	}
	if rec.Estimated {
		t.Error("reported usage must not be flagged estimated")
	}
	if rec.TenantID != "t1" || rec.Usecase != "draft_announce" {
		t.Errorf("record identity = %+v", rec)
	}

	if f.collector.Stats().ActiveRequests != 0 {
		t.Error("active gauge not released after EOF")
	}
}

func TestProcess_UsageAttributesLandOnRequestSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	})

	p := &testutil.FakeProvider{
		ProviderName: "fake",
		Chunks:       []string{"了解しました。"},
		Usage:        provider.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000},
		ReportUsage:  true,
	}
	f := newFixture(t, p, 10)

	ctx, reqSpan := tp.Tracer("test").Start(context.Background(), "request")
	resp, err := f.pipeline.Process(ctx, &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	testutil.DrainResult(t, resp.Recv)
	reqSpan.End()

	attrs := make(map[attribute.Key]attribute.Value)
	for _, s := range exporter.GetSpans() {
		if s.Name != "request" {
			continue
		}
		for _, attr := range s.Attributes {
			attrs[attr.Key] = attr.Value
		}
	}
	if got := attrs["usage.model"]; got.AsString() != "model-a" {
		t.Errorf("usage.model = %q, want model-a", got.AsString())
	}
	if got := attrs["usage.cost_jpy"]; got.AsInt64() != 2 {
		t.Errorf("usage.cost_jpy = %d, want 2", got.AsInt64())
	}
	if attrs["usage.estimated"].AsBool() {
		t.Error("reported usage flagged estimated on span")
	}
}

// ---- admission ----

func TestProcess_AdmissionBeforeProvider(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake", Chunks: []string{"ok"}}
	f := newFixture(t, p, 1)
	ctx := context.Background()

	req := &Request{TenantID: "t1", UserID: "u1", Usecase: "draft_announce", Variables: announceVariables()}

	resp, err := f.pipeline.Process(ctx, req)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	testutil.DrainResult(t, resp.Recv)

	_, err = f.pipeline.Process(ctx, req)
	var rle *RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rle.RetryAfter < time.Second {
		t.Errorf("RetryAfter = %v, below the one second floor", rle.RetryAfter)
	}
	// The rejected request must never have reached the provider.
	if got := len(p.AttemptedModels()); got != 1 {
		t.Errorf("provider attempts = %d, want 1", got)
	}
	if f.collector.Stats().RateLimited != 1 {
		t.Error("rate limited counter not incremented")
	}
}

func TestProcess_DistinctUsersNotCoupled(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake", Chunks: []string{"ok"}}
	f := newFixture(t, p, 1)
	ctx := context.Background()

	r1, err := f.pipeline.Process(ctx, &Request{TenantID: "t1", UserID: "u1", Usecase: "draft_announce", Variables: announceVariables()})
	if err != nil {
		t.Fatalf("u1: %v", err)
	}
	testutil.DrainResult(t, r1.Recv)

	r2, err := f.pipeline.Process(ctx, &Request{TenantID: "t1", UserID: "u2", Usecase: "draft_announce", Variables: announceVariables()})
	if err != nil {
		t.Fatalf("u2 should have its own window: %v", err)
	}
	testutil.DrainResult(t, r2.Recv)
}

// ---- validation ----

func TestProcess_ValidationFailureShortCircuits(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake", Chunks: []string{"ok"}}
	f := newFixture(t, p, 10)

	_, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: map[string]any{"event": map[string]any{"contact": "山田太郎"}},
	})
	var missing *template.RequiredVariableMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected RequiredVariableMissingError, got %v", err)
	}
	if missing.Field != "email" {
		t.Errorf("missing field = %q, want email", missing.Field)
	}
	if len(p.AttemptedModels()) != 0 {
		t.Error("provider must not be invoked after validation failure")
	}
	if len(f.sink.all()) != 0 {
		t.Error("no usage record expected for a rejected request")
	}
	if f.collector.Stats().ValidationFailures != 1 {
		t.Error("validation failure counter not incremented")
	}
}

func TestProcess_UnknownUsecase(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake"}
	f := newFixture(t, p, 10)

	_, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "nonexistent",
		Variables: map[string]any{},
	})
	if err == nil {
		t.Fatal("expected error for unknown usecase")
	}
	if len(p.AttemptedModels()) != 0 {
		t.Error("provider must not be invoked without a template")
	}
}

// ---- PII round trip ----

func TestProcess_MasksPromptAndRestoresOutput(t *testing.T) {
	p := &testutil.FakeProvider{
		ProviderName: "fake",
		Chunks:       []string{"[NAME_1]様([EMAIL_1])宛に説明会の案内を作成しました。"},
	}
	f := newFixture(t, p, 10)

	resp, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	out := testutil.DrainResult(t, resp.Recv)

	// The prompt sent upstream carries tokens, not the raw PII.
	sent := f.provider.SentRequest()
	userMsg := sent.Messages[0].Content
	if strings.Contains(userMsg, "山田太郎") || strings.Contains(userMsg, "yamada@example.com") {
		t.Errorf("raw PII leaked upstream: %q", userMsg)
	}
	if !strings.Contains(userMsg, "[NAME_1]") || !strings.Contains(userMsg, "[EMAIL_1]") {
		t.Errorf("expected mask tokens in upstream prompt: %q", userMsg)
	}

	// The client-visible output has the original values restored.
	if !strings.Contains(out, "山田太郎") || !strings.Contains(out, "yamada@example.com") {
		t.Errorf("output not unmasked: %q", out)
	}
	if strings.Contains(out, "[NAME_1]") {
		t.Errorf("mask token leaked to client: %q", out)
	}
}

func TestProcess_TokenSplitAcrossChunks(t *testing.T) {
	p := &testutil.FakeProvider{
		ProviderName: "fake",
		Chunks:       []string{"こんにちは [NA", "ME_1] さん"},
	}
	f := newFixture(t, p, 10)

	resp, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	out := testutil.DrainResult(t, resp.Recv)
	if !strings.Contains(out, "山田太郎") {
		t.Errorf("split token not restored: %q", out)
	}
	if strings.Contains(out, "[NAME_1]") || strings.Contains(out, "[NA") {
		t.Errorf("fragment leaked: %q", out)
	}
}

func TestProcess_PIIDisabledPassesThrough(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake", Chunks: []string{"ok"}}
	f := newFixture(t, p, 10)
	f.pipeline.piiEnabled = false

	resp, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	testutil.DrainResult(t, resp.Recv)

	userMsg := f.provider.SentRequest().Messages[0].Content
	if !strings.Contains(userMsg, "山田太郎") {
		t.Errorf("masking applied while disabled: %q", userMsg)
	}
}

// ---- fallback and failure accounting ----

func TestProcess_FallbackCounted(t *testing.T) {
	p := &testutil.FakeProvider{
		ProviderName: "fake",
		Chunks:       []string{"ok"},
		FailModels:   map[string]bool{"model-a": true},
	}
	f := newFixture(t, p, 10)

	resp, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Model != "model-b" {
		t.Errorf("served model = %q, want model-b", resp.Model)
	}
	testutil.DrainResult(t, resp.Recv)

	if f.collector.Stats().FallbackServed != 1 {
		t.Error("fallback counter not incremented")
	}
}

func TestProcess_AllProvidersFailRecordsError(t *testing.T) {
	p := &testutil.FakeProvider{
		ProviderName: "fake",
		FailModels:   map[string]bool{"model-a": true, "model-b": true},
	}
	f := newFixture(t, p, 10)

	_, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	var unavailable *router.ProviderUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ProviderUnavailableError, got %v", err)
	}

	records := f.sink.all()
	if len(records) != 1 {
		t.Fatalf("got %d usage records, want 1", len(records))
	}
	if records[0].Status != "error" {
		t.Errorf("status = %q, want error", records[0].Status)
	}
	if records[0].ErrorMessage == "" {
		t.Error("error message missing from failure record")
	}
	if f.collector.Stats().ProviderFailures != 1 {
		t.Error("provider failure counter not incremented")
	}
}

func TestProcess_AttemptTimeoutCounted(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake", Block: true}
	collector := metrics.NewCollector()
	rt := router.New(provider.NewRegistry(p), router.Config{
		Models: map[string]router.ModelDefinition{
			"model-a": {Provider: "fake", InputCostPer1K: 1, OutputCostPer1K: 1},
		},
		DefaultModel:   "model-a",
		AttemptTimeout: 20 * time.Millisecond,
		OnTimeout:      func(string) { collector.RecordTimeout() },
	})
	pl := New(Options{
		Limiter:   ratelimit.New(10, time.Minute, 0, 0),
		Templates: testutil.NewMemTemplateStore(announceTemplate()),
		Router:    rt,
		Sink:      &memSink{},
		Collector: collector,
	})

	_, err := pl.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	var unavailable *router.ProviderUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ProviderUnavailableError, got %v", err)
	}
	if got := collector.Stats().Timeouts; got != 1 {
		t.Errorf("timeouts counter = %d, want 1", got)
	}
}

func TestResponse_CloseBeforeEOFAborts(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake", Chunks: []string{"a", "b", "c"}}
	f := newFixture(t, p, 10)

	resp, err := f.pipeline.Process(context.Background(), &Request{
		TenantID: "t1", UserID: "u1", Usecase: "draft_announce",
		Variables: announceVariables(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := resp.Recv(); err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	if err := resp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := f.sink.all()
	if len(records) != 1 {
		t.Fatalf("got %d usage records, want 1", len(records))
	}
	if records[0].Status != "aborted" {
		t.Errorf("status = %q, want aborted", records[0].Status)
	}
	if f.collector.Stats().ActiveRequests != 0 {
		t.Error("active gauge not released on abort")
	}
}

// ---- template caching ----

func TestProcess_TemplateCached(t *testing.T) {
	p := &testutil.FakeProvider{ProviderName: "fake", Chunks: []string{"ok"}}
	f := newFixture(t, p, 10)
	ctx := context.Background()
	req := &Request{TenantID: "t1", UserID: "u1", Usecase: "draft_announce", Variables: announceVariables()}

	for i := 0; i < 3; i++ {
		resp, err := f.pipeline.Process(ctx, req)
		if err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
		testutil.DrainResult(t, resp.Recv)
	}
	if f.templates.Fetches != 1 {
		t.Errorf("store fetches = %d, want 1 (cached)", f.templates.Fetches)
	}

	f.pipeline.InvalidateTemplate("draft_announce")
	resp, err := f.pipeline.Process(ctx, req)
	if err != nil {
		t.Fatalf("Process after invalidate: %v", err)
	}
	testutil.DrainResult(t, resp.Recv)
	if f.templates.Fetches != 2 {
		t.Errorf("store fetches after invalidate = %d, want 2", f.templates.Fetches)
	}
}
