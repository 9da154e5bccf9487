// Package pipeline orchestrates one AI request end to end: rate-limit
// admission, active template fetch, variable validation, prompt
// rendering, PII masking, provider streaming with fallback, PII
// unmasking of the output, and usage accounting.
//
// The PII mapping built for a request lives only inside that request's
// Response. It is never logged and never persisted.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/watchout/haishin-puls-hub-sub001/internal/metrics"
	"github.com/watchout/haishin-puls-hub-sub001/internal/pii"
	"github.com/watchout/haishin-puls-hub-sub001/internal/provider"
	"github.com/watchout/haishin-puls-hub-sub001/internal/ratelimit"
	"github.com/watchout/haishin-puls-hub-sub001/internal/router"
	"github.com/watchout/haishin-puls-hub-sub001/internal/store"
	"github.com/watchout/haishin-puls-hub-sub001/internal/template"
	"github.com/watchout/haishin-puls-hub-sub001/internal/tracing"
)

// UsageSink receives the accounting record of every finished request.
// Implemented by the SQLite store.
type UsageSink interface {
	RecordUsage(ctx context.Context, r *store.UsageRecord) error
}

// Options wires the pipeline's collaborators.
type Options struct {
	Limiter   *ratelimit.Limiter
	Templates template.Store
	Router    *router.Router
	Sink      UsageSink
	Collector *metrics.Collector

	// PIIEnabled turns the masking stage on. ExtraStopwords are merged
	// additively into the masker's base vocabulary.
	PIIEnabled     bool
	ExtraStopwords []string

	// TemplateCacheTTL bounds template staleness after an update.
	// Defaults to 30 seconds.
	TemplateCacheTTL time.Duration
}

// Pipeline executes AI requests.
type Pipeline struct {
	limiter   *ratelimit.Limiter
	templates template.Store
	router    *router.Router
	sink      UsageSink
	collector *metrics.Collector

	piiEnabled     bool
	extraStopwords []string

	cache *expirable.LRU[string, *template.PromptTemplate]
}

// New creates a Pipeline from its collaborators.
func New(opts Options) *Pipeline {
	ttl := opts.TemplateCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Pipeline{
		limiter:        opts.Limiter,
		templates:      opts.Templates,
		router:         opts.Router,
		sink:           opts.Sink,
		collector:      opts.Collector,
		piiEnabled:     opts.PIIEnabled,
		extraStopwords: opts.ExtraStopwords,
		cache:          expirable.NewLRU[string, *template.PromptTemplate](128, nil, ttl),
	}
}

// Request identifies one AI call: who is asking, which usecase, and the
// raw variables to validate against the active template.
type Request struct {
	TenantID  string
	UserID    string
	Usecase   string
	Variables map[string]any
}

// Process runs a request through every stage up to stream establishment.
// The returned Response streams the unmasked output; consuming it to EOF
// triggers usage accounting. Admission is checked strictly before any
// provider is invoked, so rejected requests never consume quota upstream.
func (p *Pipeline) Process(ctx context.Context, req *Request) (*Response, error) {
	requestID := uuid.NewString()
	start := time.Now()
	tracing.SetRequestAttributes(ctx, requestID, req.TenantID, req.Usecase)

	admCtx, admSpan := tracing.StartStageSpan(ctx, "admission")
	res := p.limiter.Check(req.TenantID, req.UserID)
	admSpan.End()
	if !res.Allowed {
		p.collector.RecordRateLimited()
		err := &RateLimitedError{RetryAfter: res.RetryAfter}
		tracing.RecordError(admCtx, err)
		return nil, err
	}

	tplCtx, tplSpan := tracing.StartStageSpan(ctx, "template")
	tpl, err := p.activeTemplate(tplCtx, req.Usecase)
	tplSpan.End()
	if err != nil {
		return nil, err
	}

	_, valSpan := tracing.StartStageSpan(ctx, "validate")
	vars, err := template.ValidateVariables(tpl.Variables, req.Variables)
	valSpan.End()
	if err != nil {
		p.collector.RecordValidationFailure()
		return nil, err
	}

	system, err := template.Render(tpl.SystemPrompt, vars)
	if err != nil {
		p.collector.RecordValidationFailure()
		return nil, err
	}
	userPrompt, err := template.Render(tpl.UserPromptTemplate, vars)
	if err != nil {
		p.collector.RecordValidationFailure()
		return nil, err
	}

	// Masking covers the user prompt only. The system prompt is
	// operator-authored and carries no end-user data.
	var masker *pii.Masker
	if p.piiEnabled {
		_, maskSpan := tracing.StartStageSpan(ctx, "mask")
		masker = pii.NewMasker(p.extraStopwords...)
		userPrompt = masker.Mask(userPrompt)
		maskSpan.End()
	}

	primary := tpl.Model.Model
	if primary == "" {
		primary = p.router.SelectModel(req.Usecase)
	}

	streamCtx, streamSpan := tracing.StartStageSpan(ctx, "stream")
	result, err := p.router.StreamChat(streamCtx, system,
		[]provider.Message{{Role: "user", Content: userPrompt}},
		req.Usecase, tpl.Model)
	streamSpan.End()
	if err != nil {
		p.recordFailure(req, requestID, primary, start, err)
		tracing.RecordError(streamCtx, err)
		return nil, err
	}

	p.collector.RecordRequest()
	p.collector.IncrementActive()
	if result.Model != primary {
		p.collector.RecordFallback()
	}

	log.Debug().
		Str("request_id", requestID).
		Str("usecase", req.Usecase).
		Str("model", result.Model).
		Int("remaining", res.Remaining).
		Msg("stream established")

	return &Response{
		RequestID: requestID,
		Model:     result.Model,
		pipeline:  p,
		req:       req,
		result:    result,
		masker:    masker,
		start:     start,
		ctx:       ctx,
	}, nil
}

// activeTemplate fetches the active template for a usecase through a
// short-lived cache, so template updates take effect within the TTL
// without a store round trip per request.
func (p *Pipeline) activeTemplate(ctx context.Context, usecase string) (*template.PromptTemplate, error) {
	if tpl, ok := p.cache.Get(usecase); ok {
		return tpl, nil
	}
	tpl, err := p.templates.ActiveTemplate(ctx, usecase)
	if err != nil {
		return nil, err
	}
	p.cache.Add(usecase, tpl)
	return tpl, nil
}

// InvalidateTemplate drops a usecase from the template cache. Called
// after a template save so the new version is picked up immediately.
func (p *Pipeline) InvalidateTemplate(usecase string) {
	p.cache.Remove(usecase)
}

// recordFailure accounts a request that never established a stream.
func (p *Pipeline) recordFailure(req *Request, requestID, model string, start time.Time, cause error) {
	p.collector.RecordProviderFailure()

	rec := &store.UsageRecord{
		RequestID:    requestID,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Usecase:      req.Usecase,
		Model:        model,
		LatencyMs:    time.Since(start).Milliseconds(),
		Status:       "error",
		ErrorMessage: cause.Error(),
	}
	p.writeUsage(rec)
}

// writeUsage persists a usage record with its own timeout, detached
// from the request context which may already be done.
func (p *Pipeline) writeUsage(rec *store.UsageRecord) {
	if p.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.sink.RecordUsage(ctx, rec); err != nil {
		log.Error().Err(err).Str("request_id", rec.RequestID).Msg("usage record write failed")
	}
}
