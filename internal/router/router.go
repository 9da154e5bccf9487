// Package router orchestrates provider calls: it maps usecases to models,
// walks an ordered fallback chain strictly sequentially, and meters token
// usage into yen-denominated cost once a stream has been fully consumed.
package router

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watchout/haishin-puls-hub-sub001/internal/provider"
	"github.com/watchout/haishin-puls-hub-sub001/internal/template"
	"github.com/watchout/haishin-puls-hub-sub001/internal/tokenizer"
	"github.com/watchout/haishin-puls-hub-sub001/internal/tracing"
)

// Config carries the routing tables, normally sourced from the config
// file.
type Config struct {
	// Models maps model names to their provider and rates.
	Models map[string]ModelDefinition
	// UsecaseModels maps usecases to their preferred model.
	UsecaseModels map[string]string
	// DefaultModel serves unmapped or empty usecases.
	DefaultModel string
	// FallbackChain is the ordered list of models tried after the
	// primary. Must not contain duplicates.
	FallbackChain []string
	// AttemptTimeout bounds each single provider attempt.
	AttemptTimeout time.Duration
	// OnTimeout, when set, is called for every attempt abandoned by the
	// attempt timeout, including ones the fallback chain recovers from.
	OnTimeout func(model string)
}

// Router resolves models and executes the fallback protocol.
type Router struct {
	registry *provider.Registry
	cfg      Config
	tok      *tokenizer.Tokenizer
}

// New creates a Router over the given provider registry.
func New(registry *provider.Registry, cfg Config) *Router {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	return &Router{
		registry: registry,
		cfg:      cfg,
		tok:      tokenizer.New(),
	}
}

// SelectModel returns the configured model for a usecase, or the default
// model when the usecase is unmapped or empty.
func (r *Router) SelectModel(usecase string) string {
	if usecase != "" {
		if m, ok := r.cfg.UsecaseModels[usecase]; ok && m != "" {
			return m
		}
	}
	return r.cfg.DefaultModel
}

// Result is a successfully established stream: the serving model's
// identity, the lazily produced chunk sequence, and the deferred usage
// accessor.
type Result struct {
	Model string

	stream provider.Stream
	def    ModelDefinition
	tok    *tokenizer.Tokenizer
	system string
	inputs []string

	mu       sync.Mutex
	consumed bool
	output   strings.Builder
	usage    AIUsage
	resolved bool
}

// Recv returns the next text chunk, or io.EOF once the stream ends. The
// sequence is finite and non-restartable.
func (res *Result) Recv() (string, error) {
	chunk, err := res.stream.Recv()
	if err == io.EOF {
		res.mu.Lock()
		res.consumed = true
		res.mu.Unlock()
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	res.mu.Lock()
	res.output.WriteString(chunk)
	res.mu.Unlock()
	return chunk, nil
}

// Usage resolves the billable accounting for this call. It only succeeds
// after the stream has been fully consumed, because the final token
// counts arrive at the end of the stream. When the provider reported no
// counts, a tokenizer estimate is used and the result is flagged.
func (res *Result) Usage() (AIUsage, error) {
	res.mu.Lock()
	defer res.mu.Unlock()

	if !res.consumed {
		return AIUsage{}, fmt.Errorf("router: usage unavailable until the stream is fully consumed")
	}
	if res.resolved {
		return res.usage, nil
	}

	reported, ok := res.stream.Usage()
	usage := AIUsage{
		InputTokens:  reported.PromptTokens,
		OutputTokens: reported.CompletionTokens,
	}
	if !ok {
		usage.InputTokens = res.tok.CountConversation(res.Model, res.system, res.inputs)
		usage.OutputTokens = res.tok.CountText(res.Model, res.output.String())
		usage.Estimated = true
	}
	usage.EstimatedCostJPY = CostJPY(res.def, usage.InputTokens, usage.OutputTokens)

	res.usage = usage
	res.resolved = true
	return usage, nil
}

// Provider returns the name of the provider serving this stream.
func (res *Result) Provider() string {
	return res.def.Provider
}

// Close abandons the underlying stream.
func (res *Result) Close() error {
	return res.stream.Close()
}

// StreamChat resolves the fallback chain for a usecase and attempts each
// model strictly sequentially, returning on the first success. Each
// attempt's failure is recorded and the next chain entry is tried; only
// when the whole chain is exhausted does the call fail with
// ProviderUnavailableError. Cancellation of ctx terminates the whole call
// rather than advancing the chain.
func (r *Router) StreamChat(ctx context.Context, system string, messages []provider.Message, usecase string, params template.ModelParams) (*Result, error) {
	primary := params.Model
	if primary == "" {
		primary = r.SelectModel(usecase)
	}
	chain := r.buildChain(primary)

	req := &provider.Request{
		System:      system,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}

	var lastErr error
	for _, model := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		def, ok := r.cfg.Models[model]
		if !ok {
			lastErr = fmt.Errorf("router: model %q has no definition", model)
			continue
		}
		p, ok := r.registry.Get(def.Provider)
		if !ok {
			lastErr = fmt.Errorf("router: provider %q for model %q is not registered", def.Provider, model)
			continue
		}

		req.Model = model
		stream, err := r.attempt(ctx, p, req, model)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.Warn().
				Str("model", model).
				Str("provider", def.Provider).
				Err(err).
				Msg("model attempt failed, advancing fallback chain")
			continue
		}

		if model != primary {
			log.Info().Str("primary", primary).Str("model", model).Str("usecase", usecase).Msg("request served by fallback model")
		}
		inputs := make([]string, len(messages))
		for i, m := range messages {
			inputs[i] = m.Content
		}
		return &Result{
			Model:  model,
			stream: stream,
			def:    def,
			tok:    r.tok,
			system: system,
			inputs: inputs,
		}, nil
	}

	return nil, &ProviderUnavailableError{Attempts: len(chain), LastErr: lastErr}
}

// buildChain returns [primary] followed by the configured fallback chain
// with the primary removed, so the primary is never re-attempted later.
func (r *Router) buildChain(primary string) []string {
	chain := make([]string, 0, 1+len(r.cfg.FallbackChain))
	chain = append(chain, primary)
	for _, m := range r.cfg.FallbackChain {
		if m != primary {
			chain = append(chain, m)
		}
	}
	return chain
}

// attempt runs a single provider call bounded by the attempt timeout. The
// timeout governs stream establishment; an established stream lives until
// ctx is cancelled or it ends naturally. On timeout the in-flight attempt
// is aborted via its own cancel and a TimeoutError is returned for the
// fallback loop to record. Each attempt gets its own client span so a
// trace shows every chain entry tried, not just the one that served.
func (r *Router) attempt(ctx context.Context, p provider.Provider, req *provider.Request, model string) (provider.Stream, error) {
	ctx, span := tracing.StartAttemptSpan(ctx, model, p.Name())
	defer span.End()

	attemptCtx, cancel := context.WithCancel(ctx)

	type outcome struct {
		stream provider.Stream
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := p.StreamChat(attemptCtx, req)
		done <- outcome{stream: s, err: err}
	}()

	timer := time.NewTimer(r.cfg.AttemptTimeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			cancel()
			tracing.RecordError(ctx, o.err)
			return nil, o.err
		}
		return &cancelStream{Stream: o.stream, cancel: cancel}, nil
	case <-timer.C:
		cancel()
		err := &TimeoutError{Model: model, Limit: r.cfg.AttemptTimeout}
		tracing.RecordError(ctx, err)
		if r.cfg.OnTimeout != nil {
			r.cfg.OnTimeout(model)
		}
		return nil, err
	case <-ctx.Done():
		cancel()
		tracing.RecordError(ctx, ctx.Err())
		return nil, ctx.Err()
	}
}

// cancelStream ties an attempt's cancel func to the stream lifetime so
// the context is released when the stream is closed.
type cancelStream struct {
	provider.Stream
	cancel context.CancelFunc
}

func (c *cancelStream) Close() error {
	err := c.Stream.Close()
	c.cancel()
	return err
}
