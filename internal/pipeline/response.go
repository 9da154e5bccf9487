package pipeline

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/watchout/haishin-puls-hub-sub001/internal/pii"
	"github.com/watchout/haishin-puls-hub-sub001/internal/router"
	"github.com/watchout/haishin-puls-hub-sub001/internal/store"
	"github.com/watchout/haishin-puls-hub-sub001/internal/tracing"
)

// Response is an established AI stream with PII restoration applied to
// each chunk. Consuming it to EOF finalises usage accounting; Close
// before EOF accounts the request as aborted.
type Response struct {
	RequestID string
	Model     string

	pipeline *Pipeline
	req      *Request
	result   *router.Result
	masker   *pii.Masker
	start    time.Time

	// ctx is the request context; its span is still live while the
	// stream is consumed, so usage attributes land on it at finish.
	ctx context.Context

	// held buffers a trailing fragment that may be the start of a
	// mask token split across chunk boundaries.
	held     string
	finished bool
}

// Recv returns the next unmasked text chunk, or io.EOF once the stream
// ends. A mask token split across provider chunks is buffered until its
// closing bracket arrives, so restoration never misses a token.
func (r *Response) Recv() (string, error) {
	for {
		chunk, err := r.result.Recv()
		if err == io.EOF {
			if r.held != "" {
				out := r.unmask(r.held)
				r.held = ""
				return out, nil
			}
			r.finish("ok", nil)
			return "", io.EOF
		}
		if err != nil {
			r.finish("error", err)
			return "", err
		}

		out := r.splitHeld(r.held + chunk)
		if out != "" {
			return r.unmask(out), nil
		}
	}
}

// Close abandons the stream. If the stream was not consumed to EOF the
// request is accounted as aborted.
func (r *Response) Close() error {
	r.finish("aborted", nil)
	return r.result.Close()
}

// Entries exposes the mask mapping of this request for callers that
// need to post-process the full response in memory. The mapping must
// never leave the request scope.
func (r *Response) Entries() []pii.Entry {
	if r.masker == nil {
		return nil
	}
	return r.masker.Entries()
}

func (r *Response) unmask(text string) string {
	if r.masker == nil {
		return text
	}
	return r.masker.Unmask(text)
}

// splitHeld stores any trailing token-prefix fragment of text in r.held
// and returns the emittable remainder.
func (r *Response) splitHeld(text string) string {
	cut := tokenFragmentStart(text)
	r.held = text[cut:]
	return text[:cut]
}

// tokenFragmentStart returns the index of a trailing unclosed fragment
// that could still grow into a mask token like "[NAME_12]", or len(text)
// when the text ends cleanly.
func tokenFragmentStart(text string) int {
	open := strings.LastIndexByte(text, '[')
	if open < 0 || strings.IndexByte(text[open:], ']') >= 0 {
		return len(text)
	}
	for _, c := range text[open+1:] {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return len(text)
		}
	}
	return open
}

// finish accounts the request exactly once.
func (r *Response) finish(status string, cause error) {
	if r.finished {
		return
	}
	r.finished = true

	p := r.pipeline
	p.collector.DecrementActive()

	rec := &store.UsageRecord{
		RequestID: r.RequestID,
		TenantID:  r.req.TenantID,
		UserID:    r.req.UserID,
		Usecase:   r.req.Usecase,
		Model:     r.Model,
		Provider:  r.result.Provider(),
		LatencyMs: time.Since(r.start).Milliseconds(),
		Status:    status,
	}
	if cause != nil {
		rec.ErrorMessage = cause.Error()
	}

	if usage, err := r.result.Usage(); err == nil {
		rec.InputTokens = int64(usage.InputTokens)
		rec.OutputTokens = int64(usage.OutputTokens)
		rec.EstimatedCostJPY = usage.EstimatedCostJPY
		rec.Estimated = usage.Estimated
		p.collector.RecordUsage(r.Model, rec.InputTokens, rec.OutputTokens, usage.EstimatedCostJPY)
		tracing.SetUsageAttributes(r.ctx, r.Model, rec.InputTokens, rec.OutputTokens, usage.EstimatedCostJPY, usage.Estimated)
	}

	p.writeUsage(rec)
}
