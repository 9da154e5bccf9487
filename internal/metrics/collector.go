// Package metrics tracks live counters for the AI pipeline and exposes
// them in Prometheus text format.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks live metrics using atomic counters for lock-free,
// concurrent-safe updates. It provides an in-memory real-time view of
// request throughput, admission rejections, fallback activity, token
// usage, and yen spend.
type Collector struct {
	totalRequests      int64
	rateLimited        int64
	validationFailures int64
	providerFailures   int64
	fallbackServed     int64
	timeouts           int64

	totalTokensIn  int64
	totalTokensOut int64
	totalCostJPY   int64

	activeRequests int64

	modelRequests *counterVec

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's counters.
type Stats struct {
	Uptime             string `json:"uptime"`
	TotalRequests      int64  `json:"total_requests"`
	RateLimited        int64  `json:"rate_limited"`
	ValidationFailures int64  `json:"validation_failures"`
	ProviderFailures   int64  `json:"provider_failures"`
	FallbackServed     int64  `json:"fallback_served"`
	Timeouts           int64  `json:"timeouts"`
	TokensIn           int64  `json:"tokens_in"`
	TokensOut          int64  `json:"tokens_out"`
	CostJPY            int64  `json:"cost_jpy"`
	ActiveRequests     int64  `json:"active_requests"`
}

// NewCollector creates a new Collector with all counters initialised to
// zero and the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		modelRequests: newCounterVec(),
		startTime:     time.Now(),
	}
}

// RecordRequest counts one admitted request entering the pipeline.
func (c *Collector) RecordRequest() {
	atomic.AddInt64(&c.totalRequests, 1)
}

// RecordRateLimited counts one request rejected at admission.
func (c *Collector) RecordRateLimited() {
	atomic.AddInt64(&c.rateLimited, 1)
}

// RecordValidationFailure counts one request rejected by variable
// validation.
func (c *Collector) RecordValidationFailure() {
	atomic.AddInt64(&c.validationFailures, 1)
}

// RecordProviderFailure counts one failed provider attempt.
func (c *Collector) RecordProviderFailure() {
	atomic.AddInt64(&c.providerFailures, 1)
}

// RecordFallback counts one request served by a non-primary model.
func (c *Collector) RecordFallback() {
	atomic.AddInt64(&c.fallbackServed, 1)
}

// RecordTimeout counts one provider attempt that exceeded its deadline.
func (c *Collector) RecordTimeout() {
	atomic.AddInt64(&c.timeouts, 1)
}

// RecordUsage atomically adds the token and cost totals of a completed
// stream, labelled by the model that served it.
func (c *Collector) RecordUsage(model string, tokensIn, tokensOut, costJPY int64) {
	atomic.AddInt64(&c.totalTokensIn, tokensIn)
	atomic.AddInt64(&c.totalTokensOut, tokensOut)
	atomic.AddInt64(&c.totalCostJPY, costJPY)
	c.modelRequests.inc(map[string]string{"model": model}, 1)
}

// IncrementActive increments the active request counter. Call this when
// a request enters the pipeline.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeRequests, 1)
}

// DecrementActive decrements the active request counter. Call this when
// a request leaves the pipeline (regardless of success or failure).
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeRequests, -1)
}

// Stats returns a point-in-time snapshot of all metrics.
func (c *Collector) Stats() *Stats {
	return &Stats{
		Uptime:             time.Since(c.startTime).Round(time.Second).String(),
		TotalRequests:      atomic.LoadInt64(&c.totalRequests),
		RateLimited:        atomic.LoadInt64(&c.rateLimited),
		ValidationFailures: atomic.LoadInt64(&c.validationFailures),
		ProviderFailures:   atomic.LoadInt64(&c.providerFailures),
		FallbackServed:     atomic.LoadInt64(&c.fallbackServed),
		Timeouts:           atomic.LoadInt64(&c.timeouts),
		TokensIn:           atomic.LoadInt64(&c.totalTokensIn),
		TokensOut:          atomic.LoadInt64(&c.totalTokensOut),
		CostJPY:            atomic.LoadInt64(&c.totalCostJPY),
		ActiveRequests:     atomic.LoadInt64(&c.activeRequests),
	}
}

// ModelRequests returns the per-model served-request counters.
func (c *Collector) ModelRequests() *counterVec {
	return c.modelRequests
}

// counterVec is a labelled counter family guarded by a mutex. Updates
// are rare enough (once per completed request) that a mutex is fine.
type counterVec struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
}

type counterEntry struct {
	labels map[string]string
	value  int64
}

func newCounterVec() *counterVec {
	return &counterVec{entries: map[string]*counterEntry{}}
}

func (cv *counterVec) inc(labels map[string]string, delta int64) {
	key := labelKey(labels)
	cv.mu.Lock()
	defer cv.mu.Unlock()
	e, ok := cv.entries[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		e = &counterEntry{labels: copied}
		cv.entries[key] = e
	}
	e.value += delta
}

// snapshot returns the current entries sorted by label key for stable
// exposition output.
func (cv *counterVec) snapshot() []counterEntry {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	keys := make([]string, 0, len(cv.entries))
	for k := range cv.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]counterEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, *cv.entries[k])
	}
	return out
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var key string
	for _, k := range keys {
		key += k + "=" + labels[k] + ";"
	}
	return key
}
