package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ---- collector ----

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRequest()
	c.RecordRequest()
	c.RecordRateLimited()
	c.RecordValidationFailure()
	c.RecordProviderFailure()
	c.RecordFallback()
	c.RecordTimeout()
	c.RecordUsage("model-a", 100, 50, 3)
	c.RecordUsage("model-a", 200, 80, 5)
	c.RecordUsage("model-b", 10, 5, 1)

	stats := c.Stats()
	if stats.TotalRequests != 2 {
		t.Errorf("total requests = %d, want 2", stats.TotalRequests)
	}
	if stats.RateLimited != 1 {
		t.Errorf("rate limited = %d, want 1", stats.RateLimited)
	}
	if stats.TokensIn != 310 || stats.TokensOut != 135 {
		t.Errorf("tokens = (%d, %d), want (310, 135)", stats.TokensIn, stats.TokensOut)
	}
	if stats.CostJPY != 9 {
		t.Errorf("cost = %d, want 9", stats.CostJPY)
	}
}

func TestActiveRequestGauge(t *testing.T) {
	c := NewCollector()
	c.IncrementActive()
	c.IncrementActive()
	c.DecrementActive()
	if got := c.Stats().ActiveRequests; got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
}

func TestCollectorConcurrentUpdates(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRequest()
			c.RecordUsage("model-a", 10, 5, 1)
		}()
	}
	wg.Wait()

	stats := c.Stats()
	if stats.TotalRequests != 50 {
		t.Errorf("total requests = %d, want 50", stats.TotalRequests)
	}
	if stats.TokensIn != 500 {
		t.Errorf("tokens in = %d, want 500", stats.TokensIn)
	}
	entries := c.ModelRequests().snapshot()
	if len(entries) != 1 || entries[0].value != 50 {
		t.Errorf("model counter entries = %+v", entries)
	}
}

// ---- exposition format ----

func TestPrometheusHandlerOutput(t *testing.T) {
	c := NewCollector()
	c.RecordRequest()
	c.RecordRateLimited()
	c.RecordUsage("gpt-4o-mini", 120, 40, 2)

	rec := httptest.NewRecorder()
	PrometheusHandler(c)(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE haishin_ai_requests_total counter",
		"haishin_ai_requests_total 1",
		"haishin_ai_rate_limited_total 1",
		"haishin_ai_tokens_in_total 120",
		"haishin_ai_cost_jpy_total 2",
		`haishin_ai_model_requests_total{model="gpt-4o-mini"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\nbody:\n%s", want, body)
		}
	}
}

func TestPrometheusHandlerOmitsEmptyVec(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(NewCollector())(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), "haishin_ai_model_requests_total") {
		t.Error("empty counter vec should be omitted")
	}
}
