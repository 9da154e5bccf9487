package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). It does not require
// the Prometheus client library; metrics are formatted manually.
func PrometheusHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := collector.Stats()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		uptimeSeconds := time.Since(collector.startTime).Seconds()

		writeMetric(w, "haishin_ai_requests_total",
			"Total number of admitted AI requests.",
			"counter", stats.TotalRequests)

		writeMetric(w, "haishin_ai_rate_limited_total",
			"Total number of requests rejected at admission.",
			"counter", stats.RateLimited)

		writeMetric(w, "haishin_ai_validation_failures_total",
			"Total number of requests rejected by variable validation.",
			"counter", stats.ValidationFailures)

		writeMetric(w, "haishin_ai_provider_failures_total",
			"Total number of failed provider attempts.",
			"counter", stats.ProviderFailures)

		writeMetric(w, "haishin_ai_fallback_served_total",
			"Total number of requests served by a non-primary model.",
			"counter", stats.FallbackServed)

		writeMetric(w, "haishin_ai_timeouts_total",
			"Total number of provider attempts that exceeded their deadline.",
			"counter", stats.Timeouts)

		writeMetric(w, "haishin_ai_tokens_in_total",
			"Total number of input tokens sent upstream.",
			"counter", stats.TokensIn)

		writeMetric(w, "haishin_ai_tokens_out_total",
			"Total number of output tokens received.",
			"counter", stats.TokensOut)

		writeMetric(w, "haishin_ai_cost_jpy_total",
			"Total estimated cost in yen.",
			"counter", stats.CostJPY)

		writeMetric(w, "haishin_ai_active_requests",
			"Number of requests currently being processed.",
			"gauge", stats.ActiveRequests)

		writeMetricFloat(w, "haishin_ai_uptime_seconds",
			"Number of seconds since the service started.",
			"gauge", uptimeSeconds)

		writeCounterVec(w, "haishin_ai_model_requests_total",
			"Total requests served per model.",
			collector.ModelRequests())
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

// formatLabels formats a label map as a Prometheus label string,
// e.g. {model="gpt-4o-mini"}.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// writeCounterVec writes a labelled counter family in Prometheus text format.
func writeCounterVec(w http.ResponseWriter, name, help string, cv *counterVec) {
	entries := cv.snapshot()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, e := range entries {
		fmt.Fprintf(w, "%s%s %d\n", name, formatLabels(e.labels), e.value)
	}
}
