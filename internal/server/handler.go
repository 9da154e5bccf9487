package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/watchout/haishin-puls-hub-sub001/internal/metrics"
	"github.com/watchout/haishin-puls-hub-sub001/internal/pipeline"
	"github.com/watchout/haishin-puls-hub-sub001/internal/router"
	"github.com/watchout/haishin-puls-hub-sub001/internal/store"
	"github.com/watchout/haishin-puls-hub-sub001/internal/template"
)

// Handler implements the HTTP endpoints over the pipeline and store.
type Handler struct {
	pipeline  *pipeline.Pipeline
	store     *store.Store
	collector *metrics.Collector
	version   string
}

// NewHandler creates a Handler from its collaborators.
func NewHandler(p *pipeline.Pipeline, s *store.Store, c *metrics.Collector, version string) *Handler {
	return &Handler{pipeline: p, store: s, collector: c, version: version}
}

// streamRequest is the body of POST /v1/ai/{usecase}/stream.
type streamRequest struct {
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	Variables map[string]any `json:"variables"`
}

// HandleStream runs one AI request and streams the result as SSE. The
// stream carries "chunk" events with the unmasked text, then a single
// "done" event with the request's usage accounting.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	usecase := chi.URLParam(r, "usecase")

	var body streamRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
		return
	}
	if body.TenantID == "" || body.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("tenant_id and user_id are required"))
		return
	}

	resp, err := h.pipeline.Process(r.Context(), &pipeline.Request{
		TenantID:  body.TenantID,
		UserID:    body.UserID,
		Usecase:   usecase,
		Variables: body.Variables,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}
	defer resp.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", resp.RequestID)
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := resp.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are already sent; report the failure as a
			// terminal SSE event instead of a status code.
			writeSSE(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		writeSSE(w, flusher, "chunk", map[string]string{"text": chunk})
	}

	writeSSE(w, flusher, "done", map[string]any{
		"request_id": resp.RequestID,
		"model":      resp.Model,
	})
}

// writeSSE writes one SSE event with a JSON payload and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// HandleSaveTemplate appends a new template version for a usecase and
// makes it active.
func (h *Handler) HandleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	usecase := chi.URLParam(r, "usecase")

	var tpl template.PromptTemplate
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding template: %w", err))
		return
	}
	tpl.Usecase = usecase
	if tpl.UserPromptTemplate == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_prompt_template is required"))
		return
	}

	version, err := h.store.SaveTemplate(r.Context(), &tpl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.pipeline.InvalidateTemplate(usecase)

	log.Info().Str("usecase", usecase).Int("version", version).Msg("template version saved")
	writeJSON(w, http.StatusCreated, map[string]any{"usecase": usecase, "version": version})
}

// HandleGetTemplate returns the active template for a usecase, or a
// specific version when ?version= is given.
func (h *Handler) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	usecase := chi.URLParam(r, "usecase")

	var (
		tpl *template.PromptTemplate
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version %q", v))
			return
		}
		tpl, err = h.store.TemplateVersion(r.Context(), usecase, version)
	} else {
		tpl, err = h.store.ActiveTemplate(r.Context(), usecase)
	}
	if errors.Is(err, store.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// HandleListVersions returns every stored version for a usecase.
func (h *Handler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	usecase := chi.URLParam(r, "usecase")
	versions, err := h.store.ListVersions(r.Context(), usecase)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, http.StatusNotFound, store.ErrTemplateNotFound)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// HandleActivateVersion rolls the active pointer back (or forward) to an
// existing version.
func (h *Handler) HandleActivateVersion(w http.ResponseWriter, r *http.Request) {
	usecase := chi.URLParam(r, "usecase")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version %q", chi.URLParam(r, "version")))
		return
	}

	err = h.store.ActivateVersion(r.Context(), usecase, version)
	if errors.Is(err, store.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.pipeline.InvalidateTemplate(usecase)

	log.Info().Str("usecase", usecase).Int("version", version).Msg("template version activated")
	writeJSON(w, http.StatusOK, map[string]any{"usecase": usecase, "version": version})
}

// HandleListUsecases returns every usecase with at least one template.
func (h *Handler) HandleListUsecases(w http.ResponseWriter, r *http.Request) {
	usecases, err := h.store.ListUsecases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if usecases == nil {
		usecases = []string{}
	}
	writeJSON(w, http.StatusOK, usecases)
}

// HandleRecentUsage returns the newest usage records.
func (h *Handler) HandleRecentUsage(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	records, err := h.store.RecentUsage(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleTenantUsage returns aggregate usage for one tenant over the last
// N days (default 30).
func (h *Handler) HandleTenantUsage(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid days %q", v))
			return
		}
		days = n
	}
	summary, err := h.store.TenantUsage(r.Context(), tenant, time.Now().AddDate(0, 0, -days))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleHealth reports process and store health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status, "version": h.version})
}

// writePipelineError maps a pipeline error to its HTTP response.
func writePipelineError(w http.ResponseWriter, err error) {
	var (
		rateLimited *pipeline.RateLimitedError
		missing     *template.RequiredVariableMissingError
		mismatch    *template.VariableTypeMismatchError
		notFound    *template.VariableNotFoundError
		timeout     *router.TimeoutError
		unavailable *router.ProviderUnavailableError
	)
	switch {
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, err)
	case errors.As(err, &missing), errors.As(err, &mismatch), errors.As(err, &notFound):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &unavailable):
		// A chain exhausted purely by timeouts surfaces as 504.
		if errors.As(unavailable.LastErr, &timeout) {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
	case errors.As(err, &timeout):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing JSON response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
