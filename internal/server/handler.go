package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/store"
	"github.com/allaspectsdev/scoutman/internal/tracing"
)

// Search modes accepted by POST /v1/search.
const (
	ModeMerge    = "merge"
	ModeFallback = "fallback"
)

// Generator is the generation surface the handler serves. *router.Router
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, req router.Request) router.Response
	Providers() []provider.State
	Reset(name string) error
}

// Searcher is the search surface the handler serves. *search.Aggregator
// satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []search.Result
	SearchWithFallback(ctx context.Context, query string, maxResults int) []search.Result
	Providers() []provider.State
	Reset(name string) error
}

// Recorder receives one call per finished operation.
type Recorder interface {
	RecordOperation(op provider.Operation, mode string, success bool, d time.Duration)
	IncrementActive()
	DecrementActive()
}

// OperationStore persists finished operations.
type OperationStore interface {
	InsertOperation(o *store.Operation) error
}

// Handler serves the generate, search and provider endpoints. Either
// backend may be nil, in which case its endpoints answer 503.
type Handler struct {
	gen         Generator
	search      Searcher
	recorder    Recorder
	ops         OperationStore
	logger      zerolog.Logger
	maxBodySize int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRecorder reports finished operations to rec.
func WithRecorder(rec Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = rec }
}

// WithOperationStore persists every finished operation to st.
func WithOperationStore(st OperationStore) HandlerOption {
	return func(h *Handler) { h.ops = st }
}

// WithMaxBodySize limits request bodies. Zero means unlimited.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) { h.maxBodySize = n }
}

// NewHandler creates a Handler over the given backends.
func NewHandler(gen Generator, srch Searcher, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		gen:    gen,
		search: srch,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GenerateResponse is the body of a POST /v1/generate reply.
type GenerateResponse struct {
	RequestID string `json:"request_id"`
	router.Response
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Mode       string `json:"mode"`
}

// SearchResponse is the body of a POST /v1/search reply.
type SearchResponse struct {
	RequestID string          `json:"request_id"`
	Mode      string          `json:"mode"`
	Results   []search.Result `json:"results"`
}

// HandleGenerate runs one fallback generation. Exhaustion is reported in the
// body with success=false and status 200; only malformed input gets 400.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "generation is not configured")
		return
	}

	var req router.Request
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		WriteJSONError(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}
	if req.MaxTokens < 0 {
		WriteJSONError(w, http.StatusBadRequest, "max_tokens must not be negative")
		return
	}

	requestID := requestIDFrom(r)
	digest := provider.Digest(req.Prompt)
	logger := h.logger.With().
		Str("request_id", requestID).
		Str("digest", digest).
		Logger()

	h.begin()
	defer h.end()

	ctx, span := tracing.StartOperationSpan(r.Context(), string(provider.OpGenerate), "")
	defer span.End()

	start := time.Now()
	resp := h.gen.Generate(ctx, req)
	latency := time.Since(start)

	tracing.SetOutcome(ctx, resp.Success, resp.ProviderUsed, 0)
	if !resp.Success {
		tracing.RecordError(ctx, errors.New(resp.Error))
	}

	h.finish(provider.OpGenerate, "", latency, &store.Operation{
		ID:           uuid.New().String(),
		RequestID:    requestID,
		Op:           string(provider.OpGenerate),
		Digest:       digest,
		Success:      resp.Success,
		Provider:     resp.ProviderUsed,
		Attempts:     len(resp.Attempts),
		LatencyMs:    latency.Milliseconds(),
		ErrorMessage: resp.Error,
	})

	logger.Info().
		Bool("success", resp.Success).
		Str("provider", resp.ProviderUsed).
		Int("attempts", len(resp.Attempts)).
		Dur("latency", latency).
		Msg("generation completed")

	WriteJSON(w, http.StatusOK, GenerateResponse{RequestID: requestID, Response: resp})
}

// HandleSearch runs a merged or fallback search. Results are never an
// error: a failed search is an empty list.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	var req SearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteJSONError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	if req.MaxResults < 0 {
		WriteJSONError(w, http.StatusBadRequest, "max_results must not be negative")
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	switch mode {
	case "":
		mode = ModeMerge
	case ModeMerge, ModeFallback:
	default:
		WriteJSONError(w, http.StatusBadRequest, `mode must be "merge" or "fallback"`)
		return
	}

	requestID := requestIDFrom(r)
	digest := provider.Digest(req.Query)
	logger := h.logger.With().
		Str("request_id", requestID).
		Str("digest", digest).
		Str("mode", mode).
		Logger()

	h.begin()
	defer h.end()

	ctx, span := tracing.StartOperationSpan(r.Context(), string(provider.OpSearch), mode)
	defer span.End()

	start := time.Now()
	var results []search.Result
	if mode == ModeFallback {
		results = h.search.SearchWithFallback(ctx, req.Query, req.MaxResults)
	} else {
		results = h.search.Search(ctx, req.Query, req.MaxResults)
	}
	latency := time.Since(start)
	if results == nil {
		results = []search.Result{}
	}
	success := len(results) > 0

	var top string
	if success {
		top = results[0].Source
	}
	tracing.SetOutcome(ctx, success, top, len(results))

	h.finish(provider.OpSearch, mode, latency, &store.Operation{
		ID:        uuid.New().String(),
		RequestID: requestID,
		Op:        string(provider.OpSearch),
		Mode:      mode,
		Digest:    digest,
		Success:   success,
		Provider:  top,
		Results:   len(results),
		LatencyMs: latency.Milliseconds(),
	})

	logger.Info().
		Int("results", len(results)).
		Dur("latency", latency).
		Msg("search completed")

	WriteJSON(w, http.StatusOK, SearchResponse{RequestID: requestID, Mode: mode, Results: results})
}

// HandleProviders returns both health tables.
func (h *Handler) HandleProviders(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.Health())
}

// Health returns the generation and search health tables keyed by
// operation. Missing backends are left out.
func (h *Handler) Health() map[string][]provider.State {
	out := make(map[string][]provider.State, 2)
	if h.gen != nil {
		out[string(provider.OpGenerate)] = h.gen.Providers()
	}
	if h.search != nil {
		out[string(provider.OpSearch)] = h.search.Providers()
	}
	return out
}

// HandleReset clears the failure count of one provider. kind is
// "generation" or "search".
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	name := chi.URLParam(r, "name")

	var reset func(string) error
	switch kind {
	case "generation", string(provider.OpGenerate):
		if h.gen != nil {
			reset = h.gen.Reset
		}
	case string(provider.OpSearch):
		if h.search != nil {
			reset = h.search.Reset
		}
	default:
		WriteJSONError(w, http.StatusBadRequest, `kind must be "generation" or "search"`)
		return
	}
	if reset == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, kind+" is not configured")
		return
	}

	if err := reset(name); err != nil {
		if errors.Is(err, provider.ErrUnknown) {
			WriteJSONError(w, http.StatusNotFound, "unknown provider "+name)
			return
		}
		h.logger.Error().Err(err).Str("provider", name).Msg("provider reset failed")
		WriteJSONError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	h.logger.Info().Str("kind", kind).Str("provider", name).Msg("provider health reset")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset", "provider": name})
}

// HandleHealth returns a simple JSON health check response.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, writing the error response itself when
// it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) begin() {
	if h.recorder != nil {
		h.recorder.IncrementActive()
	}
}

func (h *Handler) end() {
	if h.recorder != nil {
		h.recorder.DecrementActive()
	}
}

// finish reports a completed operation to the recorder and the store.
// Store failures are logged and never reach the caller.
func (h *Handler) finish(op provider.Operation, mode string, latency time.Duration, rec *store.Operation) {
	if h.recorder != nil {
		h.recorder.RecordOperation(op, mode, rec.Success, latency)
	}
	if h.ops != nil {
		if err := h.ops.InsertOperation(rec); err != nil {
			h.logger.Warn().Err(err).Str("op", string(op)).Msg("failed to record operation")
		}
	}
}

// requestIDFrom reuses a caller-supplied X-Request-Id or mints a new one.
func requestIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-Id")); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.New().String()
}
