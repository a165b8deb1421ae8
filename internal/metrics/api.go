package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/scoutman/internal/config"
	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/server"
	"github.com/allaspectsdev/scoutman/internal/store"
)

// HealthFunc returns the current provider health tables keyed by
// operation ("generate", "search").
type HealthFunc func() map[string][]provider.State

// DashboardServer serves the JSON API for live metrics, attempt history
// and provider health, plus the Prometheus endpoint.
type DashboardServer struct {
	router    chi.Router
	collector *Collector
	store     *store.Store
	cfg       atomic.Pointer[config.Config]
	health    HealthFunc
	addr      string
	server    *http.Server
}

// NewDashboardServer creates a DashboardServer. st may be nil when the
// attempt log is not persisted; history endpoints then return empty lists.
func NewDashboardServer(collector *Collector, st *store.Store, cfg *config.Config, health HealthFunc, addr string) *DashboardServer {
	d := &DashboardServer{
		collector: collector,
		store:     st,
		health:    health,
		addr:      addr,
	}
	d.cfg.Store(cfg)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(server.CORSMiddleware(cfg.Dashboard.AllowedOrigins))

	r.Get("/metrics", collector.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(server.AuthMiddlewareFunc(d.authToken))
		r.Get("/health", d.handleHealth)
		r.Get("/stats", d.handleStats)
		r.Get("/stats/history", d.handleStatsHistory)
		r.Get("/providers", d.handleProviders)
		r.Get("/attempts", d.handleAttempts)
		r.Get("/operations", d.handleOperations)
		r.Get("/operations/{id}", d.handleGetOperation)
		r.Get("/config", d.handleGetConfig)
	})

	d.router = r
	return d
}

// SetConfig swaps in a reloaded config. Auth and /api/config follow it;
// CORS origins are fixed at construction.
func (d *DashboardServer) SetConfig(cfg *config.Config) {
	if cfg != nil {
		d.cfg.Store(cfg)
	}
}

func (d *DashboardServer) authToken() string {
	cfg := d.cfg.Load()
	if !cfg.Auth.Enabled {
		return ""
	}
	return cfg.Auth.Token
}

// Handler returns the dashboard's HTTP handler.
func (d *DashboardServer) Handler() http.Handler {
	return d.router
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (d *DashboardServer) Start() error {
	d.server = &http.Server{
		Addr:         d.addr,
		Handler:      d.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", d.addr).Msg("dashboard server starting")
	if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the dashboard server.
func (d *DashboardServer) Shutdown(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

func (d *DashboardServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if d.health != nil {
		for _, states := range d.health() {
			if !anyEligible(states) {
				status = "degraded"
			}
		}
	}
	server.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

func anyEligible(states []provider.State) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s.Eligible() {
			return true
		}
	}
	return false
}

func (d *DashboardServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, d.collector.Stats())
}

// handleStatsHistory returns per-day operation counts. Accepts ?range=1d,
// 7d, 30d or a Go duration (default 7d).
func (d *DashboardServer) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	rangeParam := r.URL.Query().Get("range")
	if rangeParam == "" {
		rangeParam = "7d"
	}
	since, err := parseDurationParam(rangeParam)
	if err != nil || since <= 0 {
		server.WriteJSONError(w, http.StatusBadRequest, "invalid range parameter")
		return
	}

	points := []store.DayStats{}
	if d.store != nil {
		got, err := d.store.History(time.Now().Add(-since))
		if err != nil {
			log.Error().Err(err).Msg("failed to query stats history")
			server.WriteJSONError(w, http.StatusInternalServerError, "database error")
			return
		}
		if got != nil {
			points = got
		}
	}
	server.WriteJSON(w, http.StatusOK, points)
}

type providerView struct {
	provider.State
	Last24h *store.ProviderStats `json:"last_24h,omitempty"`
}

// handleProviders returns live health joined with the last day of attempts.
func (d *DashboardServer) handleProviders(w http.ResponseWriter, _ *http.Request) {
	summary := map[string]store.ProviderStats{}
	if d.store != nil {
		stats, err := d.store.ProviderSummary(time.Now().Add(-24 * time.Hour))
		if err != nil {
			log.Error().Err(err).Msg("failed to query provider summary")
		}
		for _, s := range stats {
			summary[s.Op+"/"+s.Provider] = s
		}
	}

	out := map[string][]providerView{}
	if d.health != nil {
		for op, states := range d.health() {
			views := make([]providerView, 0, len(states))
			for _, s := range states {
				v := providerView{State: s}
				if ps, ok := summary[op+"/"+s.Name]; ok {
					v.Last24h = &ps
				}
				views = append(views, v)
			}
			out[op] = views
		}
	}
	server.WriteJSON(w, http.StatusOK, out)
}

func (d *DashboardServer) handleAttempts(w http.ResponseWriter, r *http.Request) {
	page, limit := paging(r)
	attempts := []*store.Attempt{}
	if d.store != nil {
		got, err := d.store.ListAttempts(store.AttemptFilter{
			Op:       r.URL.Query().Get("op"),
			Provider: r.URL.Query().Get("provider"),
			Limit:    limit,
			Offset:   (page - 1) * limit,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to list attempts")
			server.WriteJSONError(w, http.StatusInternalServerError, "database error")
			return
		}
		if got != nil {
			attempts = got
		}
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"page":     page,
		"limit":    limit,
		"attempts": attempts,
	})
}

func (d *DashboardServer) handleOperations(w http.ResponseWriter, r *http.Request) {
	page, limit := paging(r)
	ops := []*store.Operation{}
	if d.store != nil {
		got, err := d.store.ListOperations(limit, (page-1)*limit)
		if err != nil {
			log.Error().Err(err).Msg("failed to list operations")
			server.WriteJSONError(w, http.StatusInternalServerError, "database error")
			return
		}
		if got != nil {
			ops = got
		}
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"page":       page,
		"limit":      limit,
		"operations": ops,
	})
}

func (d *DashboardServer) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	if d.store == nil {
		server.WriteJSONError(w, http.StatusNotFound, "operation not found")
		return
	}
	op, err := d.store.GetOperation(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		server.WriteJSONError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to get operation")
		server.WriteJSONError(w, http.StatusInternalServerError, "database error")
		return
	}
	server.WriteJSON(w, http.StatusOK, op)
}

// handleGetConfig returns the active config with secrets redacted. The TOML
// round trip keeps the keys identical to the config file.
func (d *DashboardServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	data, err := toml.Marshal(d.cfg.Load())
	if err != nil {
		server.WriteJSONError(w, http.StatusInternalServerError, "serialisation error")
		return
	}

	var cfgMap map[string]any
	if err := toml.Unmarshal(data, &cfgMap); err != nil {
		server.WriteJSONError(w, http.StatusInternalServerError, "serialisation error")
		return
	}
	server.WriteJSON(w, http.StatusOK, redact(cfgMap))
}

// paging reads ?page and ?limit with defaults 1 and 50.
func paging(r *http.Request) (page, limit int) {
	page = queryInt(r, "page", 1)
	limit = queryInt(r, "limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return page, limit
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// parseDurationParam converts a shorthand like "7d" or "24h" to a time.Duration.
func parseDurationParam(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// redact walks a decoded config and masks string values whose key names a
// secret or a key reference.
func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			lower := strings.ToLower(k)
			if s, ok := child.(string); ok && s != "" &&
				(strings.Contains(lower, "key") || strings.Contains(lower, "secret") || strings.Contains(lower, "token")) {
				t[k] = "****"
				continue
			}
			t[k] = redact(child)
		}
	case []any:
		for i := range t {
			t[i] = redact(t[i])
		}
	}
	return v
}
