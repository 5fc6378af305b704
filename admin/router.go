// Package admin exposes the core over HTTP for operators and dashboards.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/opscore"
	"github.com/GoCodeAlone/opscore/eventbus"
	"github.com/GoCodeAlone/opscore/registry"
)

const maxBodyBytes = 1 << 20

// Option configures the router.
type Option func(*handler)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *handler) {
		a.metrics = h
	}
}

// WithLogger logs request failures.
func WithLogger(logger opscore.Logger) Option {
	return func(a *handler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

type handler struct {
	core    *opscore.Core
	metrics http.Handler
	logger  opscore.Logger
}

type discardLogger struct{}

func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Debug(string, ...any) {}

// NewRouter builds the admin routes for core.
func NewRouter(core *opscore.Core, opts ...Option) http.Handler {
	h := &handler{core: core, logger: discardLogger{}}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/performance", h.performance)

	r.Route("/modules", func(r chi.Router) {
		r.Get("/", h.listModules)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getModule)
			r.Delete("/", h.unregisterModule)
			r.Post("/load", h.loadModule)
			r.Post("/unload", h.unloadModule)
		})
	})

	r.Post("/events", h.emitEvent)

	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.getConfig)
		r.Patch("/", h.patchConfig)
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

// ModuleView is the JSON representation of a registered module.
type ModuleView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Priority     int             `json:"priority"`
	Lazy         bool            `json:"lazy"`
	Dependencies []string        `json:"dependencies"`
	Status       registry.Status `json:"status"`
	Error        string          `json:"error,omitempty"`
	MemoryUsage  int64           `json:"memoryUsage"`
	LoadTime     string          `json:"loadTime"`
}

func (h *handler) moduleView(state registry.State) ModuleView {
	desc, _ := h.core.Registry().Descriptor(state.ID)
	deps := desc.Dependencies
	if deps == nil {
		deps = []string{}
	}
	return ModuleView{
		ID:           state.ID,
		Name:         desc.Name,
		Version:      desc.Version,
		Priority:     desc.Priority,
		Lazy:         desc.Lazy,
		Dependencies: deps,
		Status:       state.Status,
		Error:        state.Error,
		MemoryUsage:  state.MemoryUsage,
		LoadTime:     state.LoadTime.String(),
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	healthy := h.core.IsInitialized() && h.core.Performance().IsHealthy()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{
		"healthy": healthy,
		"status":  h.core.Status(),
	}
	if err := h.core.Err(); err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (h *handler) performance(w http.ResponseWriter, r *http.Request) {
	perf := h.core.Performance()
	m := perf.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": map[string]any{
			"memoryUsage":         m.MemoryUsage,
			"activeModules":       m.ActiveModules,
			"eventThroughput":     m.EventThroughput,
			"averageResponseTime": m.AverageResponseTime.String(),
			"errorRate":           m.ErrorRate,
		},
		"bus":     h.core.Bus().Stats(),
		"timings": perf.Timings(),
		"healthy": perf.IsHealthy(),
	})
}

func (h *handler) listModules(w http.ResponseWriter, r *http.Request) {
	states := h.core.Registry().GetAll()
	views := make([]ModuleView, 0, len(states))
	for _, s := range states {
		views = append(views, h.moduleView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) getModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, ok := h.core.Registry().Get(id)
	if !ok {
		h.writeError(w, r, registry.ErrModuleNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.moduleView(state))
}

func (h *handler) loadModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stop := h.core.Performance().Monitor("admin.load." + id)
	_, err := h.core.Registry().Load(r.Context(), id)
	stop()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	state, _ := h.core.Registry().Get(id)
	writeJSON(w, http.StatusOK, h.moduleView(state))
}

func (h *handler) unloadModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.core.Registry().Get(id); !ok {
		h.writeError(w, r, registry.ErrModuleNotFound)
		return
	}
	if err := h.core.Registry().Unload(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	state, _ := h.core.Registry().Get(id)
	writeJSON(w, http.StatusOK, h.moduleView(state))
}

func (h *handler) unregisterModule(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Registry().Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EmitRequest is the body of POST /events.
type EmitRequest struct {
	Type     string `json:"type"`
	Source   string `json:"source"`
	Payload  any    `json:"payload"`
	Priority int    `json:"priority"`
}

func (h *handler) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req EmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": eventbus.ErrEventTypeEmpty.Error()})
		return
	}
	source := req.Source
	if source == "" {
		source = "admin"
	}

	id := h.core.Bus().Emit(eventbus.Event{
		Type:     req.Type,
		Source:   source,
		Payload:  req.Payload,
		Priority: req.Priority,
	})
	if id == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": eventbus.ErrBusDestroyed.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Config())
}

// patchConfig merges a partial JSON document onto the current configuration.
// Durations are given in nanoseconds, as encoding/json represents them.
func (h *handler) patchConfig(w http.ResponseWriter, r *http.Request) {
	next := h.core.Config()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&next); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := h.core.UpdateConfig(func(cfg *opscore.Config) { *cfg = next }); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.core.Config())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDependencyMissing),
		errors.Is(err, registry.ErrHasDependents),
		errors.Is(err, registry.ErrCircularDependency),
		errors.Is(err, registry.ErrDependencyFailed),
		errors.Is(err, registry.ErrCapacityReached),
		errors.Is(err, registry.ErrMemoryLimit),
		errors.Is(err, eventbus.ErrMaxListeners):
		return http.StatusConflict
	case errors.Is(err, opscore.ErrConfigValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrLoadTimeout), errors.Is(err, registry.ErrLoadWaitTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Admin request failed", "method", r.Method, "path", r.URL.Path, "requestID", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server wraps an http.Server with the timeouts used by the CLI.
func Server(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
