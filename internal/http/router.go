package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/edgeship/internal/channel"
	"github.com/splax/edgeship/internal/domain"
	"github.com/splax/edgeship/internal/service/dispatch"
)

const (
	healthCheckTimeout = 2 * time.Second
	releaseTimeout     = 2 * time.Second
	maxRequestBody     = 64 << 10
)

// Dispatcher launches one build worker per accepted request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.DeploymentRequest) (dispatch.Dispatched, error)
}

// RouterOptions tunes admission on POST /project. A zero DispatchQuota or BuildLock turns
// that check off.
type RouterOptions struct {
	// Limiter backs both checks; nil selects an in-memory limiter.
	Limiter       Limiter
	DispatchQuota int
	QuotaWindow   time.Duration
	// BuildLock is the longest a deployment identifier stays locked when its worker never
	// reports a terminal line.
	BuildLock time.Duration
	BusHealth func(context.Context) error
}

// Router wires the orchestrator endpoints to the dispatch service.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	dispatcher Dispatcher
	limiter    Limiter
	opts       RouterOptions
	metrics    *metrics
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, dispatcher Dispatcher, opts RouterOptions) *Router {
	if opts.QuotaWindow <= 0 {
		opts.QuotaWindow = time.Minute
	}
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		dispatcher: dispatcher,
		limiter:    opts.Limiter,
		opts:       opts,
		metrics:    loadMetrics(),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/project", audit(r.logger, r.metrics, "/project", r.withDispatchQuota(r.handleProject)))
	r.mux.HandleFunc("/healthz", audit(r.logger, r.metrics, "/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload domain.DeploymentRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxRequestBody)).Decode(&payload); err != nil {
		r.metrics.recordDispatch("invalid")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var lock string
	if payload.Slug != "" && r.opts.BuildLock > 0 {
		lock = buildLockKey(payload.Slug)
		if a := r.limiter.Allow(req.Context(), lock, 1, r.opts.BuildLock); !a.allowed {
			r.metrics.recordDispatch("conflict")
			r.metrics.recordRejection("build_in_progress")
			setRetryAfter(w, a.resetAt)
			writeError(w, http.StatusConflict, fmt.Sprintf("deployment %s is already building", payload.Slug))
			return
		}
	}
	result, err := r.dispatcher.Dispatch(req.Context(), payload)
	if err != nil && lock != "" {
		r.limiter.Release(context.WithoutCancel(req.Context()), lock)
	}
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidRequest):
		r.metrics.recordDispatch("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		r.metrics.recordDispatch("failed")
		r.logger.Error("dispatch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to queue the task")
		return
	}
	if lock == "" && r.opts.BuildLock > 0 {
		r.limiter.Allow(req.Context(), buildLockKey(result.DeploymentID), 1, r.opts.BuildLock)
	}
	r.metrics.recordDispatch("queued")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "queued",
		"data":   result,
	})
}

// ReleaseFinished is a bus handler for the log channels. It frees a deployment's build lock
// once the worker publishes its terminal line, so the identifier can be redeployed.
func (r *Router) ReleaseFinished(ch string, payload []byte) {
	id, ok := channel.Room(ch)
	if !ok {
		return
	}
	event, err := domain.DecodeLogEvent(id, payload)
	if err != nil || !event.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	r.limiter.Release(ctx, buildLockKey(id))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeHealth(w, req, "bus", r.opts.BusHealth)
}

// writeHealth reports a single dependency check as ok or degraded.
func writeHealth(w http.ResponseWriter, req *http.Request, component string, check func(context.Context) error) {
	components := make(map[string]any)
	status := "ok"
	if check != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := check(ctx); err != nil {
			status = "degraded"
			components[component] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components[component] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
