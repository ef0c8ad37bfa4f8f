// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-dispatch/internal/dispatch"
	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/registry"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds request bodies.
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the server version.
	Version = "0.3.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Options configures a Server.
type Options struct {
	// Addr is the listen address for ListenAndServe.
	Addr string

	Logger zerolog.Logger

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int

	// TrustedProxies may set forwarding headers. Nil uses DefaultTrustedProxies.
	TrustedProxies []string

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API over a Dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	opts       Options
	logger     zerolog.Logger
	proxies    *TrustedProxies
	limiter    *RateLimiter
	mux        *http.ServeMux
	handler    http.Handler
	started    time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server. Routes and middleware are set up immediately so
// Handler can be used without listening.
func New(d *dispatch.Dispatcher, opts Options) (*Server, error) {
	entries := opts.TrustedProxies
	if entries == nil {
		entries = DefaultTrustedProxies
	}
	proxies, err := NewTrustedProxies(entries)
	if err != nil {
		return nil, err
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		dispatcher: d,
		opts:       opts,
		logger:     opts.Logger,
		proxies:    proxies,
		mux:        http.NewServeMux(),
		started:    time.Now(),
	}
	s.setupRoutes()

	middlewares := []Middleware{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger, proxies),
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, proxies, s.logger))
	}
	s.handler = Chain(middlewares...)(s.mux)
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/dispatch", s.handleDispatch)

	s.mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	s.mux.HandleFunc("DELETE /v1/jobs", s.handleClearJobs)
	s.mux.HandleFunc("GET /v1/jobs/export", s.handleExportJobs)
	s.mux.HandleFunc("GET /v1/jobs/active", s.handleActiveJobs)
	s.mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.handleCancelJob)

	s.mux.HandleFunc("GET /v1/usage", s.handleUsage)
	s.mux.HandleFunc("GET /v1/backends", s.handleBackends)
	s.mux.HandleFunc("PUT /v1/backends/{id}/availability", s.handleSetAvailability)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on Options.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("SERVER_START")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("SERVER_SHUTDOWN")
	return srv.Shutdown(ctx)
}

// ============================================================================
// DISPATCH HANDLER
// ============================================================================

// DispatchRequest is the body of POST /v1/dispatch.
type DispatchRequest struct {
	Prompt           string   `json:"prompt"`
	Tier             string   `json:"tier,omitempty"`
	PreferredBackend string   `json:"preferredBackend,omitempty"`
	FallbackBackends []string `json:"fallbackBackends,omitempty"`
	MaxRetries       *int     `json:"maxRetries,omitempty"`
	TimeoutMs        int      `json:"timeoutMs,omitempty"`
}

// ErrorBody is the error envelope of every non-2xx response.
type ErrorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`

	// Result is set when a dispatch ran and failed.
	Result *dispatch.Result `json:"result,omitempty"`
}

// AcceptedResponse is returned for asynchronous dispatch.
type AcceptedResponse struct {
	JobID string         `json:"jobId"`
	State dispatch.State `json:"state"`
}

func (r DispatchRequest) toRequest() (dispatch.Request, error) {
	tier, err := router.ParseTier(r.Tier)
	if err != nil {
		return dispatch.Request{}, err
	}
	if r.TimeoutMs < 0 {
		return dispatch.Request{}, fmt.Errorf("timeoutMs must not be negative")
	}
	return dispatch.Request{
		Prompt:           r.Prompt,
		Tier:             tier,
		PreferredBackend: r.PreferredBackend,
		FallbackBackends: r.FallbackBackends,
		MaxRetries:       r.MaxRetries,
		Timeout:          time.Duration(r.TimeoutMs) * time.Millisecond,
	}, nil
}

// handleDispatch handles POST /v1/dispatch. With ?async=true the job is
// started and 202 is returned with its id.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var body DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(dispatch.KindInvalidRequest),
				fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
			return
		}
		writeError(w, http.StatusBadRequest, string(dispatch.KindInvalidRequest), "invalid request format")
		return
	}

	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, string(dispatch.KindInvalidRequest), err.Error())
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		// The job outlives this request; only CancelJob stops it.
		job, err := s.dispatcher.Start(context.WithoutCancel(r.Context()), req)
		if err != nil {
			s.writeDispatchError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, AcceptedResponse{JobID: job.ID, State: job.State()})
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeDispatchError(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StatusForKind maps a dispatch error kind to an HTTP status.
func StatusForKind(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindInvalidRequest:
		return http.StatusBadRequest
	case dispatch.KindNoBackendAvailable:
		return http.StatusServiceUnavailable
	case dispatch.KindInvocationTimeout:
		return http.StatusGatewayTimeout
	case dispatch.KindInvocationFailed, dispatch.KindRetryBudgetExhausted:
		return http.StatusBadGateway
	case dispatch.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error, res *dispatch.Result) {
	kind := dispatch.KindOf(err)
	status := StatusForKind(kind)

	var body ErrorBody
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	body.Error.Code = status
	body.Result = res
	writeJSON(w, status, body)
}

// ============================================================================
// JOB LOG HANDLERS
// ============================================================================

// JobsResponse is the body of GET /v1/jobs.
type JobsResponse struct {
	Count   int             `json:"count"`
	Records []joblog.Record `json:"records"`
}

// parseFilters builds job log filters from query parameters:
// backend, category, success, job, since and until (RFC 3339).
func parseFilters(r *http.Request) ([]joblog.Filter, error) {
	q := r.URL.Query()
	var filters []joblog.Filter

	if v := q.Get("backend"); v != "" {
		filters = append(filters, joblog.ByBackend(v))
	}
	if v := q.Get("category"); v != "" {
		cat, err := router.ParseCategory(v)
		if err != nil {
			return nil, err
		}
		filters = append(filters, joblog.ByCategory(cat))
	}
	if v := q.Get("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid success value %q", v)
		}
		filters = append(filters, joblog.BySuccess(ok))
	}
	if v := q.Get("job"); v != "" {
		filters = append(filters, joblog.ByJob(v))
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid since value %q: want RFC 3339", v)
		}
		filters = append(filters, joblog.Since(t))
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid until value %q: want RFC 3339", v)
		}
		filters = append(filters, joblog.Until(t))
	}
	return filters, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(dispatch.KindInvalidRequest), err.Error())
		return
	}
	records := s.dispatcher.JobLogs(filters...)
	writeJSON(w, http.StatusOK, JobsResponse{Count: len(records), Records: records})
}

func (s *Server) handleClearJobs(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.ClearJobLogs()
	s.logger.Info().Str("ip", s.proxies.ClientIP(r)).Msg("JOBLOG_CLEAR_REQUESTED")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportJobs(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(dispatch.KindInvalidRequest), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="jobs.csv"`)
	if err := s.dispatcher.ExportCSV(w, filters...); err != nil {
		s.logger.Warn().Err(err).Msg("EXPORT_FAILED")
	}
}

// ActiveJobsResponse is the body of GET /v1/jobs/active.
type ActiveJobsResponse struct {
	Count int                `json:"count"`
	Jobs  []dispatch.JobInfo `json:"jobs"`
}

func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.dispatcher.ActiveJobs()
	writeJSON(w, http.StatusOK, ActiveJobsResponse{Count: len(jobs), Jobs: jobs})
}

// CancelResponse is the body of POST /v1/jobs/{id}/cancel.
type CancelResponse struct {
	JobID     string `json:"jobId"`
	Cancelled bool   `json:"cancelled"`
}

// handleCancelJob returns 200 when the job was signalled and 404 when it is
// unknown or already finished.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok := s.dispatcher.CancelJob(id)
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	writeJSON(w, status, CancelResponse{JobID: id, Cancelled: ok})
}

// ============================================================================
// USAGE & BACKEND HANDLERS
// ============================================================================

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	joblog.Snapshot
	BackendsByCost []joblog.BackendUsage `json:"backends_by_cost"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	snap := s.dispatcher.UsageSnapshot()
	writeJSON(w, http.StatusOK, UsageResponse{Snapshot: snap, BackendsByCost: snap.BackendsByCost()})
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]registry.Status{"backends": s.dispatcher.Backends()})
}

// AvailabilityRequest is the body of PUT /v1/backends/{id}/availability.
type AvailabilityRequest struct {
	Available *bool `json:"available"`
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var body AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Available == nil {
		writeError(w, http.StatusBadRequest, string(dispatch.KindInvalidRequest), `body must be {"available": true|false}`)
		return
	}

	id := r.PathValue("id")
	if err := s.dispatcher.SetBackendAvailability(id, *body.Available); err != nil {
		if errors.Is(err, registry.ErrUnknownBackend) {
			writeError(w, http.StatusNotFound, "UnknownBackend", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backend": id, "available": *body.Available})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ActiveJobs        int    `json:"active_jobs"`
	BackendsAvailable int    `json:"backends_available"`
	BackendsTotal     int    `json:"backends_total"`
}

// handleHealth reports "degraded" when no backend is available.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	avail := s.dispatcher.BackendAvailability()
	up := 0
	for _, ok := range avail {
		if ok {
			up++
		}
	}

	health := HealthResponse{
		Status:            "ok",
		Version:           Version,
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		ActiveJobs:        len(s.dispatcher.ListActiveJobs()),
		BackendsAvailable: up,
		BackendsTotal:     len(avail),
	}
	if up == 0 {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body ErrorBody
	body.Error.Kind = kind
	body.Error.Message = message
	body.Error.Code = status
	writeJSON(w, status, body)
}
