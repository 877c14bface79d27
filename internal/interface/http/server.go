// Package http serves the intervention review API. Admins manage thresholds,
// trigger check runs and search the audit log. Teachers review alerts for their
// classes. Health, readiness and metrics endpoints sit alongside.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/query"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/interface/http/handlers"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr - address to listen on (default: ":8080").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds each request's context. A manual check run can
	// take a while; keep it above the expected sweep time.
	RequestTimeout time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of request bodies.
	MaxBodyBytes int64

	// EnableCORS - enable CORS headers for the admin dashboard.
	EnableCORS     bool
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// Version is reported by /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       10 * time.Minute,
		IdleTimeout:        60 * time.Second,
		RequestTimeout:     10 * time.Minute,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       1 << 20,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 300,
		Version:            "v1",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Use-case ports. The application handlers satisfy them.
type (
	ThresholdCreator interface {
		Handle(ctx context.Context, cmd command.CreateThresholdCommand) (*intervention.Threshold, error)
	}
	ThresholdUpdater interface {
		Handle(ctx context.Context, cmd command.UpdateThresholdCommand) (*intervention.Threshold, error)
	}
	ThresholdDeleter interface {
		Handle(ctx context.Context, id uuid.UUID) error
	}
	ThresholdLister interface {
		Handle(ctx context.Context, activeOnly bool) ([]intervention.Threshold, error)
	}
	ThresholdGetter interface {
		Handle(ctx context.Context, id uuid.UUID) (*intervention.Threshold, error)
	}
	AlertLister interface {
		Handle(ctx context.Context, q query.ListAlertsQuery) (*query.AlertPage, error)
	}
	AlertGetter interface {
		Handle(ctx context.Context, actor intervention.Actor, id uuid.UUID) (*query.AlertDetail, error)
	}
	AlertApprover interface {
		Handle(ctx context.Context, cmd command.ApproveAlertCommand) (*intervention.Alert, error)
	}
	AlertDismisser interface {
		Handle(ctx context.Context, cmd command.DismissAlertCommand) (*intervention.Alert, error)
	}
	AlertResolver interface {
		Handle(ctx context.Context, cmd command.ResolveAlertCommand) (*intervention.Alert, error)
	}
	AlertStatsGetter interface {
		Handle(ctx context.Context, actor intervention.Actor) (*query.AlertStats, error)
	}
	CheckRunner interface {
		Handle(ctx context.Context, cmd command.RunInterventionCheckCommand) (*command.RunInterventionCheckResult, error)
	}
	AcademicWeekGetter interface {
		Handle(at time.Time) query.AcademicWeekView
	}
	FlaggedStudentLister interface {
		Handle(ctx context.Context, q query.ListFlaggedStudentsQuery) (*query.FlaggedStudentPage, error)
	}
	AuditLister interface {
		Handle(ctx context.Context, q query.ListAuditQuery) (*query.AuditPage, error)
		Recent(ctx context.Context, actor intervention.Actor, limit int) ([]intervention.AuditEntry, error)
	}
)

// HTTPObserver records per-route request metrics.
type HTTPObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Commands (write side)
	CreateThreshold ThresholdCreator
	UpdateThreshold ThresholdUpdater
	DeleteThreshold ThresholdDeleter
	ApproveAlert    AlertApprover
	DismissAlert    AlertDismisser
	ResolveAlert    AlertResolver
	RunCheck        CheckRunner

	// Queries (read side)
	ListThresholds  ThresholdLister
	GetThreshold    ThresholdGetter
	ListAlerts      AlertLister
	GetAlert        AlertGetter
	GetAlertStats   AlertStatsGetter
	GetAcademicWeek AcademicWeekGetter
	ListFlagged     FlaggedStudentLister
	ListAudit       AuditLister

	Auth          *Authenticator
	HealthChecker handlers.HealthChecker

	// Metrics observes requests; MetricsHandler serves /metrics. Both optional.
	Metrics        HTTPObserver
	MetricsHandler http.Handler

	Logger *logger.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	logger     *logger.Logger
	auth       *Authenticator
	validate   *validator.Validate
	now        func() time.Time

	rateLimiter *rateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config:   config,
		deps:     deps,
		router:   http.NewServeMux(),
		logger:   deps.Logger,
		auth:     deps.Auth,
		validate: newValidator(),
		now:      deps.Clock,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))
	if s.auth == nil {
		s.auth = NewAuthenticator(AuthConfig{})
	}
	if s.now == nil {
		s.now = time.Now
	}
	if deps.HealthChecker == nil {
		s.deps.HealthChecker = handlers.NewNoopHealthChecker()
	}

	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = newRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.setupRoutes()
	s.handler = s.buildMiddlewareChain(s.router)

	s.httpServer = &http.Server{
		Addr:           config.Addr,
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

const (
	adminPrefix   = "/api/v1/admin/intervention"
	teacherPrefix = "/api/v1/teacher/intervention"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	if s.deps.MetricsHandler != nil {
		s.router.Handle("GET /metrics", s.deps.MetricsHandler)
	}

	admin := func(h http.HandlerFunc) http.HandlerFunc { return s.requireRole(intervention.RoleAdmin, h) }
	teacher := func(h http.HandlerFunc) http.HandlerFunc { return s.requireRole(intervention.RoleTeacher, h) }

	// ─────────────────────────────────────────────────────────────────────────
	// Admin: thresholds, alerts, manual runs
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST "+adminPrefix+"/thresholds", admin(s.handleCreateThreshold))
	s.router.HandleFunc("GET "+adminPrefix+"/thresholds", admin(s.handleListThresholds))
	s.router.HandleFunc("GET "+adminPrefix+"/thresholds/{id}", admin(s.handleGetThreshold))
	s.router.HandleFunc("PUT "+adminPrefix+"/thresholds/{id}", admin(s.handleUpdateThreshold))
	s.router.HandleFunc("DELETE "+adminPrefix+"/thresholds/{id}", admin(s.handleDeleteThreshold))
	s.router.HandleFunc("POST "+adminPrefix+"/run-check", s.requireAdminOrService(s.handleRunCheck))
	s.router.HandleFunc("GET "+adminPrefix+"/alerts", admin(s.handleListAlerts))
	s.router.HandleFunc("GET "+adminPrefix+"/alerts/{id}", admin(s.handleGetAlert))
	s.router.HandleFunc("GET "+adminPrefix+"/stats", admin(s.handleAlertStats))
	s.router.HandleFunc("GET "+adminPrefix+"/flagged-students", admin(s.handleListFlagged))
	s.router.HandleFunc("GET "+adminPrefix+"/audit-logs", admin(s.handleListAudit))
	s.router.HandleFunc("GET "+adminPrefix+"/audit-logs/recent", admin(s.handleRecentAudit))
	s.router.HandleFunc("GET /api/v1/academic-calendar/current", admin(s.handleCurrentWeek))

	// ─────────────────────────────────────────────────────────────────────────
	// Teacher: review queue
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET "+teacherPrefix+"/alerts", teacher(s.handleListAlerts))
	s.router.HandleFunc("GET "+teacherPrefix+"/alerts/{id}", teacher(s.handleGetAlert))
	s.router.HandleFunc("POST "+teacherPrefix+"/alerts/{id}/approve", teacher(s.handleApproveAlert))
	s.router.HandleFunc("POST "+teacherPrefix+"/alerts/{id}/dismiss", teacher(s.handleDismissAlert))
	s.router.HandleFunc("POST "+teacherPrefix+"/alerts/{id}/resolve", teacher(s.handleResolveAlert))
	s.router.HandleFunc("GET "+teacherPrefix+"/stats", teacher(s.handleAlertStats))
	s.router.HandleFunc("GET "+teacherPrefix+"/flagged-students", teacher(s.handleListFlagged))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router with all middleware. The first
// wrapper is innermost.
func (s *Server) buildMiddlewareChain(router http.Handler) http.Handler {
	// Metrics sits directly on the mux so it sees the matched pattern.
	h := s.metricsMiddleware(router)

	h = handlers.ChainHandler(h,
		handlers.SecurityHeadersMiddleware,
		handlers.NoCacheMiddleware,
		handlers.RequestSizeLimitMiddleware(s.maxBodyBytes()),
		handlers.TimeoutMiddleware(s.config.RequestTimeout),
	)

	h = s.loggingMiddleware(h)
	h = s.recoveryMiddleware(h)
	h = s.requestIDMiddleware(h)

	if s.config.EnableCORS {
		h = s.corsMiddleware(h)
	}
	if s.rateLimiter != nil {
		h = s.rateLimitMiddleware(h)
	}
	return h
}

func (s *Server) maxBodyBytes() int64 {
	if s.config.MaxBodyBytes > 0 {
		return s.config.MaxBodyBytes
	}
	return 1 << 20
}

// requestIDMiddleware adds a unique request ID to each request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request count and latency per route pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		} else if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}
		s.deps.Metrics.ObserveHTTP(route, r.Method, rw.statusCode, time.Since(start))
	})
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapResponseWriter(w)

		next.ServeHTTP(rw, r)

		if r.URL.Path == "/live" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.StatusCode(rw.statusCode),
			logger.Latency(time.Since(start)),
			logger.String("ip", getClientIP(r)),
			logger.String("request_id", getRequestID(r.Context())),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					logger.Any("error", err),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
					logger.String("request_id", getRequestID(r.Context())),
				)
				writeJSONError(w, r, http.StatusInternalServerError, codeInternal, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, o := range s.config.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware implements per-IP rate limiting.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, r, http.StatusTooManyRequests, codeRateLimited, "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	Page       int       `json:"page,omitempty"`
	PageSize   int       `json:"page_size,omitempty"`
	HasMore    bool      `json:"has_more,omitempty"`
}

// writeEnvelope fills the common envelope fields and encodes resp.
func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, resp JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	resp.Success = status >= 200 && status < 300
	if resp.Meta == nil {
		resp.Meta = &ResponseMeta{}
	}
	resp.Meta.Timestamp = time.Now().UTC()
	resp.Meta.Version = "v1"
	resp.RequestID = getRequestID(r.Context())

	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, r, status, JSONResponse{Data: data})
}

// writeJSONWithMeta writes a JSON response with custom metadata.
func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	writeEnvelope(w, r, status, JSONResponse{Data: data, Meta: meta})
}

// writeJSONError writes an error JSON response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeEnvelope(w, r, status, JSONResponse{Error: &APIError{Code: code, Message: message}})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// getQueryParamInt extracts an integer query parameter with a default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getQueryParamBool extracts a boolean query parameter.
func getQueryParamBool(r *http.Request, key string) bool {
	value := strings.ToLower(r.URL.Query().Get(key))
	return value == "true" || value == "1" || value == "yes"
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	valid := pruneBefore(rl.requests[key], now.Add(-rl.window))
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

func (rl *rateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, requests := range rl.requests {
				if valid := pruneBefore(requests, now.Add(-rl.window)); len(valid) == 0 {
					delete(rl.requests, key)
				} else {
					rl.requests[key] = valid
				}
			}
			rl.mu.Unlock()
		}
	}
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
