// Package http serves the subscription scan API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"subscan/internal/cache"
	"subscan/internal/core"
	applog "subscan/internal/log"
	"subscan/internal/middleware/ratelimit"
	"subscan/internal/middleware/security"
	"subscan/internal/middleware/trace"
)

// Service is what the handlers need from the scan layer
type Service interface {
	ScanUser(ctx context.Context, userID string) (core.ScanResult, error)
	Subscriptions(ctx context.Context, userID string) ([]core.DetectedSubscription, error)
	ImportTransactions(ctx context.Context, userID string, txs []core.Transaction) (int, error)
	LastScan(ctx context.Context, userID string) (core.ScanRun, error)
}

// ScanRequester queues a scan for a worker instead of running it inline
type ScanRequester interface {
	PublishScanRequest(ctx context.Context, userID, reason string) error
}

type Options struct {
	Addr               string
	RateLimitPerMinute int
	Logger             *applog.Logger

	// Ready reports whether the backing store is usable. Optional.
	Ready func(ctx context.Context) error
	// Requester enables ?async=true on scan requests. Optional.
	Requester ScanRequester
	// CacheStats exposes the subscription read cache on /metrics. Optional.
	CacheStats func() cache.Stats
}

type Server struct {
	http.Server
	svc        Service
	requester  ScanRequester
	ready      func(ctx context.Context) error
	cacheStats func() cache.Stats

	detector *security.Detector
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	logger   *applog.Logger
	events   *applog.StructuredLogger

	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(svc Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	detector := security.NewDetector()
	s := &Server{
		svc:        svc,
		requester:  opts.Requester,
		ready:      opts.Ready,
		cacheStats: opts.CacheStats,
		detector:   detector,
		limiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		tracer:     trace.NewMiddleware(detector.ClientIP, logger),
		logger:     logger,
		events:     applog.NewStructuredLogger(logger),
		started:    time.Now(),
	}

	limited := s.limiter.Middleware(detector.ClientIP, s.onRateLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/users/{user}/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("GET /api/users/{user}/scans/latest", s.handleLastScan)
	mux.Handle("POST /api/users/{user}/scans", limited(http.HandlerFunc(s.handleScan)))
	mux.Handle("POST /api/users/{user}/transactions", limited(http.HandlerFunc(s.handleImportTransactions)))

	var h http.Handler = mux
	h = applog.RequestIDMiddleware(func(r *http.Request) string { return trace.GetRequestID(r.Context()) })(h)
	h = applog.Middleware(logger)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)
	h = detector.Middleware(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ClientIP(r),
		applog.FieldPath, r.URL.Path)
	writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded, try again later")
}

// Shutdown stops the rate limiter and drains the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
