// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/aeges-net/aeges/internal/analysis"
	"github.com/aeges-net/aeges/internal/circuitbreaker"
	"github.com/aeges-net/aeges/internal/config"
	"github.com/aeges-net/aeges/internal/consensus"
	"github.com/aeges-net/aeges/internal/containment"
	"github.com/aeges-net/aeges/internal/events"
	"github.com/aeges-net/aeges/internal/health"
	"github.com/aeges-net/aeges/internal/logging"
	"github.com/aeges-net/aeges/internal/metrics"
	"github.com/aeges-net/aeges/internal/provider"
	"github.com/aeges-net/aeges/internal/ratelimit"
	"github.com/aeges-net/aeges/internal/realtime"
	"github.com/aeges-net/aeges/internal/recovery"
	"github.com/aeges-net/aeges/internal/risk"
	"github.com/aeges-net/aeges/internal/security"
	"github.com/aeges-net/aeges/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	bus          *events.Bus
	providers    []provider.Adapter
	limiter      *ratelimit.Limiter
	analysis     *analysis.Service
	containments *containment.Service
	recoveries   *recovery.Service
	sweepTimer   *containment.Timer
	hub          *realtime.Hub
	detachHub    func()
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProviders sets the analysis provider set (for testing)
func WithProviders(providers []provider.Adapter) Option {
	return func(s *Server) {
		s.providers = providers
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set providers/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Propagation target is an outbound request destination; refuse internal
	// addresses before anything else is wired up.
	if cfg.PropagationURL != "" {
		if err := security.ValidateEndpointURL(cfg.PropagationURL); err != nil {
			return nil, fmt.Errorf("invalid propagation URL: %w", err)
		}
	}

	s.bus = events.NewBus(s.logger)
	s.checks = health.NewRegistry()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		riskStore        risk.Store
		containmentStore containment.Store
		recoveryStore    recovery.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		riskStore = risk.NewPostgresStore(db)
		containmentStore = containment.NewPostgresStore(db)
		recoveryStore = recovery.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			if err := db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = "ping failed"
			}
			return st
		})
	} else {
		riskStore = risk.NewMemoryStore()
		containmentStore = containment.NewMemoryStore()
		recoveryStore = recovery.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Analysis providers from config unless injected
	if s.providers == nil {
		adapters, err := provider.FromConfig(cfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build providers: %w", err)
		}
		s.providers = adapters
	}
	for _, p := range s.providers {
		s.logger.Info("analysis provider enabled", "provider", p.Name())
	}

	// Provider rate limiter, shared across the consensus aggregator
	s.limiter = ratelimit.New(ratelimit.Config{
		Limit:  cfg.RateLimitPerWin,
		Window: cfg.RateLimitWindow,
	})

	// Trip a provider out of the rotation after repeated failures
	breaker := circuitbreaker.New(5, 30*time.Second)

	aggregator := consensus.NewAggregator(s.limiter, cfg.ProviderTimeout, s.logger).
		WithThreshold(cfg.ConsensusThreshold).
		WithBreaker(breaker)

	engine := risk.NewEngine().
		WithBoundaries(risk.Boundaries{
			MediumAt:   cfg.MediumAt,
			HighAt:     cfg.HighAt,
			CriticalAt: cfg.CriticalAt,
		}).
		WithMaxAIWeight(cfg.MaxAIWeight)

	// Containment service, with network propagation when configured
	s.containments = containment.NewService(containmentStore, s.bus, cfg.ContainmentMaxAge)
	if cfg.PropagationURL != "" {
		s.containments.WithPropagator(containment.NewHTTPPropagator(cfg.PropagationURL))
		s.logger.Info("containment propagation enabled", "url", cfg.PropagationURL)
	}

	// Recovery workflow
	s.recoveries = recovery.NewService(
		recoveryStore,
		s.containments,
		s.bus,
		cfg.RecoveryApprovals,
		cfg.RecoveryDeadline,
	)

	// Analysis pipeline
	s.analysis = analysis.NewService(
		engine,
		riskStore,
		aggregator,
		s.providers,
		s.containments,
		s.bus,
		analysis.Options{
			Mode:              analysis.Mode(cfg.ConsensusMode),
			Quorum:            cfg.ParallelQuorum,
			StrictAgreement:   cfg.StrictAgreement,
			RequiredApprovals: cfg.RecoveryApprovals,
			RecoveryDeadline:  cfg.RecoveryDeadline,
		},
	)

	// Background sweep: expire stale containments, then overdue recoveries
	s.sweepTimer = containment.NewTimer(s.containments, containmentStore, cfg.SweepInterval, s.logger).
		WithSweep(s.recoveries.SweepOverdue)

	// Realtime hub streams bus events over WebSocket
	s.hub = realtime.NewHub(s.logger)
	s.detachHub = s.hub.AttachBus(s.bus)
	s.logger.Info("realtime streaming enabled")

	s.checks.Register("providers", s.providerChecker())
	s.checks.Register("event_bus", func(ctx context.Context) health.Status {
		return health.Status{Name: "event_bus", Healthy: true, Detail: fmt.Sprintf("%d dropped", s.bus.Dropped())}
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// providerChecker probes the first configured provider. One reachable
// provider is enough for analysis to proceed, so the check reports degraded
// rather than failing hard when a backend is down.
func (s *Server) providerChecker() health.Checker {
	return func(ctx context.Context) health.Status {
		st := health.Status{Name: "providers", Healthy: true}
		if len(s.providers) == 0 {
			st.Healthy = false
			st.Detail = "no providers configured"
			return st
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		for _, p := range s.providers {
			if err := p.HealthCheck(ctx); err == nil {
				st.Detail = fmt.Sprintf("%d configured", len(s.providers))
				return st
			}
		}
		st.Healthy = false
		st.Detail = "no provider reachable"
		return st
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	analysis.NewHandler(s.analysis).RegisterRoutes(v1)
	containment.NewHandler(s.containments).RegisterRoutes(v1)
	recovery.NewHandler(s.recoveries).RegisterRoutes(v1)

	v1.GET("/events/stream", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/events/stats", s.eventStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "AEGES",
		"description": "AI-driven transaction risk analysis and containment",
		"version":     "0.1.0",
		"providers":   names,
		"mode":        s.cfg.ConsensusMode,
	})
}

func (s *Server) eventStatsHandler(c *gin.Context) {
	stats := s.hub.Stats()
	stats["eventsDropped"] = s.bus.Dropped()
	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"providers", len(s.providers),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start containment expiry / recovery deadline sweep
	go s.sweepTimer.Start(runCtx)

	// Sample DB pool stats for Prometheus
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweep timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop expiry sweep
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
		s.logger.Info("sweep timer stopped")
	}

	// Detach the hub from the event bus
	if s.detachHub != nil {
		s.detachHub()
	}

	// Stop provider rate limiter cleanup goroutine
	if s.limiter != nil {
		s.limiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
