// Package server wires the mandate, policy, and risk providers into one
// HTTP process and owns its lifecycle.
package server

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
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
	"github.com/kordell-io/agentgate/internal/config"
	"github.com/kordell-io/agentgate/internal/health"
	"github.com/kordell-io/agentgate/internal/idgen"
	"github.com/kordell-io/agentgate/internal/logging"
	"github.com/kordell-io/agentgate/internal/mandate"
	"github.com/kordell-io/agentgate/internal/metrics"
	"github.com/kordell-io/agentgate/internal/policy"
	"github.com/kordell-io/agentgate/internal/realtime"
	"github.com/kordell-io/agentgate/internal/risk"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server holds the providers, stores, and HTTP machinery for one instance.
type Server struct {
	cfg          *config.Config
	mandates     mandate.Provider
	mandateStore mandate.Store // nil when using the mock provider
	policies     policy.Provider
	risks        risk.Provider
	riskEngine   *risk.Engine // nil when using the mock provider
	realtimeHub  *realtime.Hub
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Liveness and readiness flags
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option customizes a Server before wiring completes.
type Option func(*Server)

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMandateProvider substitutes the mandate provider, used by tests.
func WithMandateProvider(p mandate.Provider) Option {
	return func(s *Server) {
		s.mandates = p
	}
}

// WithPolicyProvider substitutes the policy provider, used by tests.
func WithPolicyProvider(p policy.Provider) Option {
	return func(s *Server) {
		s.policies = p
	}
}

// WithRiskProvider substitutes the risk provider, used by tests.
func WithRiskProvider(p risk.Provider) Option {
	return func(s *Server) {
		s.risks = p
	}
}

// New builds a fully wired server from config. Providers not injected via
// options are constructed per their configured kind.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Options run first so injected providers win over config.
	for _, opt := range opts {
		opt(s)
	}

	// Storage backend follows DATABASE_URL; absent means in-memory.
	var (
		mandateStore mandate.Store
		policyStore  policy.Store
		riskStore    risk.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		mandateStore = mandate.NewPostgresStore(db)
		policyStore = policy.NewPostgresStore(db)
		riskStore = risk.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		mandateStore = mandate.NewMemoryStore()
		policyStore = policy.NewMemoryStore()
		riskStore = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Mandate authority
	if s.mandates == nil {
		switch cfg.MandateProvider {
		case config.ProviderMock:
			s.mandates = mandate.NewMockProvider(true, 0)
			s.logger.Info("mandate authority enabled (mock)")
		default:
			var signingKey *ecdsa.PrivateKey
			if cfg.Mandate.SigningKey != "" {
				key, err := mandate.ParseSigningKey(cfg.Mandate.SigningKey)
				if err != nil {
					return nil, fmt.Errorf("invalid mandate signing key: %w", err)
				}
				signingKey = key
			}
			s.mandateStore = mandateStore
			s.mandates = mandate.NewAuthority(mandateStore, mandate.Config{
				SigningKey:     signingKey,
				RequireSigning: cfg.Mandate.RequireSigning,
				ChainID:        cfg.Mandate.ChainID,
			})
			s.logger.Info("mandate authority enabled",
				"chainId", cfg.Mandate.ChainID,
				"signing", signingKey != nil,
			)
		}
	}

	// Policy engine
	if s.policies == nil {
		switch cfg.PolicyProvider {
		case config.ProviderMock:
			s.policies = policy.NewMockProvider(true, 0)
			s.logger.Info("policy engine enabled (mock)")
		default:
			s.policies = policy.NewEngine(policyStore)
			s.logger.Info("policy engine enabled")
		}
	}

	// Risk engine
	if s.risks == nil {
		switch cfg.RiskProvider {
		case config.ProviderMock:
			s.risks = risk.NewMockProvider(0, 0)
			s.logger.Info("risk engine enabled (mock)")
		default:
			engine := risk.NewEngine(risk.Config{
				BaseScore:          cfg.Risk.BaseScore,
				HighValueThreshold: cfg.Risk.HighValueThreshold,
				VelocityLimit:      cfg.Risk.VelocityLimit,
				HistoryLimit:       cfg.Risk.HistoryLimit,
				AlertLimit:         cfg.Risk.AlertLimit,
				ReputationTTL:      cfg.Risk.ReputationTTL,
				SweepInterval:      cfg.Risk.SweepInterval,
			}, riskStore, s.logger)
			s.riskEngine = engine
			s.risks = engine
			s.logger.Info("risk engine enabled",
				"baseScore", cfg.Risk.BaseScore,
				"velocityLimit", cfg.Risk.VelocityLimit,
			)
		}
	}

	// Subsystem health checks
	s.checks.Register("mandates", providerCheck("mandates", s.mandates.HealthCheck))
	s.checks.Register("policies", providerCheck("policies", s.policies.HealthCheck))
	s.checks.Register("risk", providerCheck("risk", s.risks.HealthCheck))
	if s.db != nil {
		s.checks.Register("database", providerCheck("database", s.db.PingContext))
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// providerCheck adapts a HealthCheck method to a health.Checker.
func providerCheck(name string, check func(context.Context) error) health.Checker {
	return func(ctx context.Context) health.Status {
		if err := check(ctx); err != nil {
			return health.Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: name, Healthy: true}
	}
}

// maskDSN replaces the password portion of a DSN before it is logged.
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
	// Panics become logged 500s.
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

	s.router.Use(metrics.GinMiddleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an upstream request ID when present.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.RequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

		// Severity tracks the response status.
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	mandateHandler := mandate.NewHandler(s.mandates).
		WithEvents(&mandateEventEmitter{s.realtimeHub})
	mandateHandler.RegisterRoutes(v1)

	policyHandler := policy.NewHandler(s.policies)
	policyHandler.RegisterRoutes(v1)

	riskHandler := risk.NewHandler(s.risks).
		WithEvents(&riskEventEmitter{s.realtimeHub})
	riskHandler.RegisterRoutes(v1)

	v1.GET("/stats", s.statsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the body of GET /health.
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
	c.JSON(http.StatusOK, gin.H{
		"name":        "AgentGate",
		"description": "Payment authorization for autonomous agents",
		"version":     "0.1.0",
		"chainId":     s.cfg.Mandate.ChainID,
	})
}

// statsHandler reports hub delivery counters and the active mandate count.
func (s *Server) statsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	stats := gin.H{
		"realtime": s.realtimeHub.Stats(),
	}

	if s.mandateStore != nil {
		if active, err := s.mandateStore.CountActive(ctx); err == nil {
			stats["activeMandates"] = active
		}
	}

	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves until the context is cancelled, a signal arrives, or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Background goroutines stop when Shutdown cancels this context.
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

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.riskEngine != nil {
		s.riskEngine.StartSweeper()
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	if s.mandateStore != nil {
		go s.collectMandateStats(runCtx)
	}

	// Readiness flips after the listener has had a moment to bind.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

func (s *Server) collectMandateStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if active, err := s.mandateStore.CountActive(ctx); err == nil {
				metrics.ActiveMandates.Set(float64(active))
			}
		}
	}
}

// Shutdown drains in-flight requests and stops background work.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.riskEngine != nil {
		s.riskEngine.StopSweeper()
		s.logger.Info("risk sweeper stopped")
	}

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

// Router exposes the gin engine so tests can drive it directly.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Realtime adapters
// -----------------------------------------------------------------------------

// mandateEventEmitter forwards handler events onto the hub.
type mandateEventEmitter struct {
	hub *realtime.Hub
}

func (e *mandateEventEmitter) EmitDecision(decision map[string]interface{}) {
	if e.hub != nil {
		e.hub.BroadcastDecision(decision)
	}
}

func (e *mandateEventEmitter) EmitExecution(execution map[string]interface{}) {
	if e.hub != nil {
		e.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventExecution,
			Timestamp: time.Now(),
			Data:      execution,
		})
	}
}

// riskEventEmitter forwards risk events onto the hub.
type riskEventEmitter struct {
	hub *realtime.Hub
}

func (e *riskEventEmitter) EmitRiskAlert(alert map[string]interface{}) {
	if e.hub != nil {
		e.hub.BroadcastRiskAlert(alert)
	}
}

func (e *riskEventEmitter) EmitBlacklistUpdate(update map[string]interface{}) {
	if e.hub != nil {
		e.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventBlacklist,
			Timestamp: time.Now(),
			Data:      update,
		})
	}
}
