// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/trustgate/internal/attestation"
	"github.com/mbd888/trustgate/internal/auth"
	"github.com/mbd888/trustgate/internal/circuitbreaker"
	"github.com/mbd888/trustgate/internal/config"
	"github.com/mbd888/trustgate/internal/decision"
	"github.com/mbd888/trustgate/internal/health"
	"github.com/mbd888/trustgate/internal/idgen"
	"github.com/mbd888/trustgate/internal/logging"
	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/ratelimit"
	"github.com/mbd888/trustgate/internal/realtime"
	"github.com/mbd888/trustgate/internal/regulatory"
	"github.com/mbd888/trustgate/internal/risk"
	"github.com/mbd888/trustgate/internal/security"
	"github.com/mbd888/trustgate/internal/telemetry"
	"github.com/mbd888/trustgate/internal/tenant"
	"github.com/mbd888/trustgate/internal/threat"
	"github.com/mbd888/trustgate/internal/traces"
	"github.com/mbd888/trustgate/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// telemetryStore persists events and compliance reports.
type telemetryStore interface {
	telemetry.Store
	telemetry.ReportStore
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	version       string
	policies      *policy.Store
	provider      attestation.Provider
	verifier      *attestation.Verifier
	analyzer      threat.Analyzer
	riskStore     risk.Store
	engine        *risk.Engine
	events        telemetryStore
	pipeline      *telemetry.Pipeline
	aggregator    *telemetry.Aggregator
	reporter      *telemetry.Reporter
	sink          regulatory.Sink
	escalator     *regulatory.Escalator
	coordinator   *decision.Coordinator
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	authMgr       *auth.Manager
	health        *health.Registry
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	workers       sync.WaitGroup
	traceShutdown func(context.Context) error
	shutdownGrace time.Duration
	loadConfig    func() (*config.Config, error)

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

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithAttestationProvider overrides the provider chosen by configuration.
func WithAttestationProvider(p attestation.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithRegulatorySink overrides the regulatory sink chosen by configuration.
func WithRegulatorySink(sink regulatory.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithTelemetryStore overrides the telemetry store chosen by configuration.
func WithTelemetryStore(store telemetryStore) Option {
	return func(s *Server) {
		s.events = store
	}
}

// WithConfigLoader replaces the loader used by ReloadPolicies.
func WithConfigLoader(load func() (*config.Config, error)) Option {
	return func(s *Server) {
		s.loadConfig = load
	}
}

// WithShutdownGrace sets how long Shutdown waits for load balancers to
// stop sending traffic.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownGrace = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		version:       "dev",
		logger:        logging.New(cfg.LogLevel, cfg.LogFormat),
		shutdownGrace: 5 * time.Second,
		loadConfig:    config.Reload,
	}

	// Apply options first (may set logger/provider/sink/store)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	traceShutdown, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     s.version,
		SampleRatio: cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.traceShutdown = traceShutdown

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if err := s.initStorage(ctx); err != nil {
		return nil, err
	}

	// Policies
	snap, err := cfg.PolicySnapshot()
	if err != nil {
		s.logger.Warn("policy misconfiguration, affected checks fail closed", "error", err)
	}
	s.policies = policy.NewStore(snap)
	s.logger.Info("policies loaded",
		"multiTenant", snap.MultiTenant,
		"tenants", s.policies.TenantIDs(),
	)

	// Attestation
	if s.provider == nil {
		s.provider = newAttestationProvider(cfg)
	}
	breaker := circuitbreaker.New(5, 30*time.Second)
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("attestation circuit breaker transition",
			"provider", key, "from", from.String(), "to", to.String())
	})
	s.verifier = attestation.NewVerifier(s.provider,
		attestation.WithTimeout(cfg.AttestationTimeout),
		attestation.WithBreaker(breaker),
		attestation.WithLogger(s.logger),
	)
	s.logger.Info("attestation provider configured", "provider", s.provider.Name())

	// Threat analysis
	s.analyzer = newThreatAnalyzer(cfg)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger).WithAllowedOrigins(cfg.CORSOrigins)

	// Regulatory submission
	if s.sink == nil {
		if cfg.RegulatoryEndpoint != "" {
			s.sink = regulatory.NewHTTPSink(cfg.RegulatoryEndpoint, cfg.RegulatorySecret, cfg.RegulatoryAuthorityID, s.logger)
			s.logger.Info("regulatory submission enabled", "authority", cfg.RegulatoryAuthorityID)
		} else {
			s.sink = regulatory.NewLogSink(s.logger)
			s.logger.Info("regulatory endpoint not configured, submissions are logged only")
		}
	}
	s.escalator = regulatory.NewEscalator(s.sink, 0, s.logger).WithSalt(cfg.TelemetrySalt)

	// Telemetry pipeline and compliance reporting
	s.aggregator = telemetry.NewAggregator()
	s.pipeline = telemetry.NewPipeline(telemetry.Config{
		Enabled:      cfg.TelemetryEnabled,
		Anonymize:    cfg.TelemetryAnonymize,
		BatchSize:    cfg.TelemetryBatchSize,
		BatchTimeout: cfg.TelemetryBatchTimeout,
		Salt:         cfg.TelemetrySalt,
	}, s.events,
		telemetry.WithAggregator(s.aggregator),
		telemetry.WithEscalator(s.escalator),
		telemetry.WithBroadcaster(s.realtimeHub),
		telemetry.WithLogger(s.logger),
	)
	s.reporter = telemetry.NewReporter(s.aggregator, s.events,
		&reportFanout{sink: s.sink, hub: s.realtimeHub}, cfg.ReportInterval, s.logger)

	// Risk engine and coordinator
	s.engine = risk.NewEngine(s.riskStore).
		WithRecorder(s.pipeline).
		WithLogger(s.logger).
		WithSalt(cfg.TelemetrySalt)
	s.coordinator = decision.NewCoordinator(s.verifier, s.engine, s.analyzer, s.policies,
		decision.WithRecorder(s.pipeline),
		decision.WithAuthorityID(cfg.RegulatoryAuthorityID),
		decision.WithSalt(cfg.TelemetrySalt),
		decision.WithLogger(s.logger),
	)

	// API keys
	s.authMgr = auth.NewManager(auth.NewMemoryStore())
	n, err := s.authMgr.LoadKeys(ctx, cfg.APIKeys)
	if err != nil {
		s.logger.Warn("ignoring malformed API keys", "error", err)
	}
	if n == 0 && cfg.IsProduction() {
		s.logger.Warn("no API keys configured, verification API is unauthenticated")
	}
	s.logger.Info("api keys loaded", "count", n)

	s.setupHealth()

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

func (s *Server) initStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		if s.events == nil {
			s.events = telemetry.NewMemoryStore()
		}
		s.riskStore = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	if s.events == nil {
		eventStore := telemetry.NewPostgresStore(db)
		if err := eventStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate telemetry store", "error", err)
		}
		s.events = eventStore
	}

	riskStore := risk.NewPostgresStore(db)
	if err := riskStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate risk store", "error", err)
	}
	s.riskStore = riskStore
	return nil
}

func newAttestationProvider(cfg *config.Config) attestation.Provider {
	if cfg.AttestationProvider == "claims" {
		return attestation.NewClaimsProvider(
			attestation.WithHMACKey([]byte(cfg.AttestationHMACKey)),
			attestation.WithPackageName(cfg.AttestationPackageName),
		)
	}
	return attestation.StructuralProvider{}
}

func newThreatAnalyzer(cfg *config.Config) threat.Analyzer {
	if cfg.ThreatAnalyzer == "static" {
		return threat.StaticAnalyzer{}
	}
	return threat.NewSignalAnalyzer(cfg.ThreatScoreThreshold, cfg.CriticalThreatThreshold)
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry(2 * time.Second)
	s.health.Register(s.verifier.HealthCheck)
	s.health.Register(func(context.Context) health.Status {
		snap := s.policies.Load()
		if snap == nil || snap.Default == nil {
			return health.Status{Name: "policy", Healthy: false, Detail: "no policy snapshot"}
		}
		return health.Status{Name: "policy", Healthy: true, Detail: fmt.Sprintf("%d tenants", len(snap.Tenants))}
	})
	s.health.Register(s.pipeline.HealthCheck)
	s.health.Register(health.Static("threat_detection", s.cfg.ThreatAnalyzer))
	if s.db != nil {
		s.health.Register(func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: "unreachable"}
			}
			return health.Status{Name: "database", Healthy: true, Detail: "postgres"}
		})
	} else {
		s.health.Register(health.Static("database", "in-memory"))
	}
	if hs, ok := s.sink.(interface {
		HealthCheck(context.Context) health.Status
	}); ok {
		s.health.Register(hs.HealthCheck)
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Security headers
	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))

	// CORS (all origins when none are configured)
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins, s.cfg.TenantHeader))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Tenant resolution, before rate limiting so buckets are per tenant
	s.router.Use(tenant.Middleware(s.cfg.MultiTenantEnabled, s.cfg.TenantHeader, s.policies))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		rl.BurstSize = max(1, s.cfg.RateLimitRPM/10)
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 || !validation.IsSafeIdentifier(requestID) {
			requestID = idgen.Hex(16)
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
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		if tid := tenant.GetTenantID(c); tid != "" {
			attrs = append(attrs, "tenant_id", tid)
		}

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for realtime security events. A tenant-bound key scopes
	// the stream to that tenant.
	s.router.GET("/ws/events", auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1/sfe", auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	decision.NewHandler(s.coordinator).RegisterRoutes(v1)
	policy.NewHandler(s.policies).RegisterRoutes(v1)
	risk.NewHandler(s.riskStore).RegisterRoutes(v1)
	telemetry.NewHandler(s.pipeline, s.reporter).
		WithStats("escalation", func() any { return s.escalator.Stats() }).
		WithStats("realtime", func() any { return s.realtimeHub.Stats() }).
		RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
	Details    []health.Status   `json:"details,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	status := "HEALTHY"
	httpStatus := http.StatusOK
	if !healthy {
		status = "DEGRADED"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:     status,
		Version:    s.version,
		Components: health.Components(statuses),
		Details:    statuses,
		Timestamp:  time.Now().UnixMilli(),
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.StartWorkers(ctx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// SIGHUP reloads policies, the others shut down
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-errChan:
			return fmt.Errorf("server error: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := s.ReloadPolicies(); err != nil {
					s.logger.Error("policy reload failed", "error", err)
				}
				continue
			}
			s.logger.Info("shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
			s.logger.Info("context cancelled")
		}
		return s.Shutdown()
	}
}

// ReloadPolicies re-reads the configuration and publishes a new policy
// snapshot. A snapshot that fails to parse is rejected and the current one
// stays in effect. Requests already in flight keep the snapshot they read.
func (s *Server) ReloadPolicies() error {
	cfg, err := s.loadConfig()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	snap, err := cfg.PolicySnapshot()
	if err != nil {
		return fmt.Errorf("reload policies: %w", err)
	}
	snap.MultiTenant = s.cfg.MultiTenantEnabled
	s.policies.Swap(snap)
	s.logger.Info("policies reloaded",
		"multiTenant", snap.MultiTenant,
		"tenants", s.policies.TenantIDs(),
	)
	return nil
}

// StartWorkers starts the background workers: realtime hub, telemetry
// flush, regulatory escalation, compliance reports and DB stats.
func (s *Server) StartWorkers(ctx context.Context) {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.goWorker(func() { s.realtimeHub.Run(runCtx) })
	s.goWorker(func() { s.pipeline.Start(runCtx) })
	s.goWorker(func() { s.escalator.Start(runCtx) })
	s.goWorker(func() { s.reporter.Start(runCtx) })

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
}

func (s *Server) goWorker(fn func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	var errs []error
	if s.httpSrv != nil {
		// Give load balancers time to stop sending traffic
		time.Sleep(s.shutdownGrace)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	// Drain telemetry first so escalations it triggers are still submitted
	s.pipeline.Stop()
	s.reporter.Stop()
	s.waitWorkers(func() bool { return !s.pipeline.Running() }, 10*time.Second)
	if s.pipeline.QueueLen() > 0 {
		// Workers never started
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.pipeline.Drain(ctx); err != nil {
			s.logger.Warn("telemetry events left unflushed at shutdown", "error", err)
		}
		cancel()
	}
	s.escalator.Stop()
	s.waitWorkers(func() bool { return !s.escalator.Running() }, 15*time.Second)
	s.logger.Info("telemetry drained", "stats", s.pipeline.Stats(), "escalation", s.escalator.Stats())

	// Cancel the context for the remaining background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.waitWorkers(nil, 5*time.Second)

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
		cancel()
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
			errs = append(errs, err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// waitWorkers waits until done reports true, or for all workers when done
// is nil, giving up after timeout.
func (s *Server) waitWorkers(done func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	if done == nil {
		finished := make(chan struct{})
		go func() {
			s.workers.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(timeout):
			s.logger.Warn("background workers did not stop in time")
		}
		return
	}
	for !done() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Pipeline returns the telemetry pipeline.
func (s *Server) Pipeline() *telemetry.Pipeline {
	return s.pipeline
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// reportFanout announces compliance reports on the realtime stream and
// submits them to the regulator. Retried submissions are announced once.
type reportFanout struct {
	sink regulatory.Sink
	hub  *realtime.Hub
	last atomic.Pointer[telemetry.ComplianceReport]
}

func (f *reportFanout) SubmitReport(ctx context.Context, r *telemetry.ComplianceReport) error {
	if f.hub != nil && f.last.Swap(r) != r {
		f.hub.BroadcastReport(r)
	}
	return f.sink.SubmitReport(ctx, r)
}
