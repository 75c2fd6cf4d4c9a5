// Package config handles application configuration from environment variables
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/security"
	"github.com/mbd888/trustgate/internal/tenant"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port         string
	Env          string // "development", "staging", "production"
	LogLevel     string
	LogFormat    string // "json" or "text"
	CORSOrigins  []string
	RateLimitRPM int

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Telemetry pipeline
	TelemetryEnabled      bool
	TelemetryBatchSize    int
	TelemetryBatchTimeout time.Duration
	TelemetryAnonymize    bool
	TelemetrySalt         string
	ReportInterval        time.Duration

	// Regulatory authority
	RegulatoryEndpoint    string // empty: submissions are only logged
	RegulatorySecret      string
	RegulatoryAuthorityID string

	// Attestation
	AttestationProvider    string // "structural" or "claims"
	AttestationHMACKey     string
	AttestationPackageName string
	AttestationTimeout     time.Duration

	// Threat analysis
	ThreatAnalyzer          string // "static" or "signals"
	ThreatScoreThreshold    int
	CriticalThreatThreshold int

	// Policies, as "ACTION:LEVEL"
	RootDetectionPolicy     string
	DebuggerDetectionPolicy string
	AppTamperingPolicy      string

	// API keys, "key" or "tenantId:key", comma separated. Empty: API is open.
	APIKeys string

	// Multi-tenancy
	MultiTenantEnabled bool
	TenantHeader       string
	TenantPolicies     string // JSON, see ParseTenantPolicies

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort                    = "8080"
	DefaultEnv                     = "development"
	DefaultLogLevel                = "info"
	DefaultLogFormat               = "json"
	DefaultRateLimitRPM            = 600
	DefaultBatchSize               = 100
	DefaultBatchTimeoutMS          = 60000
	DefaultReportInterval          = 24 * time.Hour
	DefaultAttestationProvider     = "structural"
	DefaultAttestationTimeout      = 3 * time.Second
	DefaultThreatAnalyzer          = "signals"
	DefaultThreatScoreThreshold    = 70
	DefaultCriticalThreatThreshold = 90
	DefaultAuthorityID             = "RBI"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()
	return fromEnv()
}

// Reload re-reads the configuration. Values in .env replace the ones
// loaded earlier, so edits to the file take effect.
func Reload() (*Config, error) {
	_ = godotenv.Overload()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:    getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPM: int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		DatabaseURL:  os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set

		TelemetryEnabled:      getEnvBool("TELEMETRY_ENABLED", true),
		TelemetryBatchSize:    int(getEnvInt64("TELEMETRY_BATCH_SIZE", DefaultBatchSize)),
		TelemetryBatchTimeout: time.Duration(getEnvInt64("TELEMETRY_BATCH_TIMEOUT_MS", DefaultBatchTimeoutMS)) * time.Millisecond,
		TelemetryAnonymize:    getEnvBool("TELEMETRY_ANONYMIZE", true),
		TelemetrySalt:         os.Getenv("TELEMETRY_SALT"),
		ReportInterval:        getEnvDuration("TELEMETRY_REPORT_INTERVAL", DefaultReportInterval),

		RegulatoryEndpoint:    os.Getenv("REGULATORY_ENDPOINT"),
		RegulatorySecret:      os.Getenv("REGULATORY_SECRET"),
		RegulatoryAuthorityID: getEnv("REGULATORY_AUTHORITY_ID", DefaultAuthorityID),

		AttestationProvider:    getEnv("ATTESTATION_PROVIDER", DefaultAttestationProvider),
		AttestationHMACKey:     os.Getenv("ATTESTATION_HMAC_KEY"),
		AttestationPackageName: os.Getenv("ATTESTATION_PACKAGE_NAME"),
		AttestationTimeout:     getEnvDuration("ATTESTATION_TIMEOUT", DefaultAttestationTimeout),

		ThreatAnalyzer:          getEnv("THREAT_ANALYZER", DefaultThreatAnalyzer),
		ThreatScoreThreshold:    int(getEnvInt64("THREAT_SCORE_THRESHOLD", DefaultThreatScoreThreshold)),
		CriticalThreatThreshold: int(getEnvInt64("CRITICAL_THREAT_THRESHOLD", DefaultCriticalThreatThreshold)),

		RootDetectionPolicy:     os.Getenv("POLICY_ROOT_DETECTION"),
		DebuggerDetectionPolicy: os.Getenv("POLICY_DEBUGGER_DETECTION"),
		AppTamperingPolicy:      os.Getenv("POLICY_APP_TAMPERING"),

		APIKeys: os.Getenv("API_KEYS"),

		MultiTenantEnabled: getEnvBool("MULTI_TENANT_ENABLED", false),
		TenantHeader:       getEnv("TENANT_HEADER", tenant.DefaultHeader),
		TenantPolicies:     os.Getenv("TENANT_POLICIES"),

		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.TelemetryBatchSize <= 0 {
		return fmt.Errorf("TELEMETRY_BATCH_SIZE must be positive")
	}
	if c.TelemetryBatchTimeout <= 0 {
		return fmt.Errorf("TELEMETRY_BATCH_TIMEOUT_MS must be positive")
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("TELEMETRY_REPORT_INTERVAL must be positive")
	}
	if c.AttestationTimeout <= 0 {
		return fmt.Errorf("ATTESTATION_TIMEOUT must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}

	switch c.AttestationProvider {
	case "structural", "claims":
	default:
		return fmt.Errorf("ATTESTATION_PROVIDER must be structural or claims, got %q", c.AttestationProvider)
	}
	switch c.ThreatAnalyzer {
	case "static", "signals":
	default:
		return fmt.Errorf("THREAT_ANALYZER must be static or signals, got %q", c.ThreatAnalyzer)
	}
	if c.ThreatScoreThreshold <= 0 || c.ThreatScoreThreshold > c.CriticalThreatThreshold || c.CriticalThreatThreshold > 100 {
		return fmt.Errorf("threat thresholds must satisfy 0 < THREAT_SCORE_THRESHOLD <= CRITICAL_THREAT_THRESHOLD <= 100")
	}

	if c.IsProduction() {
		if c.TelemetryEnabled && c.TelemetryAnonymize && c.TelemetrySalt == "" {
			return fmt.Errorf("TELEMETRY_SALT is required in production when anonymization is enabled")
		}
		if c.RegulatoryEndpoint != "" {
			if err := security.ValidateSubmissionEndpoint(context.Background(), c.RegulatoryEndpoint, true); err != nil {
				return fmt.Errorf("REGULATORY_ENDPOINT: %w", err)
			}
		}
	}

	if _, err := ParseTenantPolicies(c.TenantPolicies, policy.DefaultTable()); err != nil && !policy.IsConfigurationError(err) {
		return fmt.Errorf("TENANT_POLICIES: %w", err)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// tenantEntry is one tenant in TENANT_POLICIES. Policies maps check names
// to "ACTION:LEVEL" and overrides the default table per check; a tenant
// without policies inherits the default table.
type tenantEntry struct {
	Name     string            `json:"name"`
	Active   *bool             `json:"active"`
	Policies map[string]string `json:"policies"`
}

// ParseTenantPolicies parses TENANT_POLICIES, e.g.
//
//	{"bank-a": {"name": "Bank A", "policies": {"debugger_detection": "BLOCK:HIGH"}}}
//
// Tenants are active unless "active" is false. Unrecognized actions and
// levels fail closed; they are reported as *policy.ConfigurationError
// joined into the returned error while the result remains usable.
func ParseTenantPolicies(raw string, base *policy.Table) (map[string]policy.TenantConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var entries map[string]tenantEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var errs []error
	tenants := make(map[string]policy.TenantConfig, len(entries))
	for id, e := range entries {
		tc := policy.TenantConfig{ID: id, Name: e.Name, Active: e.Active == nil || *e.Active}
		if len(e.Policies) > 0 {
			table := base.Clone()
			for check, spec := range e.Policies {
				p, err := policy.ParseSpec(policy.Check(check), spec)
				if err != nil {
					errs = append(errs, err)
				}
				if err := table.Set(p); err != nil {
					errs = append(errs, err)
				}
			}
			tc.Policies = table
		}
		tenants[id] = tc
	}
	return tenants, errors.Join(errs...)
}

// PolicySnapshot builds the policy snapshot described by the configuration.
// Misconfigured policies fail closed and are reported in the returned
// error, which the caller should log; the snapshot is always usable.
func (c *Config) PolicySnapshot() (*policy.Snapshot, error) {
	table := policy.DefaultTable()
	var errs []error

	overrides := []struct {
		check policy.Check
		spec  string
	}{
		{policy.CheckRootDetection, c.RootDetectionPolicy},
		{policy.CheckDebuggerDetection, c.DebuggerDetectionPolicy},
		{policy.CheckAppTampering, c.AppTamperingPolicy},
	}
	for _, o := range overrides {
		if o.spec == "" {
			continue
		}
		p, err := policy.ParseSpec(o.check, o.spec)
		if err != nil {
			errs = append(errs, err)
		}
		_ = table.Set(p)
	}

	tenants, err := ParseTenantPolicies(c.TenantPolicies, table)
	if err != nil {
		errs = append(errs, err)
	}

	return &policy.Snapshot{
		MultiTenant: c.MultiTenantEnabled,
		Default:     table,
		Tenants:     tenants,
		UpdatedAt:   time.Now(),
	}, errors.Join(errs...)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
