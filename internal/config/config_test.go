package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbd888/trustgate/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func validConfig() Config {
	return Config{
		Env:                     "development",
		TelemetryBatchSize:      100,
		TelemetryBatchTimeout:   time.Minute,
		ReportInterval:          time.Hour,
		AttestationProvider:     "structural",
		AttestationTimeout:      time.Second,
		ThreatAnalyzer:          "signals",
		ThreatScoreThreshold:    70,
		CriticalThreatThreshold: 90,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "TELEMETRY_BATCH_TIMEOUT_MS", "1500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.TelemetryEnabled)
	assert.True(t, cfg.TelemetryAnonymize)
	assert.Equal(t, DefaultBatchSize, cfg.TelemetryBatchSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.TelemetryBatchTimeout)
	assert.Equal(t, DefaultReportInterval, cfg.ReportInterval)
	assert.Equal(t, DefaultAttestationTimeout, cfg.AttestationTimeout)
	assert.Equal(t, "X-Tenant-ID", cfg.TenantHeader)
	assert.Equal(t, DefaultAuthorityID, cfg.RegulatoryAuthorityID)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	setEnv(t, "TELEMETRY_BATCH_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEMETRY_BATCH_SIZE")
}

func TestReload_EnvFileOverridesEarlierValues(t *testing.T) {
	setEnv(t, "POLICY_DEBUGGER_DETECTION", "MONITOR:MEDIUM")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("POLICY_DEBUGGER_DETECTION=BLOCK:CRITICAL\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "MONITOR:MEDIUM", cfg.DebuggerDetectionPolicy)

	cfg, err = Reload()
	require.NoError(t, err)
	assert.Equal(t, "BLOCK:CRITICAL", cfg.DebuggerDetectionPolicy)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"zero batch timeout", func(c *Config) { c.TelemetryBatchTimeout = 0 }, "TELEMETRY_BATCH_TIMEOUT_MS"},
		{"unknown provider", func(c *Config) { c.AttestationProvider = "hsm" }, "ATTESTATION_PROVIDER"},
		{"unknown analyzer", func(c *Config) { c.ThreatAnalyzer = "ml" }, "THREAT_ANALYZER"},
		{"sample ratio above one", func(c *Config) { c.TraceSampleRatio = 1.5 }, "OTEL_TRACES_SAMPLER_ARG"},
		{"inverted thresholds", func(c *Config) { c.ThreatScoreThreshold = 95 }, "threat thresholds"},
		{"production without salt", func(c *Config) {
			c.Env = "production"
			c.TelemetryEnabled = true
			c.TelemetryAnonymize = true
		}, "TELEMETRY_SALT"},
		{"production loopback regulator", func(c *Config) {
			c.Env = "production"
			c.RegulatoryEndpoint = "http://127.0.0.1:9000"
		}, "REGULATORY_ENDPOINT"},
		{"bad tenant json", func(c *Config) { c.TenantPolicies = "{" }, "TENANT_POLICIES"},
		{"misconfigured tenant policy is tolerated", func(c *Config) {
			c.TenantPolicies = `{"bank-a":{"policies":{"root_detection":"REJECT:HIGH"}}}`
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_PolicySnapshot(t *testing.T) {
	cfg := validConfig()
	cfg.MultiTenantEnabled = true
	cfg.RootDetectionPolicy = "BLOCK:CRITICAL"
	cfg.TenantPolicies = `{
		"bank-a": {"name": "Bank A", "policies": {"debugger_detection": "BLOCK:HIGH"}},
		"bank-b": {"name": "Bank B"},
		"bank-c": {"active": false, "policies": {"app_tampering": "ALLOW:LOW"}}
	}`

	snap, err := cfg.PolicySnapshot()
	require.NoError(t, err)

	assert.True(t, snap.MultiTenant)
	assert.Equal(t, policy.LevelCritical, snap.Default.RootDetection.RiskLevel)
	assert.Equal(t, policy.ActionBlock, snap.Default.RootDetection.Action)

	a := snap.Tenants["bank-a"]
	require.NotNil(t, a.Policies)
	assert.True(t, a.Active)
	assert.Equal(t, policy.ActionBlock, a.Policies.DebuggerDetection.Action)
	assert.Equal(t, policy.LevelCritical, a.Policies.RootDetection.RiskLevel, "tenant tables start from the configured default")

	assert.Nil(t, snap.Tenants["bank-b"].Policies)
	assert.False(t, snap.Tenants["bank-c"].Active)
}

func TestConfig_PolicySnapshot_FailsClosed(t *testing.T) {
	cfg := validConfig()
	cfg.DebuggerDetectionPolicy = "WARN:MEDIUM"

	snap, err := cfg.PolicySnapshot()
	require.Error(t, err)
	assert.True(t, policy.IsConfigurationError(err))
	assert.Equal(t, policy.ActionBlock, snap.Default.DebuggerDetection.Action)
}

func TestParseTenantPolicies_Empty(t *testing.T) {
	tenants, err := ParseTenantPolicies("  ", policy.DefaultTable())
	assert.NoError(t, err)
	assert.Nil(t, tenants)
}

func TestParseTenantPolicies_UnknownCheck(t *testing.T) {
	_, err := ParseTenantPolicies(`{"bank-a":{"policies":{"face_match":"BLOCK:HIGH"}}}`, policy.DefaultTable())
	require.Error(t, err)
	assert.True(t, policy.IsConfigurationError(err))
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvHelpers(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")
	setEnv(t, "TEST_BOOL", "false")
	setEnv(t, "TEST_DURATION", "90s")
	setEnv(t, "TEST_LIST", " a, b ,,c ")
	setEnv(t, "TEST_FLOAT", "0.25")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getEnvFloat("TEST_INVALID", 1))
	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.True(t, getEnvBool("TEST_INVALID", true))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_INVALID", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("TEST_LIST"))
}
