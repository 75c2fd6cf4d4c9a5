// TrustGate - device attestation and transaction risk decisions
package main

import (
	"context"
	"os"

	"github.com/mbd888/trustgate/internal/config"
	"github.com/mbd888/trustgate/internal/logging"
	"github.com/mbd888/trustgate/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured level and format are known
	logger := logging.New("info", "text")

	logger.Info("starting trustgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"attestation_provider", cfg.AttestationProvider,
		"threat_analyzer", cfg.ThreatAnalyzer,
		"telemetry_enabled", cfg.TelemetryEnabled,
		"multi_tenant", cfg.MultiTenantEnabled,
		"persistent", cfg.DatabaseURL != "",
	)

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithVersion(Version),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
