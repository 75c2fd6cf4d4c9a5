package regulatory

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/trustgate/internal/circuitbreaker"
	"github.com/mbd888/trustgate/internal/health"
	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/telemetry"
)

// Request headers set on every submission.
const (
	HeaderAuthority = "X-Trustgate-Authority"
	HeaderKind      = "X-Trustgate-Kind"
	HeaderTimestamp = "X-Trustgate-Timestamp"
	HeaderSignature = "X-Trustgate-Signature"
)

const breakerKey = "regulatory"

// HTTPSink posts HMAC-signed JSON submissions to the regulator's API.
type HTTPSink struct {
	endpoint    string
	secret      string
	authorityID string
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	logger      *slog.Logger
}

// NewHTTPSink creates a sink posting to endpoint. Events go to
// {endpoint}/events and reports to {endpoint}/reports. An empty secret
// disables signing.
func NewHTTPSink(endpoint, secret, authorityID string, logger *slog.Logger) *HTTPSink {
	return &HTTPSink{
		endpoint:    strings.TrimRight(endpoint, "/"),
		secret:      secret,
		authorityID: authorityID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// SubmitEvent posts the regulatory report for e.
func (s *HTTPSink) SubmitEvent(ctx context.Context, e *telemetry.Event) error {
	return s.submit(ctx, "event", "/events", NewReport(e))
}

// SubmitReport posts a compliance report.
func (s *HTTPSink) SubmitReport(ctx context.Context, r *telemetry.ComplianceReport) error {
	return s.submit(ctx, "report", "/reports", r)
}

func (s *HTTPSink) submit(ctx context.Context, kind, path string, body any) error {
	err := s.breaker.Execute(breakerKey, func() error {
		return s.post(ctx, kind, path, body)
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RegulatorySubmissionsTotal.WithLabelValues(kind, result).Inc()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, kind, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderKind, kind)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if s.authorityID != "" {
		req.Header.Set(HeaderAuthority, s.authorityID)
	}
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// HealthCheck reports the sink as down while its circuit is open.
func (s *HTTPSink) HealthCheck(ctx context.Context) health.Status {
	state := s.breaker.State(breakerKey)
	return health.Status{
		Name:    "regulatory",
		Healthy: state != circuitbreaker.StateOpen,
		Detail:  "circuit " + state.String(),
	}
}

// LogSink logs submissions instead of sending them. It is used when no
// regulatory endpoint is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that only logs.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SubmitEvent(ctx context.Context, e *telemetry.Event) error {
	r := NewReport(e)
	metrics.RegulatorySubmissionsTotal.WithLabelValues("event", "logged").Inc()
	s.logger.Info("regulatory event",
		"eventId", r.EventID,
		"eventType", r.EventType,
		"riskLevel", r.RiskLevel,
		"timestamp", r.Timestamp,
		"complianceRequired", r.ComplianceRequired,
	)
	return nil
}

func (s *LogSink) SubmitReport(ctx context.Context, r *telemetry.ComplianceReport) error {
	metrics.RegulatorySubmissionsTotal.WithLabelValues("report", "logged").Inc()
	s.logger.Info("compliance report",
		"reportId", r.ID,
		"totalEvents", r.TotalEvents,
		"periodStart", r.PeriodStart,
		"periodEnd", r.PeriodEnd,
	)
	return nil
}
