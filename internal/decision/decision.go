// Package decision coordinates attestation, risk policy and threat
// analysis into a single verification decision for a transaction.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/trustgate/internal/attestation"
	"github.com/mbd888/trustgate/internal/idgen"
	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/risk"
	"github.com/mbd888/trustgate/internal/telemetry"
	"github.com/mbd888/trustgate/internal/tenant"
	"github.com/mbd888/trustgate/internal/threat"
	"github.com/mbd888/trustgate/internal/traces"
)

// FailureMessage is the only error text exposed for unexpected failures.
const FailureMessage = "verification failed"

// AuditInterval is the time between compliance audits.
const AuditInterval = 90 * 24 * time.Hour

// ComplianceStatus summarizes the decision for the regulatory authority.
type ComplianceStatus struct {
	Compliant             bool      `json:"compliant"`
	RegulatoryAuthorityID string    `json:"regulatoryAuthorityId"`
	LastAudit             time.Time `json:"lastAudit"`
	NextAudit             time.Time `json:"nextAudit"`
}

// Decision is the outcome of one verification request.
type Decision struct {
	ID            string              `json:"verificationId"`
	DecidedAt     time.Time           `json:"timestamp"`
	Attestation   *attestation.Result `json:"attestationResult"`
	RiskLevel     policy.RiskLevel    `json:"riskLevel"`
	Action        policy.Action       `json:"recommendedAction"`
	Threat        *threat.Result      `json:"threatAnalysis"`
	Compliance    ComplianceStatus    `json:"complianceStatus"`
	SecurityScore int                 `json:"securityScore"`
	Success       bool                `json:"success"`
	Error         string              `json:"errorMessage,omitempty"`
	Violations    []risk.Violation    `json:"violations"`
	TenantID      string              `json:"tenantId,omitempty"`
	DeviceTrusted bool                `json:"deviceTrusted"`
}

// Verifier validates attestation evidence.
type Verifier interface {
	Verify(ctx context.Context, ev *attestation.Evidence) *attestation.Result
}

// Assessor aggregates policy violations into a risk assessment.
type Assessor interface {
	AssessRisk(ctx context.Context, ev *attestation.Evidence, res *attestation.Result, table *policy.Table) *risk.Assessment
}

// Recorder receives telemetry events. Record must not block.
type Recorder interface {
	Record(e *telemetry.Event) bool
}

// SecurityScore computes the 0-100 score for a decision: 100, minus 30
// when attestation did not succeed, minus a penalty for the threat level.
func SecurityScore(res *attestation.Result, th *threat.Result) int {
	score := 100
	if !res.Succeeded() {
		score -= 30
	}
	if th != nil {
		score -= threatPenalty(th.Level)
	}
	return max(0, min(100, score))
}

func threatPenalty(level policy.RiskLevel) int {
	switch level {
	case policy.LevelCritical:
		return 50
	case policy.LevelHigh:
		return 30
	case policy.LevelMedium:
		return 15
	case policy.LevelLow:
		return 5
	default:
		return 0
	}
}

// Coordinator runs the verification sequence.
type Coordinator struct {
	verifier    Verifier
	assessor    Assessor
	analyzer    threat.Analyzer
	policies    *policy.Store
	recorder    Recorder
	authorityID string
	salt        string
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder records decision telemetry to r.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithAuthorityID sets the regulatory authority reported in compliance status.
func WithAuthorityID(id string) Option {
	return func(c *Coordinator) { c.authorityID = id }
}

// WithSalt sets the salt used for device fingerprints.
func WithSalt(salt string) Option {
	return func(c *Coordinator) { c.salt = salt }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator. A nil analyzer uses
// threat.StaticAnalyzer and a nil policy store uses the default table.
func NewCoordinator(v Verifier, a Assessor, analyzer threat.Analyzer, policies *policy.Store, opts ...Option) *Coordinator {
	if analyzer == nil {
		analyzer = threat.StaticAnalyzer{}
	}
	c := &Coordinator{
		verifier: v,
		assessor: a,
		analyzer: analyzer,
		policies: policies,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decide verifies ev and returns the decision. It never returns nil and
// never panics: an unexpected failure yields a CRITICAL/BLOCK decision
// with score 0.
func (c *Coordinator) Decide(ctx context.Context, ev *attestation.Evidence) (d *Decision) {
	start := time.Now()
	id := idgen.WithPrefix(idgen.PrefixVerification)
	tenantID := tenant.FromContext(ctx)

	ctx, span := traces.StartSpan(ctx, "decision.Decide", traces.VerificationID(id), traces.TenantID(tenantID))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			c.logger.Error("panic in decision coordinator", "verificationId", id, "panic", fmt.Sprint(r))
			traces.RecordError(span, err)
			metrics.DecisionFailuresTotal.Inc()
			d = c.failure(id, tenantID)
		}
		span.SetAttributes(traces.RiskLevel(string(d.RiskLevel)), traces.Action(string(d.Action)))
		metrics.DecisionsTotal.WithLabelValues(string(d.RiskLevel), string(d.Action)).Inc()
		metrics.DecisionDuration.Observe(time.Since(start).Seconds())
		metrics.SecurityScores.Observe(float64(d.SecurityScore))
	}()

	if ev == nil {
		ev = &attestation.Evidence{}
	}

	res := c.verifier.Verify(ctx, ev)
	table := policy.Resolve(tenantID, c.policies)
	assessment := c.assessor.AssessRisk(ctx, ev, res, table)
	level := assessment.Level
	action := risk.DetermineAction(level)
	th := c.analyzer.Analyze(ctx, ev, res)
	if th == nil {
		th = threat.StaticAnalyzer{}.Analyze(ctx, ev, res)
	}

	now := c.now().UTC()
	d = &Decision{
		ID:            id,
		DecidedAt:     now,
		Attestation:   res,
		RiskLevel:     level,
		Action:        action,
		Threat:        th,
		Compliance:    c.compliance(assessment.Violations, now),
		SecurityScore: SecurityScore(res, th),
		Success:       true,
		Violations:    assessment.Violations,
		TenantID:      tenantID,
		DeviceTrusted: (action == policy.ActionAllow || action == policy.ActionMonitor) && res.MeetsIntegrity(),
	}

	c.recordTelemetry(ev, d)

	c.logger.Debug("verification decided",
		"verificationId", id,
		"tenantId", tenantID,
		"riskLevel", level,
		"action", action,
		"securityScore", d.SecurityScore,
		"attestationStatus", res.Status,
	)
	return d
}

func (c *Coordinator) failure(id, tenantID string) *Decision {
	now := c.now().UTC()
	return &Decision{
		ID:            id,
		DecidedAt:     now,
		RiskLevel:     policy.LevelCritical,
		Action:        policy.ActionBlock,
		SecurityScore: 0,
		Success:       false,
		Error:         FailureMessage,
		Violations:    []risk.Violation{},
		TenantID:      tenantID,
		Compliance: ComplianceStatus{
			RegulatoryAuthorityID: c.authorityID,
			LastAudit:             now,
			NextAudit:             now.Add(AuditInterval),
		},
	}
}

// compliance reports the decision as compliant when no HIGH or CRITICAL
// policy was violated.
func (c *Coordinator) compliance(violations []risk.Violation, now time.Time) ComplianceStatus {
	compliant := true
	for _, v := range violations {
		if v.RiskLevel.AtLeast(policy.LevelHigh) {
			compliant = false
			break
		}
	}
	return ComplianceStatus{
		Compliant:             compliant,
		RegulatoryAuthorityID: c.authorityID,
		LastAudit:             now,
		NextAudit:             now.Add(AuditInterval),
	}
}

// recordTelemetry enqueues the decision's events. Recording is not tied to
// the request context, so a disconnected caller does not cancel it.
func (c *Coordinator) recordTelemetry(ev *attestation.Evidence, d *Decision) {
	if c.recorder == nil {
		return
	}
	fp := ev.Fingerprint(c.salt)

	events := []*telemetry.Event{
		telemetry.NewEvent(telemetry.EventAttestationVerification, fp, d.RiskLevel, map[string]any{
			"successful":      d.Attestation.Succeeded(),
			"status":          string(d.Attestation.Status),
			"attestationType": "play_integrity",
		}),
		telemetry.NewEvent(telemetry.EventRiskAssessment, fp, d.RiskLevel, map[string]any{
			"actionTaken":    string(d.Action),
			"securityScore":  d.SecurityScore,
			"threatLevel":    string(d.Threat.Level),
			"violationCount": len(d.Violations),
		}),
	}
	if !ev.Binding.SIMPresent {
		events = append(events, telemetry.NewEvent(telemetry.EventDeviceBindingFailure, fp, policy.SIMAbsenceLevel, map[string]any{
			"simPresent":      false,
			"networkOperator": ev.Binding.NetworkOperator,
		}))
	}
	if d.Action == policy.ActionBlock {
		events = append(events, telemetry.NewEvent(telemetry.EventTransactionBlocked, fp, d.RiskLevel, map[string]any{
			"actionTaken":    string(d.Action),
			"securityScore":  d.SecurityScore,
			"violationCount": len(d.Violations),
		}))
	}

	for _, e := range events {
		e.TenantID = d.TenantID
		c.recorder.Record(e)
	}
}
