package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/trustgate/internal/attestation"
	"github.com/mbd888/trustgate/internal/idgen"
	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/telemetry"
	"github.com/mbd888/trustgate/internal/tenant"
)

// Recorder receives telemetry events produced by the engine.
type Recorder interface {
	Record(e *telemetry.Event) bool
}

// Engine evaluates evidence against a policy table.
type Engine struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
	salt     string
}

// NewEngine creates a risk engine backed by the given audit store. store
// may be nil.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:  store,
		logger: slog.Default(),
	}
}

// WithRecorder sets the telemetry recorder for policy violations.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// WithLogger overrides the default logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithSalt sets the salt used for device fingerprints.
func (e *Engine) WithSalt(salt string) *Engine {
	e.salt = salt
	return e
}

// AssessRisk evaluates every check and returns the aggregate assessment.
// A nil table uses the default policies.
func (e *Engine) AssessRisk(ctx context.Context, ev *attestation.Evidence, res *attestation.Result, table *policy.Table) *Assessment {
	if table == nil {
		table = policy.DefaultTable()
	}
	if ev == nil {
		ev = &attestation.Evidence{}
	}

	var violations []Violation
	for _, check := range assessedChecks {
		eval := e.evaluate(check, ev, res, table)
		if eval.Violated {
			violations = append(violations, Violation{Check: eval.Check, Action: eval.Action, RiskLevel: eval.RiskLevel})
		}
	}

	level := policy.LevelLow
	for _, v := range violations {
		level = policy.MaxLevel(level, v.RiskLevel)
		metrics.PolicyViolationsTotal.WithLabelValues(string(v.Check)).Inc()
	}

	a := &Assessment{
		ID:                idgen.WithPrefix("risk_"),
		TenantID:          tenant.FromContext(ctx),
		DeviceFingerprint: ev.Fingerprint(e.salt),
		Level:             level,
		Action:            DetermineAction(level),
		Violations:        violations,
		EvaluatedAt:       time.Now().UTC(),
	}
	if a.Violations == nil {
		a.Violations = []Violation{}
	}

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		stored := a.clone()
		go func() {
			if err := e.store.Record(context.WithoutCancel(ctx), stored); err != nil {
				e.logger.Warn("failed to record risk assessment", "assessmentId", stored.ID, "error", err)
			}
		}()
	}

	if len(violations) > 0 && e.recorder != nil {
		e.recorder.Record(violationEvent(a))
	}
	return a
}

// assessedChecks are the checks that contribute to AssessRisk, in order.
var assessedChecks = []policy.Check{
	policy.CheckRootDetection,
	policy.CheckDebuggerDetection,
	policy.CheckAppTampering,
	policy.CheckIntegrityMismatch,
	policy.CheckSIMAbsence,
}

// EvaluatePolicy evaluates a single named check. Unknown checks are
// reported as not violated.
func (e *Engine) EvaluatePolicy(check policy.Check, ev *attestation.Evidence, res *attestation.Result, table *policy.Table) Evaluation {
	if table == nil {
		table = policy.DefaultTable()
	}
	if ev == nil {
		ev = &attestation.Evidence{}
	}
	return e.evaluate(check, ev, res, table)
}

func (e *Engine) evaluate(check policy.Check, ev *attestation.Evidence, res *attestation.Result, table *policy.Table) Evaluation {
	switch check {
	case policy.CheckRootDetection:
		return e.configured(table, check, ev.Device.Rooted, "device is rooted")
	case policy.CheckDebuggerDetection:
		return e.configured(table, check, ev.Device.DebuggerAttached, "debugger attached")
	case policy.CheckAppTampering:
		return e.configured(table, check, ev.Device.Tampered, "application tampered")
	case policy.CheckIntegrityMismatch:
		if res == nil || res.Verdict == nil || !res.Verdict.MeetsIntegrity() {
			return fixed(check, policy.IntegrityMismatchLevel, "attestation integrity not met")
		}
		return pass(check, "attestation integrity met")
	case policy.CheckSIMAbsence:
		if !ev.Binding.SIMPresent {
			return fixed(check, policy.SIMAbsenceLevel, "no SIM present")
		}
		return pass(check, "SIM present")
	case policy.CheckMalwareDetection, policy.CheckFraudDetection, policy.CheckUnusualBehavior:
		return pass(check, "no signal available")
	default:
		return pass(check, "unknown policy type")
	}
}

// configured evaluates a table-driven check. A triggered policy whose
// action or level is not recognized fails closed to BLOCK/CRITICAL.
func (e *Engine) configured(table *policy.Table, check policy.Check, triggered bool, reason string) Evaluation {
	p, _ := table.Lookup(check)
	if !triggered {
		return pass(check, "not detected")
	}
	if !p.Enabled {
		return pass(check, "policy disabled")
	}

	eval := Evaluation{Check: check, Violated: true, Action: p.Action, RiskLevel: p.RiskLevel, Reason: reason}
	if !p.Action.Valid() {
		e.logger.Error("policy misconfigured, failing closed",
			"error", &policy.ConfigurationError{Check: string(check), Field: "action", Value: string(p.Action)})
		eval.Action = policy.ActionBlock
		eval.RiskLevel = policy.LevelCritical
	}
	if !p.RiskLevel.Valid() {
		e.logger.Error("policy misconfigured, failing closed",
			"error", &policy.ConfigurationError{Check: string(check), Field: "riskLevel", Value: string(p.RiskLevel)})
		eval.Action = policy.ActionBlock
		eval.RiskLevel = policy.LevelCritical
	}
	return eval
}

func fixed(check policy.Check, level policy.RiskLevel, reason string) Evaluation {
	return Evaluation{Check: check, Violated: true, Action: DetermineAction(level), RiskLevel: level, Reason: reason}
}

func pass(check policy.Check, reason string) Evaluation {
	return Evaluation{Check: check, Violated: false, Action: policy.ActionAllow, RiskLevel: policy.LevelLow, Reason: reason}
}

func violationEvent(a *Assessment) *telemetry.Event {
	checks := make([]string, len(a.Violations))
	actions := make([]string, len(a.Violations))
	for i, v := range a.Violations {
		checks[i] = string(v.Check)
		actions[i] = string(v.Action)
	}
	ev := telemetry.NewEvent(telemetry.EventPolicyViolation, a.DeviceFingerprint, a.Level, map[string]any{
		"violationType":  checks,
		"actionTaken":    string(a.Action),
		"policyActions":  actions,
		"violationCount": len(a.Violations),
	})
	ev.TenantID = a.TenantID
	return ev
}

func (a *Assessment) clone() *Assessment {
	cp := *a
	cp.Violations = append([]Violation(nil), a.Violations...)
	return &cp
}
