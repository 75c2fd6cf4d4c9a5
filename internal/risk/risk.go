// Package risk aggregates device and attestation signals into a risk level
// using the configured policy table.
//
// Each check is evaluated independently. The overall level is the maximum
// level among triggered checks, never a sum, and LOW when nothing
// triggers. The action follows from the level alone.
package risk

import (
	"context"
	"time"

	"github.com/mbd888/trustgate/internal/policy"
)

// Violation is one triggered check.
type Violation struct {
	Check     policy.Check     `json:"checkName"`
	Action    policy.Action    `json:"action"`
	RiskLevel policy.RiskLevel `json:"riskLevel"`
}

// Assessment is the result of evaluating all checks for one request.
type Assessment struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenantId,omitempty"`
	DeviceFingerprint string           `json:"deviceFingerprint"`
	Level             policy.RiskLevel `json:"riskLevel"`
	Action            policy.Action    `json:"action"`
	Violations        []Violation      `json:"violations"`
	EvaluatedAt       time.Time        `json:"evaluatedAt"`
}

// Evaluation is the outcome of a single named check.
type Evaluation struct {
	Check     policy.Check     `json:"checkName"`
	Violated  bool             `json:"violated"`
	Action    policy.Action    `json:"action"`
	RiskLevel policy.RiskLevel `json:"riskLevel"`
	Reason    string           `json:"reason"`
}

// Store persists assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListByDevice(ctx context.Context, fingerprint string, limit int) ([]*Assessment, error)
}

// DetermineAction maps a risk level to an action. The mapping is
// monotonic; an unrecognized level yields BLOCK.
func DetermineAction(level policy.RiskLevel) policy.Action {
	switch level {
	case policy.LevelLow:
		return policy.ActionAllow
	case policy.LevelMedium:
		return policy.ActionMonitor
	case policy.LevelHigh:
		return policy.ActionRequireAuth
	case policy.LevelCritical:
		return policy.ActionBlock
	default:
		return policy.ActionBlock
	}
}
