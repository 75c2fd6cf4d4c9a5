// Package regulatory forwards anonymized security events and compliance
// reports to the regulatory authority.
//
// Event escalation is fire-and-forget: the Escalator queues events on a
// bounded channel and a single worker submits them. Failures are logged
// and counted, never retried inline.
package regulatory

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/telemetry"
)

var (
	// ErrSinkUnavailable is returned when the regulatory endpoint cannot be
	// reached or rejects a submission.
	ErrSinkUnavailable = errors.New("regulatory: sink unavailable")
)

// Sink receives escalated events and periodic compliance reports.
type Sink interface {
	SubmitEvent(ctx context.Context, e *telemetry.Event) error
	SubmitReport(ctx context.Context, r *telemetry.ComplianceReport) error
}

// Report is the wire format of one escalated event.
type Report struct {
	EventID            string           `json:"eventId"`
	EventType          string           `json:"eventType"`
	Timestamp          time.Time        `json:"timestamp"`
	RiskLevel          policy.RiskLevel `json:"riskLevel"`
	TenantID           string           `json:"tenantId,omitempty"`
	AnonymizedData     map[string]any   `json:"anonymizedData"`
	ComplianceRequired bool             `json:"complianceRequired"`
}

// NewReport builds the regulatory report for e. Events reach sinks through
// the Escalator, which anonymizes them; the timestamp is truncated here as
// well for events submitted directly.
func NewReport(e *telemetry.Event) *Report {
	data := e.Payload
	if data == nil {
		data = map[string]any{}
	}
	return &Report{
		EventID:            e.ID,
		EventType:          string(e.Type),
		Timestamp:          telemetry.TruncateToHour(e.Timestamp),
		RiskLevel:          e.RiskLevel,
		TenantID:           e.TenantID,
		AnonymizedData:     data,
		ComplianceRequired: e.RequiresCompliance(),
	}
}
