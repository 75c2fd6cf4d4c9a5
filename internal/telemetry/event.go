// Package telemetry records, anonymizes, batches and escalates security
// events, and aggregates them into periodic compliance reports.
//
// Record never blocks on I/O: events are queued in memory and persisted by
// a flush worker. A failed flush puts the batch back at the head of the
// queue, so delivery is at-least-once for the lifetime of the process.
package telemetry

import (
	"maps"
	"time"

	"github.com/mbd888/trustgate/internal/idgen"
	"github.com/mbd888/trustgate/internal/policy"
)

// EventType classifies a telemetry event.
type EventType string

const (
	EventSecurityCheck           EventType = "SECURITY_CHECK"
	EventAttestationVerification EventType = "ATTESTATION_VERIFICATION"
	EventPolicyViolation         EventType = "POLICY_VIOLATION"
	EventRiskAssessment          EventType = "RISK_ASSESSMENT"
	EventTransactionBlocked      EventType = "TRANSACTION_BLOCKED"
	EventDeviceBindingFailure    EventType = "DEVICE_BINDING_FAILURE"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventSecurityCheck,
	EventAttestationVerification,
	EventPolicyViolation,
	EventRiskAssessment,
	EventTransactionBlocked,
	EventDeviceBindingFailure,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a single security-relevant observation.
type Event struct {
	Type              EventType        `json:"eventType"`
	ID                string           `json:"eventId"`
	Timestamp         time.Time        `json:"timestamp"`
	DeviceFingerprint string           `json:"deviceFingerprint"`
	RiskLevel         policy.RiskLevel `json:"riskLevel"`
	TenantID          string           `json:"tenantId,omitempty"`
	Payload           map[string]any   `json:"payload,omitempty"`
	Anonymized        bool             `json:"anonymized"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(t EventType, fingerprint string, level policy.RiskLevel, payload map[string]any) *Event {
	return &Event{
		Type:              t,
		ID:                idgen.WithPrefix(idgen.PrefixEvent),
		Timestamp:         time.Now().UTC(),
		DeviceFingerprint: fingerprint,
		RiskLevel:         level,
		Payload:           payload,
	}
}

// RequiresCompliance reports whether the event must be forwarded to the
// regulator: HIGH or CRITICAL risk, a policy violation, or a blocked
// transaction.
func (e *Event) RequiresCompliance() bool {
	switch e.Type {
	case EventPolicyViolation, EventTransactionBlocked:
		return true
	}
	return e.RiskLevel.AtLeast(policy.LevelHigh)
}

// Clone returns a copy of e with its own payload map. Nested payload
// values are shared.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Payload = maps.Clone(e.Payload)
	return &cp
}
