package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/mbd888/trustgate/internal/policy"
	"github.com/stretchr/testify/assert"
)

func TestHashDeviceID(t *testing.T) {
	a := HashDeviceID("device-123", "salt-a")

	assert.Len(t, a, 64)
	assert.Equal(t, a, HashDeviceID("device-123", "salt-a"), "hash must be deterministic")
	assert.NotEqual(t, a, HashDeviceID("device-123", "salt-b"), "salt must change the hash")
	assert.NotEqual(t, a, HashDeviceID("device-124", "salt-a"))
	assert.Equal(t, "unknown", HashDeviceID("", "salt-a"))
}

func TestHashDeviceID_EmptySaltUsesDefault(t *testing.T) {
	unsalted := sha256.Sum256([]byte("device-123"))
	got := HashDeviceID("device-123", "")

	assert.NotEqual(t, hex.EncodeToString(unsalted[:]), got)
	assert.Equal(t, HashDeviceID("device-123", DefaultSalt), got)
}

func TestTruncateToHour(t *testing.T) {
	in := time.Date(2026, 7, 1, 9, 59, 59, 999, time.UTC)
	assert.Equal(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), TruncateToHour(in))
}

func TestIsSensitiveKey(t *testing.T) {
	for _, k := range []string{"deviceId", "DEVICE_MODEL", "userId", "bindingToken", "IMEI", "serialNumber", "id"} {
		assert.True(t, IsSensitiveKey(k), k)
	}
	for _, k := range []string{"successful", "riskLevel", "actionTaken", "count"} {
		assert.False(t, IsSensitiveKey(k), k)
	}
}

func TestAnonymize(t *testing.T) {
	a := NewAnonymizer("s")
	e := NewEvent(EventPolicyViolation, "fp", policy.LevelHigh, map[string]any{
		"imei":          "356938035643809",
		"serialNumber":  42,
		"tokenClaims":   map[string]any{"sub": "x"},
		"violationType": "root_detection",
	})

	out := a.Anonymize(e)

	assert.NotSame(t, e, out)
	assert.True(t, out.Anonymized)
	assert.Equal(t, e.ID, out.ID)
	assert.Equal(t, HashDeviceID("fp", "s"), out.DeviceFingerprint)
	assert.Equal(t, HashDeviceID("356938035643809", "s"), out.Payload["imei"])
	assert.Equal(t, RedactedValue, out.Payload["serialNumber"])
	assert.Equal(t, RedactedValue, out.Payload["tokenClaims"])
	assert.Equal(t, "root_detection", out.Payload["violationType"])
	assert.Equal(t, 42, e.Payload["serialNumber"])
}

func TestAnonymize_Idempotent(t *testing.T) {
	a := NewAnonymizer("s")
	once := a.Anonymize(NewEvent(EventSecurityCheck, "fp", policy.LevelLow, nil))
	twice := a.Anonymize(once)

	assert.Same(t, once, twice)
	assert.Equal(t, HashDeviceID("fp", "s"), twice.DeviceFingerprint)
}

func TestRequiresCompliance(t *testing.T) {
	tests := []struct {
		typ   EventType
		level policy.RiskLevel
		want  bool
	}{
		{EventSecurityCheck, policy.LevelLow, false},
		{EventSecurityCheck, policy.LevelMedium, false},
		{EventSecurityCheck, policy.LevelHigh, true},
		{EventRiskAssessment, policy.LevelCritical, true},
		{EventPolicyViolation, policy.LevelLow, true},
		{EventTransactionBlocked, policy.LevelLow, true},
		{EventDeviceBindingFailure, policy.LevelMedium, false},
	}
	for _, tt := range tests {
		e := &Event{Type: tt.typ, RiskLevel: tt.level}
		assert.Equal(t, tt.want, e.RequiresCompliance(), "%s/%s", tt.typ, tt.level)
	}
}

func TestEventType_Valid(t *testing.T) {
	assert.True(t, EventTransactionBlocked.Valid())
	assert.False(t, EventType("LOGIN").Valid())
}
