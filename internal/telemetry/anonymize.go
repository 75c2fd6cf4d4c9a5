package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RedactedValue replaces non-string values under sensitive payload keys.
const RedactedValue = "***"

// DefaultSalt stands in when no salt is configured.
const DefaultSalt = "trustgate-default-salt"

// sensitiveKeyParts mark payload keys whose values identify a device or user.
var sensitiveKeyParts = []string{"device", "id", "token", "imei", "serial"}

// HashDeviceID returns hex(SHA-256(id || salt)), with DefaultSalt standing
// in for an empty salt. An empty id hashes to "unknown" so that missing
// identifiers do not share a real digest.
func HashDeviceID(id, salt string) string {
	if id == "" {
		return "unknown"
	}
	if salt == "" {
		salt = DefaultSalt
	}
	sum := sha256.Sum256([]byte(id + salt))
	return hex.EncodeToString(sum[:])
}

// TruncateToHour returns t rounded down to the start of its hour (UTC).
func TruncateToHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// IsSensitiveKey reports whether a payload key must be masked.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// Anonymizer removes identifying data from events.
type Anonymizer struct {
	salt string
}

// NewAnonymizer creates an anonymizer using salt for all digests.
func NewAnonymizer(salt string) *Anonymizer {
	return &Anonymizer{salt: salt}
}

// Anonymize returns an anonymized copy of e: the fingerprint is hashed,
// the timestamp is truncated to the hour, and sensitive payload values are
// hashed (strings) or redacted (anything else). An already anonymized
// event is returned unchanged.
func (a *Anonymizer) Anonymize(e *Event) *Event {
	if e.Anonymized {
		return e
	}
	out := e.Clone()
	out.DeviceFingerprint = HashDeviceID(e.DeviceFingerprint, a.salt)
	out.Timestamp = TruncateToHour(e.Timestamp)
	for k, v := range out.Payload {
		if !IsSensitiveKey(k) {
			continue
		}
		if s, ok := v.(string); ok {
			out.Payload[k] = HashDeviceID(s, a.salt)
		} else {
			out.Payload[k] = RedactedValue
		}
	}
	out.Anonymized = true
	return out
}
