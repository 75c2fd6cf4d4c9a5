// Package idgen generates identifiers for verifications, submissions and
// telemetry events.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Prefixes used across the service.
const (
	PrefixVerification = "verify_"
	PrefixSubmission   = "submit_"
	PrefixEvent        = "evt_"
	PrefixReport       = "rpt_"
)

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by a random UUID without dashes
// (e.g. "verify_3f1c...").
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
