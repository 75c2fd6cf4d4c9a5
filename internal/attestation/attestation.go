// Package attestation validates device attestation evidence.
//
// The Verifier checks the token's structure and delegates the integrity
// verdict to a pluggable Provider. It never returns an error or panics:
// every outcome, including provider failures and timeouts, is reported as
// a Result with a Status and a risk hint.
package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/telemetry"
)

// Evidence is the device and attestation data submitted by a client.
// Components treat it as read-only.
type Evidence struct {
	AppVersion string      `json:"appVersion"`
	SDKVersion string      `json:"sdkVersion"`
	Timestamp  int64       `json:"timestamp"` // epoch millis
	Device     DeviceInfo  `json:"deviceInfo"`
	Binding    BindingInfo `json:"bindingInfo"`
	Token      string      `json:"attestationToken"`
	Nonce      string      `json:"nonce,omitempty"`
}

// DeviceInfo carries the client's self-reported device signals.
type DeviceInfo struct {
	OSVersion        string `json:"osVersion"`
	Model            string `json:"deviceModel"`
	Rooted           bool   `json:"isRooted"`
	DebuggerAttached bool   `json:"isDebuggerAttached"`
	Tampered         bool   `json:"isAppTampered"`
}

// BindingInfo carries SIM and device-binding signals.
type BindingInfo struct {
	SIMPresent      bool   `json:"simPresent"`
	NetworkOperator string `json:"networkOperator"`
	BindingToken    string `json:"deviceBindingToken"`
}

// HighRiskDevice reports whether the device is rooted, tampered or has a
// debugger attached.
func (e *Evidence) HighRiskDevice() bool {
	return e.Device.Rooted || e.Device.Tampered || e.Device.DebuggerAttached
}

// Fingerprint returns a salted SHA-256 digest identifying the device and
// its binding. The raw fields cannot be recovered from it. An empty salt
// falls back to telemetry.DefaultSalt.
func (e *Evidence) Fingerprint(salt string) string {
	if salt == "" {
		salt = telemetry.DefaultSalt
	}
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		e.Device.Model,
		e.Device.OSVersion,
		e.Binding.NetworkOperator,
		e.Binding.BindingToken,
	}, "|")))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}

// Verdict values reported by providers.
const (
	VerdictMeetsDeviceIntegrity = "MEETS_DEVICE_INTEGRITY"
	VerdictMeetsBasicIntegrity  = "MEETS_BASIC_INTEGRITY"
	VerdictMeetsStrongIntegrity = "MEETS_STRONG_INTEGRITY"
	VerdictPlayRecognized       = "PLAY_RECOGNIZED"
	VerdictUnrecognizedPackage  = "UNRECOGNIZED_PACKAGE"
	VerdictUnevaluated          = "UNEVALUATED"
)

// Verdict is the integrity verdict for one token.
type Verdict struct {
	MeetsDeviceIntegrity bool   `json:"meetsDeviceIntegrity"`
	MeetsBasicIntegrity  bool   `json:"meetsBasicIntegrity"`
	AppIntegrity         string `json:"appIntegrityVerdict"`
	DeviceRecognition    string `json:"deviceRecognitionVerdict"`
	EnvironmentDetails   string `json:"environmentDetails"`
}

// MeetsIntegrity reports whether both device and basic integrity are met.
func (v *Verdict) MeetsIntegrity() bool {
	return v != nil && v.MeetsDeviceIntegrity && v.MeetsBasicIntegrity
}

// Status is the outcome of a verification.
type Status string

const (
	StatusSuccess           Status = "SUCCESS"
	StatusFailed            Status = "FAILED"
	StatusInvalidToken      Status = "INVALID_TOKEN"
	StatusVerificationError Status = "VERIFICATION_ERROR"
)

// Result is returned by Verify for every input.
type Result struct {
	Status     Status           `json:"status"`
	Message    string           `json:"message"`
	Verdict    *Verdict         `json:"verdict,omitempty"`
	RiskHint   policy.RiskLevel `json:"riskLevelHint"`
	VerifiedAt time.Time        `json:"verifiedAt"`
}

// Succeeded reports whether the token was verified by the provider.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// MeetsIntegrity reports whether verification succeeded and the verdict
// meets device and basic integrity.
func (r *Result) MeetsIntegrity() bool {
	return r.Succeeded() && r.Verdict.MeetsIntegrity()
}

func invalidToken(msg string, now time.Time) *Result {
	return &Result{Status: StatusInvalidToken, Message: msg, RiskHint: policy.LevelHigh, VerifiedAt: now}
}

func failed(msg string, now time.Time) *Result {
	return &Result{Status: StatusFailed, Message: msg, RiskHint: policy.LevelCritical, VerifiedAt: now}
}

// successHint grades a successful verification by the signals it carries.
func successHint(ev *Evidence, v *Verdict) policy.RiskLevel {
	switch {
	case ev.HighRiskDevice() || !v.MeetsIntegrity():
		return policy.LevelHigh
	case !ev.Binding.SIMPresent || v.AppIntegrity == VerdictUnevaluated:
		return policy.LevelMedium
	default:
		return policy.LevelLow
	}
}
