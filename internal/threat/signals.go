package threat

import (
	"context"

	"github.com/mbd888/trustgate/internal/attestation"
	"github.com/mbd888/trustgate/internal/policy"
)

// Default score thresholds for SignalAnalyzer.
const (
	DefaultHighThreshold     = 70
	DefaultCriticalThreshold = 90
	mediumThreshold          = 40
	baseScore                = 10
)

// signal weights, added to baseScore and capped at 100.
var weights = map[string]int{
	ThreatRootedDevice:           60,
	ThreatAppTampered:            60,
	ThreatAttestationUnavailable: 40,
	ThreatDebuggerAttached:       30,
	ThreatIntegrityFailure:       30,
	ThreatSIMAbsent:              15,
}

var recommendations = map[string]string{
	ThreatRootedDevice:           "Require the user to transact from a non-rooted device.",
	ThreatAppTampered:            "Reinstall the application from the official store.",
	ThreatAttestationUnavailable: "Retry attestation before allowing sensitive operations.",
	ThreatDebuggerAttached:       "Detach debugging tools and restart the application.",
	ThreatIntegrityFailure:       "Treat the device as untrusted until integrity is restored.",
	ThreatSIMAbsent:              "Re-bind the device with an active SIM.",
}

// SignalAnalyzer derives threats from the device flags and the
// attestation outcome and scores them additively.
type SignalAnalyzer struct {
	HighThreshold     int
	CriticalThreshold int
}

// NewSignalAnalyzer creates an analyzer with the given thresholds; zero
// values fall back to the defaults.
func NewSignalAnalyzer(high, critical int) *SignalAnalyzer {
	if high <= 0 {
		high = DefaultHighThreshold
	}
	if critical <= 0 {
		critical = DefaultCriticalThreshold
	}
	return &SignalAnalyzer{HighThreshold: high, CriticalThreshold: critical}
}

// Analyze implements Analyzer.
func (a *SignalAnalyzer) Analyze(_ context.Context, ev *attestation.Evidence, res *attestation.Result) *Result {
	var threats []string
	if ev != nil {
		if ev.Device.Rooted {
			threats = append(threats, ThreatRootedDevice)
		}
		if ev.Device.Tampered {
			threats = append(threats, ThreatAppTampered)
		}
		if ev.Device.DebuggerAttached {
			threats = append(threats, ThreatDebuggerAttached)
		}
		if !ev.Binding.SIMPresent {
			threats = append(threats, ThreatSIMAbsent)
		}
	}
	switch {
	case !res.Succeeded():
		threats = append(threats, ThreatAttestationUnavailable)
	case !res.MeetsIntegrity():
		threats = append(threats, ThreatIntegrityFailure)
	}

	score := baseScore
	recs := make([]string, 0, len(threats))
	for _, t := range threats {
		score += weights[t]
		recs = append(recs, recommendations[t])
	}
	score = min(score, 100)

	out := &Result{
		Level:           a.level(score),
		DetectedThreats: threats,
		RiskScore:       score,
		Recommendations: recs,
		ImmediateAction: ImmediateNone,
	}
	if out.DetectedThreats == nil {
		out.DetectedThreats = []string{}
	}
	if len(out.Recommendations) == 0 {
		out.Recommendations = []string{"No immediate action required."}
	}

	switch out.Level {
	case policy.LevelCritical:
		out.ImmediateAction = ImmediateBlockSession
	case policy.LevelHigh:
		out.ImmediateAction = ImmediateStepUp
	}
	return out
}

func (a *SignalAnalyzer) level(score int) policy.RiskLevel {
	switch {
	case score >= a.CriticalThreshold:
		return policy.LevelCritical
	case score >= a.HighThreshold:
		return policy.LevelHigh
	case score >= mediumThreshold:
		return policy.LevelMedium
	default:
		return policy.LevelLow
	}
}
