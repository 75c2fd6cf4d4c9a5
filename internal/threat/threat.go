// Package threat scores device and attestation signals into a threat
// level. Analyzer is an extension point: implementations must be pure
// functions of their inputs and must always return a populated Result.
package threat

import (
	"context"

	"github.com/mbd888/trustgate/internal/attestation"
	"github.com/mbd888/trustgate/internal/policy"
)

// Immediate actions recommended alongside a threat result.
const (
	ImmediateNone         = "NONE"
	ImmediateStepUp       = "STEP_UP_AUTH"
	ImmediateBlockSession = "BLOCK_SESSION"
)

// Threat identifiers reported in DetectedThreats.
const (
	ThreatRootedDevice           = "ROOTED_DEVICE"
	ThreatDebuggerAttached       = "DEBUGGER_ATTACHED"
	ThreatAppTampered            = "APP_TAMPERED"
	ThreatIntegrityFailure       = "INTEGRITY_FAILURE"
	ThreatAttestationUnavailable = "ATTESTATION_UNAVAILABLE"
	ThreatSIMAbsent              = "SIM_ABSENT"
)

// Result is the outcome of a threat analysis.
type Result struct {
	Level           policy.RiskLevel `json:"threatLevel"`
	DetectedThreats []string         `json:"detectedThreats"`
	RiskScore       int              `json:"riskScore"`
	Recommendations []string         `json:"recommendations"`
	ImmediateAction string           `json:"immediateAction"`
}

// Analyzer produces a threat result for one verification.
type Analyzer interface {
	Analyze(ctx context.Context, ev *attestation.Evidence, res *attestation.Result) *Result
}

// StaticAnalyzer always reports a low threat. It is the reference
// implementation for deployments without behavioural detection.
type StaticAnalyzer struct{}

// Analyze implements Analyzer.
func (StaticAnalyzer) Analyze(context.Context, *attestation.Evidence, *attestation.Result) *Result {
	return &Result{
		Level:           policy.LevelLow,
		DetectedThreats: []string{},
		RiskScore:       10,
		Recommendations: []string{"No immediate action required."},
		ImmediateAction: ImmediateNone,
	}
}
