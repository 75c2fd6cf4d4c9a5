// Package policy defines risk levels, policy actions, and the per-check
// security policy tables used to classify device risk.
//
// Tables are immutable once published. Tenant overrides and the default
// table live in a Snapshot that is swapped atomically by Store.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// RiskLevel is a totally ordered severity classification.
type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// Levels lists every risk level in ascending order.
var Levels = []RiskLevel{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Rank returns the position of the level in the ordering, or -1 if the
// level is not recognized.
func (l RiskLevel) Rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether l is one of the four known levels.
func (l RiskLevel) Valid() bool { return l.Rank() >= 0 }

// Compare returns a negative number when l is less severe than other,
// zero when equal, and a positive number when more severe.
func (l RiskLevel) Compare(other RiskLevel) int {
	return l.Rank() - other.Rank()
}

// AtLeast reports whether l is as severe as min or more.
func (l RiskLevel) AtLeast(min RiskLevel) bool {
	return l.Valid() && l.Compare(min) >= 0
}

// MaxLevel returns the most severe of the given levels. Unrecognized
// levels are ignored; with no valid input the result is LOW.
func MaxLevel(levels ...RiskLevel) RiskLevel {
	max := LevelLow
	for _, l := range levels {
		if l.Valid() && l.Compare(max) > 0 {
			max = l
		}
	}
	return max
}

// ParseRiskLevel parses a case-insensitive level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return l, &ConfigurationError{Field: "riskLevel", Value: s}
	}
	return l, nil
}

// Action is a totally ordered response directive.
type Action string

const (
	ActionAllow       Action = "ALLOW"
	ActionMonitor     Action = "MONITOR"
	ActionRequireAuth Action = "REQUIRE_ADDITIONAL_AUTH"
	ActionBlock       Action = "BLOCK"
)

// Rank returns the position of the action in the ordering, or -1.
func (a Action) Rank() int {
	switch a {
	case ActionAllow:
		return 0
	case ActionMonitor:
		return 1
	case ActionRequireAuth:
		return 2
	case ActionBlock:
		return 3
	default:
		return -1
	}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a.Rank() >= 0 }

// ParseAction parses a case-insensitive action name. Unrecognized names
// fail closed: the returned action is BLOCK together with a
// *ConfigurationError.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return ActionBlock, &ConfigurationError{Field: "action", Value: s}
	}
	return a, nil
}

// ConfigurationError reports an unrecognized value in a policy table.
type ConfigurationError struct {
	Check string
	Field string
	Value string
}

func (e *ConfigurationError) Error() string {
	if e.Check != "" {
		return fmt.Sprintf("policy: %s: unrecognized %s %q", e.Check, e.Field, e.Value)
	}
	return fmt.Sprintf("policy: unrecognized %s %q", e.Field, e.Value)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Check names a single device or binding check.
type Check string

const (
	CheckRootDetection     Check = "root_detection"
	CheckDebuggerDetection Check = "debugger_detection"
	CheckAppTampering      Check = "app_tampering"
	CheckIntegrityMismatch Check = "integrity_mismatch"
	CheckSIMAbsence        Check = "sim_absence"
	CheckMalwareDetection  Check = "malware_detection"
	CheckFraudDetection    Check = "fraud_detection"
	CheckUnusualBehavior   Check = "unusual_behavior"
)

// SecurityPolicy configures the response to one check.
type SecurityPolicy struct {
	Check     Check     `json:"checkName"`
	Action    Action    `json:"action"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Enabled   bool      `json:"enabled"`
}

// Table is the full set of configurable policies. Integrity mismatch and
// SIM absence carry fixed levels and are not configurable here.
type Table struct {
	RootDetection     SecurityPolicy `json:"rootDetection"`
	DebuggerDetection SecurityPolicy `json:"debuggerDetection"`
	AppTampering      SecurityPolicy `json:"appTampering"`
	MalwareDetection  SecurityPolicy `json:"malwareDetection"`
	FraudDetection    SecurityPolicy `json:"fraudDetection"`
	UnusualBehavior   SecurityPolicy `json:"unusualBehavior"`
}

// Fixed contributions for the non-configurable checks.
const (
	IntegrityMismatchLevel = LevelHigh
	SIMAbsenceLevel        = LevelMedium
)

// DefaultTable returns the process-wide default policies.
func DefaultTable() *Table {
	return &Table{
		RootDetection:     SecurityPolicy{Check: CheckRootDetection, Action: ActionBlock, RiskLevel: LevelHigh, Enabled: true},
		DebuggerDetection: SecurityPolicy{Check: CheckDebuggerDetection, Action: ActionMonitor, RiskLevel: LevelMedium, Enabled: true},
		AppTampering:      SecurityPolicy{Check: CheckAppTampering, Action: ActionBlock, RiskLevel: LevelCritical, Enabled: true},
		MalwareDetection:  SecurityPolicy{Check: CheckMalwareDetection, Action: ActionBlock, RiskLevel: LevelCritical, Enabled: true},
		FraudDetection:    SecurityPolicy{Check: CheckFraudDetection, Action: ActionRequireAuth, RiskLevel: LevelHigh, Enabled: true},
		UnusualBehavior:   SecurityPolicy{Check: CheckUnusualBehavior, Action: ActionMonitor, RiskLevel: LevelMedium, Enabled: true},
	}
}

// Lookup returns the policy for a configurable check.
func (t *Table) Lookup(check Check) (SecurityPolicy, bool) {
	switch check {
	case CheckRootDetection:
		return t.RootDetection, true
	case CheckDebuggerDetection:
		return t.DebuggerDetection, true
	case CheckAppTampering:
		return t.AppTampering, true
	case CheckMalwareDetection:
		return t.MalwareDetection, true
	case CheckFraudDetection:
		return t.FraudDetection, true
	case CheckUnusualBehavior:
		return t.UnusualBehavior, true
	default:
		return SecurityPolicy{}, false
	}
}

// Set replaces the policy for a configurable check. It is only meant for
// building a table before it is published to a Store.
func (t *Table) Set(p SecurityPolicy) error {
	switch p.Check {
	case CheckRootDetection:
		t.RootDetection = p
	case CheckDebuggerDetection:
		t.DebuggerDetection = p
	case CheckAppTampering:
		t.AppTampering = p
	case CheckMalwareDetection:
		t.MalwareDetection = p
	case CheckFraudDetection:
		t.FraudDetection = p
	case CheckUnusualBehavior:
		t.UnusualBehavior = p
	default:
		return &ConfigurationError{Field: "checkName", Value: string(p.Check)}
	}
	return nil
}

// Policies returns the table as a list ordered by check name.
func (t *Table) Policies() []SecurityPolicy {
	return []SecurityPolicy{
		t.AppTampering,
		t.DebuggerDetection,
		t.FraudDetection,
		t.MalwareDetection,
		t.RootDetection,
		t.UnusualBehavior,
	}
}

// Clone returns a copy of t.
func (t *Table) Clone() *Table {
	cp := *t
	return &cp
}

// ParseSpec parses a compact "ACTION:LEVEL" policy definition for check.
// An unrecognized action fails closed to BLOCK and an unrecognized level
// to CRITICAL; in both cases the returned error is a *ConfigurationError
// and the returned policy is still usable.
func ParseSpec(check Check, spec string) (SecurityPolicy, error) {
	p := SecurityPolicy{Check: check, Action: ActionBlock, RiskLevel: LevelCritical, Enabled: true}

	actionStr, levelStr, ok := strings.Cut(spec, ":")
	if !ok {
		return p, &ConfigurationError{Check: string(check), Field: "policy", Value: spec}
	}

	var errs []error
	action, err := ParseAction(actionStr)
	if err != nil {
		errs = append(errs, &ConfigurationError{Check: string(check), Field: "action", Value: actionStr})
	}
	p.Action = action

	level, err := ParseRiskLevel(levelStr)
	if err != nil {
		errs = append(errs, &ConfigurationError{Check: string(check), Field: "riskLevel", Value: levelStr})
	} else {
		p.RiskLevel = level
	}
	return p, errors.Join(errs...)
}
