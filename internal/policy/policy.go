// Package policy holds the policy verdict model, the gate that decides
// whether a gated action may run, and the client for the policy engine.
package policy

import "strings"

// Level is the traffic-light outcome of a policy check.
type Level string

const (
	Green Level = "green"
	Amber Level = "amber"
	Red   Level = "red"
)

// Verdict is the policy engine's answer for one tokenised text.
type Verdict struct {
	Level           Level    `json:"level"`
	Reasons         []string `json:"reasons"`
	RequiredActions []string `json:"requiredActions"`
	Confidence      *float64 `json:"confidence,omitempty"`
	RiskFactors     []string `json:"riskFactors,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`

	// Degraded is set only on verdicts synthesised locally after the
	// policy call failed.
	Degraded bool `json:"degraded,omitempty"`
}

// IsActionPermitted reports whether a gated action may run under v.
// Only a present, green verdict permits.
func IsActionPermitted(v *Verdict) bool {
	return v != nil && v.Level == Green
}

// Normalize lower-cases the level and maps anything unrecognised to amber.
// Nil slices become empty so the verdict always serialises as arrays.
func Normalize(v *Verdict) *Verdict {
	if v == nil {
		return nil
	}
	switch Level(strings.ToLower(strings.TrimSpace(string(v.Level)))) {
	case Green:
		v.Level = Green
	case Red:
		v.Level = Red
	default:
		v.Level = Amber
	}
	if v.Reasons == nil {
		v.Reasons = []string{}
	}
	if v.RequiredActions == nil {
		v.RequiredActions = []string{}
	}
	return v
}

// DegradedVerdict is the verdict stored when the policy call fails. It is
// never green: strict mode yields red, lenient mode amber.
func DegradedVerdict(cause error, strict bool) *Verdict {
	level := Red
	action := "Resolve the policy service failure and re-run tokenise"
	if !strict {
		level = Amber
		action = "Obtain manual approval before any outbound action"
	}
	reason := "Policy check unavailable"
	if cause != nil {
		reason += ": " + cause.Error()
	}
	return &Verdict{
		Level:           level,
		Reasons:         []string{reason},
		RequiredActions: []string{action},
		Degraded:        true,
	}
}
