// Package spend holds per-(credential, asset) spending policies and the
// rolling-window accounting that enforces them.
package spend

import "fmt"

// Enforcement is the tagged policy state. The tag exists so that "never
// configured" and "explicitly disabled by the owner" stay distinguishable
// even though both read as no-enforcement at charge time.
type Enforcement int

const (
	Unset Enforcement = iota
	Enforced
	Disabled
)

func (e Enforcement) String() string {
	switch e {
	case Unset:
		return "unset"
	case Enforced:
		return "enforced"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// ParseEnforcement reverses String for persisted state. Unset never
// round-trips: an unset pair has no stored row at all.
func ParseEnforcement(s string) (Enforcement, error) {
	switch s {
	case "enforced":
		return Enforced, nil
	case "disabled":
		return Disabled, nil
	default:
		return Unset, fmt.Errorf("unknown enforcement state %q", s)
	}
}

// Limits are the owner-configured ceilings of a policy.
type Limits struct {
	MaxPerCall    uint64 `json:"max_per_call" yaml:"max_per_call"`
	MaxPerWindow  uint64 `json:"max_per_window" yaml:"max_per_window"`
	WindowSeconds int64  `json:"window_seconds" yaml:"window_seconds"`
}

// Policy is one (credential, asset) spending policy with its rolling
// window state. Limits are set only by the administrative controller;
// SpentInWindow and WindowStart are mutated only by the batch validator.
type Policy struct {
	State Enforcement `json:"state"`
	Limits
	SpentInWindow uint64 `json:"spent_in_window"`
	WindowStart   int64  `json:"window_start"`
}

// Snapshot is the read-only view of a policy exposed to anyone.
type Snapshot struct {
	CredentialID  string `json:"credential_id"`
	Asset         string `json:"asset"`
	State         string `json:"state"`
	MaxPerCall    uint64 `json:"max_per_call"`
	MaxPerWindow  uint64 `json:"max_per_window"`
	WindowSeconds int64  `json:"window_seconds"`
	SpentInWindow uint64 `json:"spent_in_window"`
	WindowStart   int64  `json:"window_start"`
}
