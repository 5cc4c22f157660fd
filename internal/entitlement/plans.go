package entitlement

import "math"

// Plan keys
const (
	PlanPro   = "pro"
	PlanScale = "scale"
	PlanPrime = "prime"

	DefaultPlan = PlanPro
)

// PlanLimits is the static allowance of a plan.
type PlanLimits struct {
	CreditsLimit int64   `json:"credits_limit"`
	MaxAgents    int     `json:"max_agents"`
	MaxChannels  int     `json:"max_channels"`
	AllowOverage bool    `json:"allow_overage"`
	GraceRatio   float64 `json:"grace_ratio"`
}

// Unbounded is the hard limit of plans that allow overage.
const Unbounded int64 = math.MaxInt64

// Limits returns the limits for planKey. Unknown keys resolve to the
// default plan.
func Limits(planKey string) PlanLimits {
	switch planKey {
	case PlanPrime:
		return PlanLimits{
			CreditsLimit: 1500000,
			MaxAgents:    50,
			MaxChannels:  20,
			AllowOverage: true,
		}
	case PlanScale:
		return PlanLimits{
			CreditsLimit: 500000,
			MaxAgents:    10,
			MaxChannels:  5,
			GraceRatio:   0.10,
		}
	default: // pro
		return PlanLimits{
			CreditsLimit: 2000,
			MaxAgents:    3,
			MaxChannels:  2,
			GraceRatio:   0.10,
		}
	}
}

// KnownPlan reports whether planKey is in the plan table.
func KnownPlan(planKey string) bool {
	switch planKey {
	case PlanPro, PlanScale, PlanPrime:
		return true
	}
	return false
}

// HardLimit is the usage ceiling for an entitlement whose nominal limit is
// creditsLimit: limit*(1+grace) when overage is disallowed, else Unbounded.
func (p PlanLimits) HardLimit(creditsLimit int64) int64 {
	if p.AllowOverage {
		return Unbounded
	}
	if creditsLimit <= 0 {
		return 0
	}
	// The epsilon absorbs float error in products like 1000*1.1.
	return int64(math.Floor(float64(creditsLimit)*(1+p.GraceRatio) + 1e-9))
}
