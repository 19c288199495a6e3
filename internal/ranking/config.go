package ranking

import (
	"math"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Default ranking parameters.
const (
	DefaultCandidateCap        = 50
	DefaultHalfLifeDays        = 90.0
	DefaultPolicyRequiresScope = true
)

// Weights are the per-component multipliers applied to component points.
type Weights struct {
	Scope     float64 `json:"scope" koanf:"scope"`
	Policy    float64 `json:"policy" koanf:"policy"`
	Trust     float64 `json:"trust" koanf:"trust"`
	Freshness float64 `json:"freshness" koanf:"freshness"`
	Locality  float64 `json:"locality" koanf:"locality"`
}

// DefaultWeights returns the default component weights.
func DefaultWeights() Weights {
	return Weights{
		Scope:     0.40,
		Policy:    0.10,
		Trust:     0.25,
		Freshness: 0.15,
		Locality:  0.10,
	}
}

// Config parameterizes one ranking call. It is immutable for the duration
// of the call.
type Config struct {
	Weights                  Weights `json:"weights" koanf:"weights"`
	CandidateCap             int     `json:"candidate_cap" koanf:"candidate_cap"`
	PolicyBoostRequiresScope bool    `json:"policy_boost_requires_scope" koanf:"policy_boost_requires_scope"`
	HalfLifeDefaultDays      float64 `json:"half_life_default_days" koanf:"half_life_default_days"`
}

// DefaultConfig returns the default ranking configuration.
func DefaultConfig() Config {
	return Config{
		Weights:                  DefaultWeights(),
		CandidateCap:             DefaultCandidateCap,
		PolicyBoostRequiresScope: DefaultPolicyRequiresScope,
		HalfLifeDefaultDays:      DefaultHalfLifeDays,
	}
}

// Validate rejects structurally invalid configuration. Nothing is clamped.
func (c Config) Validate() error {
	named := []struct {
		field string
		value float64
	}{
		{"weights.scope", c.Weights.Scope},
		{"weights.policy", c.Weights.Policy},
		{"weights.trust", c.Weights.Trust},
		{"weights.freshness", c.Weights.Freshness},
		{"weights.locality", c.Weights.Locality},
	}

	var sum float64
	for _, w := range named {
		if math.IsNaN(w.value) || math.IsInf(w.value, 0) {
			return pattern.NewConfigError(w.field, "must be finite, got %v", w.value)
		}
		if w.value < 0 {
			return pattern.NewConfigError(w.field, "must be >= 0, got %v", w.value)
		}
		sum += w.value
	}
	if sum == 0 {
		return pattern.NewConfigError("weights", "at least one weight must be positive")
	}
	if c.CandidateCap <= 0 {
		return pattern.NewConfigError("candidate_cap", "must be > 0, got %d", c.CandidateCap)
	}
	if math.IsNaN(c.HalfLifeDefaultDays) || c.HalfLifeDefaultDays <= 0 {
		return pattern.NewConfigError("half_life_default_days", "must be > 0, got %v", c.HalfLifeDefaultDays)
	}
	return nil
}
