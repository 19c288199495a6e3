package trust

import "math"

const (
	// DefaultZ is the normal quantile for a 95% interval.
	DefaultZ = 1.96

	// NeutralScore is returned when there are no observations.
	NeutralScore = 0.5
)

// State is the posterior state of one pattern.
type State struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// AutoCreatePrior is the uniform prior given to a pattern the model first
// learns about through an outcome event.
var AutoCreatePrior = State{Alpha: 1, Beta: 1}

// Apply returns the state after adding d.
func (s State) Apply(d Delta) State {
	return State{Alpha: s.Alpha + d.Alpha, Beta: s.Beta + d.Beta}
}

// N is the total pseudo-count.
func (s State) N() float64 {
	return s.Alpha + s.Beta
}

// Mean is the posterior mean of the state.
func (s State) Mean() float64 {
	return Mean(s.Alpha, s.Beta)
}

// Valid reports whether alpha and beta are finite and non-negative.
func Valid(alpha, beta float64) bool {
	return finiteNonNegative(alpha) && finiteNonNegative(beta)
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// Mean returns alpha/(alpha+beta). It returns NeutralScore when both are zero
// or when either parameter is negative or not finite.
func Mean(alpha, beta float64) float64 {
	n := alpha + beta
	if n <= 0 || !Valid(alpha, beta) {
		return NeutralScore
	}
	return alpha / n
}

// WilsonLowerBound returns the lower bound of the Wilson score interval for
// alpha successes out of alpha+beta trials. A non-positive z uses DefaultZ.
// The result is within [0, Mean(alpha, beta)]. Invalid parameters (see Valid)
// score NeutralScore.
func WilsonLowerBound(alpha, beta, z float64) float64 {
	n := alpha + beta
	if n <= 0 || !Valid(alpha, beta) {
		return NeutralScore
	}
	if z <= 0 || math.IsNaN(z) || math.IsInf(z, 0) {
		z = DefaultZ
	}

	p := alpha / n
	z2 := z * z
	centre := p + z2/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))
	lower := (centre - margin) / (1 + z2/n)

	if lower < 0 {
		lower = 0
	}
	if lower > p {
		lower = p
	}
	return lower
}
