// Package trust maintains a Beta-Bernoulli trust estimate per pattern.
//
// # Model
//
// Each pattern carries (alpha, beta) pseudo-counts. Outcome events add fixed
// partial-credit deltas:
//
//	worked-perfectly     +1.0 / +0.0
//	worked-with-tweaks   +0.7 / +0.3
//	partial-success      +0.5 / +0.5
//	failed-minor-issues  +0.3 / +0.7
//	failed-completely    +0.0 / +1.0
//
// alpha+beta never decreases, so each new observation moves the estimate a
// little less than the previous one. Recency is handled by the ranker's
// freshness component, not here.
//
// # Scores
//
// Mean is the posterior mean alpha/(alpha+beta). WilsonLowerBound is the lower
// end of the Wilson score interval and is what the ranker consumes: a pattern
// with three lucky successes scores below one with hundreds of consistent ones.
//
// # Unknown patterns
//
// An outcome for a pattern the model has never seen auto-creates it with
// AutoCreatePrior (alpha=1, beta=1) and then applies the delta. The signal is
// never discarded.
//
// # Concurrency
//
// Updates are serialized per pattern through striped locks; different patterns
// update in parallel. Reads (Lookup) never block on a write to another pattern.
package trust
