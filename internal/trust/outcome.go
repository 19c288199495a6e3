package trust

import (
	"errors"
	"fmt"
	"strings"
)

// Event errors.
var (
	ErrUnknownOutcome = errors.New("unknown outcome")
	ErrEmptyPatternID = errors.New("pattern_id is required")
	ErrInvalidCounts  = errors.New("alpha and beta must be finite and >= 0")
)

// Outcome is the reported result of applying a pattern.
type Outcome string

const (
	OutcomeWorkedPerfectly   Outcome = "worked-perfectly"
	OutcomeWorkedWithTweaks  Outcome = "worked-with-tweaks"
	OutcomePartialSuccess    Outcome = "partial-success"
	OutcomeFailedMinorIssues Outcome = "failed-minor-issues"
	OutcomeFailedCompletely  Outcome = "failed-completely"
)

// Delta is the (alpha, beta) increment applied for one outcome.
type Delta struct {
	Alpha float64
	Beta  float64
}

var deltas = map[Outcome]Delta{
	OutcomeWorkedPerfectly:   {Alpha: 1.0, Beta: 0.0},
	OutcomeWorkedWithTweaks:  {Alpha: 0.7, Beta: 0.3},
	OutcomePartialSuccess:    {Alpha: 0.5, Beta: 0.5},
	OutcomeFailedMinorIssues: {Alpha: 0.3, Beta: 0.7},
	OutcomeFailedCompletely:  {Alpha: 0.0, Beta: 1.0},
}

// DeltaFor returns the increment for an outcome.
func DeltaFor(o Outcome) (Delta, error) {
	d, ok := deltas[o]
	if !ok {
		return Delta{}, fmt.Errorf("%w: %q", ErrUnknownOutcome, o)
	}
	return d, nil
}

// ParseOutcome accepts the hyphenated names as well as underscore spellings.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if _, ok := deltas[o]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
	}
	return o, nil
}

// Event is a trust update emitted by the reflection collaborator.
type Event struct {
	PatternID string  `json:"pattern_id"`
	Outcome   Outcome `json:"outcome"`
}

// Validate checks the event before it reaches the model.
func (e Event) Validate() error {
	if strings.TrimSpace(e.PatternID) == "" {
		return ErrEmptyPatternID
	}
	_, err := DeltaFor(e.Outcome)
	return err
}
