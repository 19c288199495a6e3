// Package workflow models the phases an agent moves through while working a
// task. A Workflow only changes phase through Transition, and every change
// lands in an append-only evidence log.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Workflow errors.
var (
	ErrUnknownPhase      = errors.New("unknown workflow phase")
	ErrInvalidTransition = errors.New("invalid workflow transition")
)

// Phase is a workflow state.
type Phase string

const (
	PhaseDesign   Phase = "design"
	PhaseBuild    Phase = "build"
	PhaseValidate Phase = "validate"
	PhaseReview   Phase = "review"
	PhaseDocument Phase = "document"
	PhaseDone     Phase = "done"
)

// ValidTransitions defines allowed phase transitions. Validate and review
// may send work back to build.
var ValidTransitions = map[Phase][]Phase{
	PhaseDesign:   {PhaseBuild},
	PhaseBuild:    {PhaseValidate},
	PhaseValidate: {PhaseReview, PhaseBuild},
	PhaseReview:   {PhaseDocument, PhaseBuild},
	PhaseDocument: {PhaseDone},
	PhaseDone:     {}, // terminal
}

// ParsePhase parses a phase name, case-insensitively.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ValidTransitions[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, s)
	}
	return p, nil
}

// CanTransitionTo checks if a transition from p to target is valid.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, t := range ValidTransitions[p] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no transition leaves p.
func (p Phase) IsTerminal() bool {
	allowed, ok := ValidTransitions[p]
	return ok && len(allowed) == 0
}

// phaseIntents maps phases onto the task intent they imply.
var phaseIntents = map[Phase]string{
	PhaseDesign:   "design",
	PhaseBuild:    "implement",
	PhaseValidate: "test",
	PhaseReview:   "review",
}

// Intent returns the task intent a phase implies, if any.
func (p Phase) Intent() (string, bool) {
	intent, ok := phaseIntents[p]
	return intent, ok
}

// Evidence kinds.
const (
	KindTransition = "transition"
	KindNote       = "note"
)

// Evidence is one entry of the evidence log.
type Evidence struct {
	ID    string    `json:"id"`
	Phase Phase     `json:"phase"`
	Kind  string    `json:"kind"`
	From  Phase     `json:"from,omitempty"`
	Text  string    `json:"text,omitempty"`
	At    time.Time `json:"at"`
}

// Workflow tracks one task's phase and evidence. It is safe for concurrent
// use.
type Workflow struct {
	mu       sync.Mutex
	taskID   string
	phase    Phase
	evidence []Evidence
	sink     io.Writer
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithSink mirrors every evidence entry to w as one JSON line.
func WithSink(w io.Writer) Option {
	return func(wf *Workflow) {
		wf.sink = w
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(wf *Workflow) {
		if now != nil {
			wf.now = now
		}
	}
}

// New starts a workflow for taskID in the design phase.
func New(taskID string, opts ...Option) *Workflow {
	wf := &Workflow{
		taskID: taskID,
		phase:  PhaseDesign,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(wf)
	}
	return wf
}

// TaskID returns the task the workflow belongs to.
func (wf *Workflow) TaskID() string {
	return wf.taskID
}

// Phase returns the current phase.
func (wf *Workflow) Phase() Phase {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.phase
}

// Transition moves to target and logs handoff as evidence.
func (wf *Workflow) Transition(target Phase, handoff string) (Evidence, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if !wf.phase.CanTransitionTo(target) {
		return Evidence{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wf.phase, target)
	}

	e := Evidence{
		ID:    uuid.NewString(),
		Phase: target,
		Kind:  KindTransition,
		From:  wf.phase,
		Text:  handoff,
		At:    wf.now().UTC(),
	}
	if err := wf.appendLocked(e); err != nil {
		return Evidence{}, err
	}
	wf.phase = target
	return e, nil
}

// Note appends a free-form evidence entry in the current phase.
func (wf *Workflow) Note(text string) (Evidence, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	e := Evidence{
		ID:    uuid.NewString(),
		Phase: wf.phase,
		Kind:  KindNote,
		Text:  text,
		At:    wf.now().UTC(),
	}
	if err := wf.appendLocked(e); err != nil {
		return Evidence{}, err
	}
	return e, nil
}

func (wf *Workflow) appendLocked(e Evidence) error {
	if wf.sink != nil {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding evidence: %w", err)
		}
		if _, err := wf.sink.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("writing evidence: %w", err)
		}
	}
	wf.evidence = append(wf.evidence, e)
	return nil
}

// Evidence returns a copy of the log.
func (wf *Workflow) Evidence() []Evidence {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	out := make([]Evidence, len(wf.evidence))
	copy(out, wf.evidence)
	return out
}
