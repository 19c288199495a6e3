package pattern

import "time"

// FrameworkSignal is a framework detected in the task environment.
type FrameworkSignal struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// TaskIntent is the classified intent of the current task.
type TaskIntent struct {
	Type       string  `json:"type" yaml:"type"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	SubType    string  `json:"sub_type,omitempty" yaml:"sub_type,omitempty"`
}

// RecentOutcome records how a pattern fared recently in this environment.
type RecentOutcome struct {
	PatternID string    `json:"pattern_id" yaml:"pattern_id"`
	Success   bool      `json:"success" yaml:"success"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Signals describes a task and its environment. It is constructed per request
// and never mutated by the engine. The zero value is valid.
type Signals struct {
	Paths          []string          `json:"paths,omitempty" yaml:"paths,omitempty"`
	Languages      []string          `json:"languages,omitempty" yaml:"languages,omitempty"`
	Frameworks     []FrameworkSignal `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
	Repo           string            `json:"repo,omitempty" yaml:"repo,omitempty"`
	Org            string            `json:"org,omitempty" yaml:"org,omitempty"`
	TaskIntent     *TaskIntent       `json:"task_intent,omitempty" yaml:"task_intent,omitempty"`
	WorkflowPhase  string            `json:"workflow_phase,omitempty" yaml:"workflow_phase,omitempty"`
	RecentPatterns []RecentOutcome   `json:"recent_patterns,omitempty" yaml:"recent_patterns,omitempty"`
	FailedPatterns []string          `json:"failed_patterns,omitempty" yaml:"failed_patterns,omitempty"`
	TestFramework  string            `json:"test_framework,omitempty" yaml:"test_framework,omitempty"`
	BuildTool      string            `json:"build_tool,omitempty" yaml:"build_tool,omitempty"`
}

// IsEmpty reports whether no scope-relevant signal is present.
func (s *Signals) IsEmpty() bool {
	return s == nil || (len(s.Paths) == 0 && len(s.Languages) == 0 && len(s.Frameworks) == 0)
}

// FailedSet returns the failed pattern ids as a set.
func (s *Signals) FailedSet() map[string]struct{} {
	if s == nil || len(s.FailedPatterns) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(s.FailedPatterns))
	for _, id := range s.FailedPatterns {
		set[id] = struct{}{}
	}
	return set
}
