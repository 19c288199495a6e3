package pattern

// Reasons recorded in PackMeta.TrimmedReason.
const (
	TrimmedBudgetExceeded = "budget_exceeded"
	TrimmedMinimalOver    = "budget_exceeded:minimal_item_over_budget"
)

// Candidate is a ranked pattern as emitted in a pack.
type Candidate struct {
	ID         string   `json:"id"`
	Type       Type     `json:"type"`
	Title      string   `json:"title,omitempty"`
	Score      float64  `json:"score"`
	Summary    string   `json:"summary"`
	Snippet    *Snippet `json:"snippet,omitempty"`
	PolicyRefs []string `json:"policy_refs,omitempty"`
	AntiRefs   []string `json:"anti_refs,omitempty"`
	TestRefs   []string `json:"test_refs,omitempty"`
}

// Ref is a summary-only pack entry (anti-patterns, policies, tests).
type Ref struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// PackMeta describes how a pack was assembled.
type PackMeta struct {
	TotalRanked   int            `json:"total_ranked"`
	Considered    int            `json:"considered"`
	Included      int            `json:"included"`
	Bytes         int            `json:"bytes"`
	BudgetBytes   int            `json:"budget_bytes"`
	TrimmedReason string         `json:"trimmed_reason,omitempty"`
	Explain       map[string]any `json:"explain,omitempty"`
	Reasons       []string       `json:"reasons,omitempty"`
}

// Pack is the budget-bounded bundle of patterns returned for one task.
type Pack struct {
	Task         string      `json:"task"`
	Candidates   []Candidate `json:"candidates"`
	AntiPatterns []Ref       `json:"anti_patterns"`
	Policies     []Ref       `json:"policies"`
	Tests        []Ref       `json:"tests"`
	Meta         PackMeta    `json:"meta"`
}

// Sections is the budgeted part of a pack. Its JSON encoding is what
// PackMeta.Bytes measures.
type Sections struct {
	Candidates   []Candidate `json:"candidates"`
	AntiPatterns []Ref       `json:"anti_patterns"`
	Policies     []Ref       `json:"policies"`
	Tests        []Ref       `json:"tests"`
}

// Sections returns the budgeted part of the pack.
func (p *Pack) Sections() Sections {
	return Sections{
		Candidates:   p.Candidates,
		AntiPatterns: p.AntiPatterns,
		Policies:     p.Policies,
		Tests:        p.Tests,
	}
}

// NewEmptyPack returns a pack with non-nil empty sections so the encoded
// form always carries arrays, never null.
func NewEmptyPack(task string, budget int) *Pack {
	return &Pack{
		Task:         task,
		Candidates:   []Candidate{},
		AntiPatterns: []Ref{},
		Policies:     []Ref{},
		Tests:        []Ref{},
		Meta:         PackMeta{BudgetBytes: budget},
	}
}
