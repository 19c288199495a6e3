package pack

import "github.com/fyrsmithlabs/patternd/internal/pattern"

// Defaults.
const (
	DefaultBudgetBytes         = 8192
	DefaultInitialSnippetLines = 18
	DefaultMinSnippetLines     = 8

	// MinBudgetBytes is the absolute floor for Options.BudgetBytes.
	MinBudgetBytes = 128
)

// Quotas are soft per-section targets for the first packing pass.
type Quotas struct {
	TopCandidates int `json:"top_candidates" koanf:"top_candidates"`
	FailureFixes  int `json:"failure_fixes" koanf:"failure_fixes"`
	AntiPatterns  int `json:"anti_patterns" koanf:"anti_patterns"`
	Policies      int `json:"policies" koanf:"policies"`
	Tests         int `json:"tests" koanf:"tests"`
}

// DefaultQuotas returns the default section quotas.
func DefaultQuotas() Quotas {
	return Quotas{
		TopCandidates: 3,
		FailureFixes:  2,
		AntiPatterns:  1,
		Policies:      1,
		Tests:         1,
	}
}

// Options control pack assembly.
type Options struct {
	BudgetBytes         int    `json:"budget_bytes" koanf:"budget_bytes"`
	Debug               bool   `json:"debug" koanf:"debug"`
	InitialSnippetLines int    `json:"initial_snippet_lines" koanf:"initial_snippet_lines"`
	MinSnippetLines     int    `json:"min_snippet_lines" koanf:"min_snippet_lines"`
	Quotas              Quotas `json:"quotas" koanf:"quotas"`
}

// DefaultOptions returns the default pack options.
func DefaultOptions() Options {
	return Options{
		BudgetBytes:         DefaultBudgetBytes,
		InitialSnippetLines: DefaultInitialSnippetLines,
		MinSnippetLines:     DefaultMinSnippetLines,
		Quotas:              DefaultQuotas(),
	}
}

// Validate rejects structurally invalid options. A small but legal budget
// is not an error; it shows up as a trimmed reason.
func (o Options) Validate() error {
	if o.BudgetBytes < MinBudgetBytes {
		return pattern.NewConfigError("budget_bytes", "must be >= %d, got %d", MinBudgetBytes, o.BudgetBytes)
	}
	if o.MinSnippetLines < 0 {
		return pattern.NewConfigError("min_snippet_lines", "must be >= 0, got %d", o.MinSnippetLines)
	}
	if o.InitialSnippetLines < o.MinSnippetLines {
		return pattern.NewConfigError("initial_snippet_lines", "must be >= min_snippet_lines (%d), got %d",
			o.MinSnippetLines, o.InitialSnippetLines)
	}
	q := o.Quotas
	for _, f := range []struct {
		field string
		value int
	}{
		{"quotas.top_candidates", q.TopCandidates},
		{"quotas.failure_fixes", q.FailureFixes},
		{"quotas.anti_patterns", q.AntiPatterns},
		{"quotas.policies", q.Policies},
		{"quotas.tests", q.Tests},
	} {
		if f.value < 0 {
			return pattern.NewConfigError(f.field, "must be >= 0, got %d", f.value)
		}
	}
	return nil
}
