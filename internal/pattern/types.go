// Package pattern defines the read-only pattern snapshot model, the per-request
// task signals and the pattern pack returned to callers.
package pattern

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Model validation errors.
var (
	ErrEmptyID     = errors.New("pattern id cannot be empty")
	ErrUnknownType = errors.New("unknown pattern type")
)

// Type classifies a pattern. The set is closed.
type Type string

const (
	TypeReusable             Type = "reusable-pattern"
	TypeAntiPattern          Type = "anti-pattern"
	TypeFailureFix           Type = "failure-fix"
	TypeLanguageConvention   Type = "language-convention"
	TypeTestConvention       Type = "test-convention"
	TypeMigration            Type = "migration"
	TypePolicy               Type = "policy"
	TypeArchitectureDecision Type = "architecture-decision"
)

// Types lists every known pattern type in declaration order.
var Types = []Type{
	TypeReusable,
	TypeAntiPattern,
	TypeFailureFix,
	TypeLanguageConvention,
	TypeTestConvention,
	TypeMigration,
	TypePolicy,
	TypeArchitectureDecision,
}

// Valid reports whether t belongs to the closed type set.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// IsBoosted reports whether the type always deserves surfacing (policy boost).
func (t Type) IsBoosted() bool {
	return t == TypePolicy || t == TypeAntiPattern || t == TypeFailureFix
}

// FrameworkScope names a framework a pattern applies to, optionally restricted
// to a version range such as "^1.2", "~4.17" or ">=2, <3".
type FrameworkScope struct {
	Name         string `json:"name" yaml:"name"`
	VersionRange string `json:"version_range,omitempty" yaml:"version_range,omitempty"`
}

// Scope describes where a pattern is applicable.
type Scope struct {
	Paths      []string         `json:"paths,omitempty" yaml:"paths,omitempty"`
	Languages  []string         `json:"languages,omitempty" yaml:"languages,omitempty"`
	Frameworks []FrameworkScope `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
}

// IsGlobal returns true when the scope declares no facet at all.
func (s Scope) IsGlobal() bool {
	return len(s.Paths) == 0 && len(s.Languages) == 0 && len(s.Frameworks) == 0
}

// TrustSnapshot is the trust state carried by the snapshot itself. Live state
// tracked by the trust model takes precedence.
type TrustSnapshot struct {
	Alpha *float64 `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	Beta  *float64 `json:"beta,omitempty" yaml:"beta,omitempty"`
	Score *float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// Params returns alpha and beta when both are present.
func (t *TrustSnapshot) Params() (alpha, beta float64, ok bool) {
	if t == nil || t.Alpha == nil || t.Beta == nil {
		return 0, 0, false
	}
	return *t.Alpha, *t.Beta, true
}

// Metadata holds review and ownership data.
type Metadata struct {
	LastReviewed time.Time `json:"last_reviewed,omitempty" yaml:"last_reviewed,omitempty"`
	HalfLifeDays float64   `json:"half_life_days,omitempty" yaml:"half_life_days,omitempty"`
	Repo         string    `json:"repo,omitempty" yaml:"repo,omitempty"`
	Org          string    `json:"org,omitempty" yaml:"org,omitempty"`
	Tags         []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	TaskTypes    []string  `json:"task_types,omitempty" yaml:"task_types,omitempty"`
}

// Snippet is the code example attached to a pattern.
type Snippet struct {
	Language  string `json:"language" yaml:"language"`
	Code      string `json:"code" yaml:"code"`
	SourceRef string `json:"source_ref" yaml:"source_ref"`
	SnippetID string `json:"snippet_id" yaml:"snippet_id"`
}

// Meta is one entry of a pattern snapshot. It is immutable once snapshotted.
type Meta struct {
	ID       string         `json:"id" yaml:"id"`
	Type     Type           `json:"type" yaml:"type"`
	Title    string         `json:"title,omitempty" yaml:"title,omitempty"`
	Summary  string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Scope    Scope          `json:"scope" yaml:"scope"`
	Trust    *TrustSnapshot `json:"trust,omitempty" yaml:"trust,omitempty"`
	Metadata *Metadata      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Snippet  *Snippet       `json:"snippet,omitempty" yaml:"snippet,omitempty"`

	PolicyRefs []string `json:"policy_refs,omitempty" yaml:"policy_refs,omitempty"`
	AntiRefs   []string `json:"anti_refs,omitempty" yaml:"anti_refs,omitempty"`
	TestRefs   []string `json:"test_refs,omitempty" yaml:"test_refs,omitempty"`
}

// Validate checks the fields the engine relies on.
func (m *Meta) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrEmptyID
	}
	if !m.Type.Valid() {
		return fmt.Errorf("pattern %s: %w: %q", m.ID, ErrUnknownType, m.Type)
	}
	return nil
}

// Repo returns the owning repository, or "" when unknown.
func (m *Meta) Repo() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata.Repo
}

// Org returns the owning organization, or "" when unknown.
func (m *Meta) Org() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata.Org
}
