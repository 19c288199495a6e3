// Package scope matches a pattern's declared scope against task signals.
//
// Each facet the pattern declares (paths, languages, frameworks) either
// matches or not. The raw scope score is the weighted share of matched facets,
// renormalized over the facets the pattern actually declares. A pattern with
// no facets is global and scores zero, as does every pattern when the signals
// carry no scope information.
package scope

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Facet weights. They sum to one.
const (
	PathWeight      = 0.40
	LanguageWeight  = 0.35
	FrameworkWeight = 0.25
)

// PathMatcher decides whether a pattern path expression covers a task path.
type PathMatcher interface {
	MatchPath(expr, taskPath string) bool
}

// VersionChecker decides whether a version satisfies a range expression.
type VersionChecker interface {
	Satisfies(version, constraint string) bool
}

// Result is the outcome of matching one pattern scope.
type Result struct {
	Raw        float64  `json:"raw"`
	Declared   int      `json:"declared_facets"`
	Paths      []string `json:"matched_paths,omitempty"`
	Languages  []string `json:"matched_languages,omitempty"`
	Frameworks []string `json:"matched_frameworks,omitempty"`
}

// Matcher scores scopes. The zero value is not usable; use NewMatcher.
type Matcher struct {
	paths    PathMatcher
	versions VersionChecker
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithPathMatcher replaces the default glob/prefix path matcher.
func WithPathMatcher(pm PathMatcher) Option {
	return func(m *Matcher) {
		if pm != nil {
			m.paths = pm
		}
	}
}

// WithVersionChecker replaces the default semver range checker.
func WithVersionChecker(vc VersionChecker) Option {
	return func(m *Matcher) {
		if vc != nil {
			m.versions = vc
		}
	}
}

// NewMatcher returns a matcher using GlobMatcher and SemverChecker unless
// overridden.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		paths:    GlobMatcher{},
		versions: NewSemverChecker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match scores s against the task signals.
func (m *Matcher) Match(s pattern.Scope, sig *pattern.Signals) Result {
	var res Result
	if s.IsGlobal() || sig.IsEmpty() {
		return res
	}

	var declared, matched float64

	if len(s.Paths) > 0 {
		res.Declared++
		declared += PathWeight
		res.Paths = m.matchPaths(s.Paths, sig.Paths)
		if len(res.Paths) > 0 {
			matched += PathWeight
		}
	}

	if len(s.Languages) > 0 {
		res.Declared++
		declared += LanguageWeight
		res.Languages = matchLanguages(s.Languages, sig.Languages)
		if len(res.Languages) > 0 {
			matched += LanguageWeight
		}
	}

	if len(s.Frameworks) > 0 {
		res.Declared++
		declared += FrameworkWeight
		res.Frameworks = m.matchFrameworks(s.Frameworks, sig.Frameworks)
		if len(res.Frameworks) > 0 {
			matched += FrameworkWeight
		}
	}

	if declared > 0 {
		res.Raw = matched / declared
	}
	return res
}

func (m *Matcher) matchPaths(exprs, taskPaths []string) []string {
	var out []string
	for _, tp := range taskPaths {
		norm := NormalizePath(tp)
		if norm == "" {
			continue
		}
		for _, expr := range exprs {
			if m.paths.MatchPath(expr, norm) {
				out = append(out, tp)
				break
			}
		}
	}
	return out
}

func matchLanguages(declared, signalled []string) []string {
	if len(signalled) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(signalled))
	for _, l := range signalled {
		want[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, l := range declared {
		key := strings.ToLower(strings.TrimSpace(l))
		if _, ok := want[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (m *Matcher) matchFrameworks(declared []pattern.FrameworkScope, signalled []pattern.FrameworkSignal) []string {
	var out []string
	for _, fw := range declared {
		name := strings.ToLower(strings.TrimSpace(fw.Name))
		for _, sf := range signalled {
			if strings.ToLower(strings.TrimSpace(sf.Name)) != name {
				continue
			}
			// An unknown task version cannot contradict the range.
			if fw.VersionRange != "" && sf.Version != "" && !m.versions.Satisfies(sf.Version, fw.VersionRange) {
				continue
			}
			out = append(out, name)
			break
		}
	}
	sort.Strings(out)
	return out
}

// NormalizePath cleans a task path into slash form without a leading "./".
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(filepath.ToSlash(p))
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "./")
}

// GlobMatcher matches doublestar globs, and plain expressions as directory
// prefixes.
type GlobMatcher struct{}

// MatchPath implements PathMatcher.
func (GlobMatcher) MatchPath(expr, taskPath string) bool {
	expr = strings.TrimSpace(filepath.ToSlash(expr))
	if expr == "" {
		return false
	}
	if strings.ContainsAny(expr, "*?[{") {
		ok, err := doublestar.Match(strings.TrimPrefix(expr, "./"), taskPath)
		return err == nil && ok
	}

	prefix := NormalizePath(expr)
	if prefix == "" {
		return false
	}
	return taskPath == prefix || strings.HasPrefix(taskPath, strings.TrimSuffix(prefix, "/")+"/")
}
