package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func TestGlobMatcher(t *testing.T) {
	tests := []struct {
		expr, path string
		want       bool
	}{
		{"internal/api", "internal/api/handler.go", true},
		{"internal/api/", "internal/api/handler.go", true},
		{"./internal/api", "internal/api", true},
		{"internal/api", "internal/apikeys/x.go", false},
		{"**/*.go", "cmd/main.go", true},
		{"**/*.go", "README.md", false},
		{"src/**/*_test.ts", "src/a/b/c_test.ts", true},
		{"*.md", "docs/readme.md", false},
		{"{cmd,internal}/**", "cmd/patternd/main.go", true},
		{"", "anything", false},
		{"[", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr+"|"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, GlobMatcher{}.MatchPath(tt.expr, tt.path))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "a/b", NormalizePath("./a//b/"))
	assert.Equal(t, "", NormalizePath("."))
	assert.Equal(t, "", NormalizePath("  "))
}

func TestSemverChecker(t *testing.T) {
	c := NewSemverChecker()
	tests := []struct {
		version, constraint string
		want                bool
	}{
		{"1.4.0", "^1.2", true},
		{"2.0.0", "^1.2", false},
		{"4.17.21", "~4.17", true},
		{"4.18.0", "~4.17", false},
		{"v2.5.1", ">=2, <3", true},
		{"3.0.0", ">=2, <3", false},
		{"1.9.9", "1.x", true},
		{"not-a-version", "^1", false},
		{"1.0.0", "garbage range", false},
		{"2.0.0-beta.1", ">=1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.version+" "+tt.constraint, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Satisfies(tt.version, tt.constraint))
		})
	}

	lenient := SemverChecker{IncludePrerelease: true}
	assert.True(t, lenient.Satisfies("2.0.0-beta.1", ">=1.0.0"))
}

func TestMatcher_Match(t *testing.T) {
	m := NewMatcher()

	full := pattern.Scope{
		Paths:      []string{"internal/api/**"},
		Languages:  []string{"Go"},
		Frameworks: []pattern.FrameworkScope{{Name: "echo", VersionRange: "^4"}},
	}

	t.Run("all facets match", func(t *testing.T) {
		res := m.Match(full, &pattern.Signals{
			Paths:      []string{"internal/api/server.go"},
			Languages:  []string{"go"},
			Frameworks: []pattern.FrameworkSignal{{Name: "Echo", Version: "4.13.4"}},
		})
		assert.InDelta(t, 1.0, res.Raw, 1e-12)
		assert.Equal(t, 3, res.Declared)
		assert.Equal(t, []string{"internal/api/server.go"}, res.Paths)
		assert.Equal(t, []string{"go"}, res.Languages)
		assert.Equal(t, []string{"echo"}, res.Frameworks)
	})

	t.Run("version outside range drops framework facet", func(t *testing.T) {
		res := m.Match(full, &pattern.Signals{
			Languages:  []string{"go"},
			Frameworks: []pattern.FrameworkSignal{{Name: "echo", Version: "3.3.10"}},
		})
		assert.InDelta(t, LanguageWeight, res.Raw, 1e-12)
		assert.Empty(t, res.Frameworks)
	})

	t.Run("unknown task version still matches by name", func(t *testing.T) {
		res := m.Match(full, &pattern.Signals{
			Frameworks: []pattern.FrameworkSignal{{Name: "echo"}},
		})
		assert.InDelta(t, FrameworkWeight, res.Raw, 1e-12)
	})

	t.Run("renormalizes over declared facets", func(t *testing.T) {
		langOnly := pattern.Scope{Languages: []string{"python"}}
		res := m.Match(langOnly, &pattern.Signals{Languages: []string{"Python"}})
		assert.InDelta(t, 1.0, res.Raw, 1e-12)
		assert.Equal(t, 1, res.Declared)

		pathsAndLangs := pattern.Scope{Paths: []string{"src"}, Languages: []string{"python"}}
		res = m.Match(pathsAndLangs, &pattern.Signals{Languages: []string{"python"}, Paths: []string{"lib/x.py"}})
		assert.InDelta(t, LanguageWeight/(LanguageWeight+PathWeight), res.Raw, 1e-12)
	})

	t.Run("global pattern scores zero", func(t *testing.T) {
		res := m.Match(pattern.Scope{}, &pattern.Signals{Languages: []string{"go"}})
		assert.Zero(t, res.Raw)
		assert.Zero(t, res.Declared)
	})

	t.Run("empty signals score zero", func(t *testing.T) {
		assert.Zero(t, m.Match(full, nil).Raw)
		assert.Zero(t, m.Match(full, &pattern.Signals{}).Raw)
	})
}

type countingChecker struct{ calls int }

func (c *countingChecker) Satisfies(version, constraint string) bool {
	c.calls++
	return true
}

func TestMatcher_CustomVersionChecker(t *testing.T) {
	cc := &countingChecker{}
	m := NewMatcher(WithVersionChecker(cc))
	res := m.Match(
		pattern.Scope{Frameworks: []pattern.FrameworkScope{{Name: "react", VersionRange: "anything"}}},
		&pattern.Signals{Frameworks: []pattern.FrameworkSignal{{Name: "react", Version: "18.2.0"}}},
	)
	assert.InDelta(t, 1.0, res.Raw, 1e-12)
	assert.Equal(t, 1, cc.calls)
}
