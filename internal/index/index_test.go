package index

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func samplePatterns() []pattern.Meta {
	return []pattern.Meta{
		{
			ID:    "go-errors",
			Type:  pattern.TypeLanguageConvention,
			Scope: pattern.Scope{Languages: []string{"Go"}},
			Metadata: &pattern.Metadata{
				Repo: "fyrsmithlabs/patternd", Org: "fyrsmithlabs",
				Tags: []string{"errors", "Errors"}, TaskTypes: []string{"implement"},
			},
		},
		{
			ID:    "no-panic",
			Type:  pattern.TypeAntiPattern,
			Scope: pattern.Scope{Languages: []string{"go"}, Frameworks: []pattern.FrameworkScope{{Name: "echo"}}},
		},
		{
			ID:   "global-policy",
			Type: pattern.TypePolicy,
		},
	}
}

func TestBuild(t *testing.T) {
	idx := Build(samplePatterns())

	require.Equal(t, 3, idx.Len())
	assert.Zero(t, idx.Duplicates)
	for i, p := range idx.Patterns {
		assert.Equal(t, i, idx.IDToIndex[p.ID])
	}

	assert.Equal(t, []int{0, 1}, idx.Positions(FacetLanguage, "GO"))
	assert.Equal(t, []int{1}, idx.Positions(FacetFramework, "echo"))
	assert.Equal(t, []int{0}, idx.Positions(FacetTag, "errors"), "same tag twice indexes once")
	assert.Equal(t, []int{0}, idx.Positions(FacetTaskType, "implement"))
	assert.Equal(t, []int{0}, idx.Positions(FacetRepo, "fyrsmithlabs/patternd"))
	assert.Equal(t, []int{0}, idx.Positions(FacetOrg, "FyrsmithLabs"))
	assert.Equal(t, []int{2}, idx.Positions(FacetType, string(pattern.TypePolicy)))
	assert.Nil(t, idx.Positions(FacetRepo, ""))
	assert.Equal(t, 1, idx.Values(FacetRepo))

	policies := idx.ByType(pattern.TypePolicy)
	require.Len(t, policies, 1)
	assert.Equal(t, "global-policy", policies[0].ID)
}

func TestBuild_DuplicateLastWins(t *testing.T) {
	patterns := []pattern.Meta{
		{ID: "a", Type: pattern.TypeReusable, Title: "first"},
		{ID: "b", Type: pattern.TypeReusable},
		{ID: "a", Type: pattern.TypeMigration, Title: "second"},
	}
	idx := Build(patterns)

	require.Equal(t, 2, idx.Len())
	assert.Equal(t, 1, idx.Duplicates)
	assert.Equal(t, []string{"b", "a"}, []string{idx.Patterns[0].ID, idx.Patterns[1].ID})

	got, ok := idx.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, []int{0}, idx.Positions(FacetType, string(pattern.TypeReusable)))
	assert.Equal(t, []int{1}, idx.Positions(FacetType, string(pattern.TypeMigration)))
}

func TestBuild_Empty(t *testing.T) {
	idx := Build(nil)
	assert.Zero(t, idx.Len())
	cands, excluded := idx.Candidates(nil)
	assert.Empty(t, cands)
	assert.Zero(t, excluded)
}

func TestBuild_VersionIsContentHash(t *testing.T) {
	a := Build(samplePatterns())
	b := Build(samplePatterns())
	assert.Equal(t, a.Version, b.Version)

	changed := samplePatterns()
	alpha, beta := 9.0, 1.0
	changed[1].Trust = &pattern.TrustSnapshot{Alpha: &alpha, Beta: &beta}
	assert.NotEqual(t, a.Version, Build(changed).Version)
}

func TestBuild_VersionTracksEveryEdit(t *testing.T) {
	base := func() pattern.Meta {
		alpha, beta := 3.0, 1.0
		return pattern.Meta{
			ID:      "p",
			Type:    pattern.TypeReusable,
			Title:   "Retry",
			Summary: "Retry with backoff",
			Scope: pattern.Scope{
				Paths:      []string{"internal/**"},
				Languages:  []string{"go"},
				Frameworks: []pattern.FrameworkScope{{Name: "echo", VersionRange: "^4"}},
			},
			Trust: &pattern.TrustSnapshot{Alpha: &alpha, Beta: &beta},
			Metadata: &pattern.Metadata{
				LastReviewed: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
				HalfLifeDays: 30,
				Repo:         "acme/api",
				Org:          "acme",
				Tags:         []string{"retry"},
				TaskTypes:    []string{"implement"},
			},
			Snippet:    &pattern.Snippet{Language: "go", Code: "for {}", SourceRef: "retry.go", SnippetID: "s1"},
			PolicyRefs: []string{"pol"},
			AntiRefs:   []string{"anti"},
			TestRefs:   []string{"test"},
		}
	}
	version := func(p pattern.Meta) uint64 { return Build([]pattern.Meta{p}).Version }
	want := version(base())
	require.Equal(t, want, version(base()))

	edits := []struct {
		name string
		edit func(*pattern.Meta)
	}{
		{"title", func(p *pattern.Meta) { p.Title = "Backoff" }},
		{"summary", func(p *pattern.Meta) { p.Summary = "" }},
		{"path moved to languages", func(p *pattern.Meta) {
			p.Scope.Paths = nil
			p.Scope.Languages = []string{"internal/**", "go"}
		}},
		{"list boundary", func(p *pattern.Meta) {
			p.Scope.Paths = []string{"internal/**", "go"}
			p.Scope.Languages = nil
		}},
		{"framework range", func(p *pattern.Meta) { p.Scope.Frameworks[0].VersionRange = "^5" }},
		{"trust score", func(p *pattern.Meta) { s := 0.9; p.Trust.Score = &s }},
		{"task types", func(p *pattern.Meta) { p.Metadata.TaskTypes = []string{"fix"} }},
		{"tags", func(p *pattern.Meta) { p.Metadata.Tags = append(p.Metadata.Tags, "backoff") }},
		{"task type moved to tags", func(p *pattern.Meta) {
			p.Metadata.Tags = []string{"retry", "implement"}
			p.Metadata.TaskTypes = nil
		}},
		{"sub-second review", func(p *pattern.Meta) {
			p.Metadata.LastReviewed = p.Metadata.LastReviewed.Add(time.Millisecond)
		}},
		{"half life", func(p *pattern.Meta) { p.Metadata.HalfLifeDays = 60 }},
		{"org", func(p *pattern.Meta) { p.Metadata.Org = "other" }},
		{"snippet language", func(p *pattern.Meta) { p.Snippet.Language = "rust" }},
		{"snippet source", func(p *pattern.Meta) { p.Snippet.SourceRef = "backoff.go" }},
		{"snippet code", func(p *pattern.Meta) { p.Snippet.Code = "for { break }" }},
		{"no snippet", func(p *pattern.Meta) { p.Snippet = nil }},
		{"no metadata", func(p *pattern.Meta) { p.Metadata = nil }},
		{"ref moved", func(p *pattern.Meta) {
			p.PolicyRefs = nil
			p.AntiRefs = []string{"pol", "anti"}
		}},
		{"test refs", func(p *pattern.Meta) { p.TestRefs = nil }},
	}
	for _, tc := range edits {
		t.Run(tc.name, func(t *testing.T) {
			p := base()
			tc.edit(&p)
			assert.NotEqual(t, want, version(p))
		})
	}
}

func TestCandidates_ExcludesFailed(t *testing.T) {
	idx := Build(samplePatterns())

	all, excluded := idx.Candidates(&pattern.Signals{})
	assert.Equal(t, []int{0, 1, 2}, all)
	assert.Zero(t, excluded)

	some, excluded := idx.Candidates(&pattern.Signals{FailedPatterns: []string{"no-panic", "unknown"}})
	assert.Equal(t, []int{0, 2}, some)
	assert.Equal(t, 1, excluded)
}

func TestStore_CopyAndPublish(t *testing.T) {
	s := NewStore(nil)
	assert.Nil(t, s.Current())

	first := Build(samplePatterns())
	assert.Nil(t, s.Publish(first))

	held := s.Current()
	second := Build(samplePatterns()[:1])

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cur := s.Current()
			assert.NotNil(t, cur)
			assert.Equal(t, len(cur.Patterns), len(cur.IDToIndex))
		}()
	}
	prev := s.Publish(second)
	wg.Wait()

	assert.Same(t, first, prev)
	assert.Equal(t, 3, held.Len(), "readers keep the index they loaded")
	assert.Equal(t, 1, s.Current().Len())
}
