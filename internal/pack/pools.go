package pack

import (
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/ranking"
)

// Resolver looks up patterns by id. *index.Index satisfies it.
type Resolver interface {
	Lookup(id string) (*pattern.Meta, bool)
}

// Input is what a pack is assembled from.
type Input struct {
	Task     string
	Ranked   []ranking.RankedPattern
	Resolver Resolver

	// Extra pool entries appended after those derived from Ranked.
	AntiPatterns []pattern.Meta
	Policies     []pattern.Meta
	Tests        []pattern.Meta
}

type candidate struct {
	meta    *pattern.Meta
	score   float64
	explain ranking.Breakdown
}

type pools struct {
	candidates []candidate
	anti       []*pattern.Meta
	policies   []*pattern.Meta
	tests      []*pattern.Meta
}

// sectionOf routes a ranked pattern type to its pack section.
func sectionOf(t pattern.Type) section {
	switch t {
	case pattern.TypeAntiPattern:
		return sectionAnti
	case pattern.TypePolicy:
		return sectionPolicies
	case pattern.TypeTestConvention:
		return sectionTests
	default:
		return sectionCandidates
	}
}

// split routes ranked patterns into sections. Anti-pattern, policy and test
// convention patterns fill their own sections; patterns referenced by a
// ranked candidate come first in those sections, in candidate order.
func split(in Input) pools {
	var p pools
	seen := map[string]struct{}{}
	add := func(dst *[]*pattern.Meta, m *pattern.Meta) {
		if m == nil {
			return
		}
		if _, dup := seen[m.ID]; dup {
			return
		}
		seen[m.ID] = struct{}{}
		*dst = append(*dst, m)
	}
	resolve := func(id string) *pattern.Meta {
		if in.Resolver == nil {
			return nil
		}
		m, ok := in.Resolver.Lookup(id)
		if !ok {
			return nil
		}
		return m
	}

	var pooled []*pattern.Meta
	for _, rp := range in.Ranked {
		m := resolve(rp.ID)
		if m == nil {
			continue
		}
		if sectionOf(m.Type) != sectionCandidates {
			pooled = append(pooled, m)
			continue
		}
		seen[m.ID] = struct{}{}
		p.candidates = append(p.candidates, candidate{meta: m, score: rp.Score, explain: rp.Explain})
	}

	for _, c := range p.candidates {
		for _, id := range c.meta.AntiRefs {
			add(&p.anti, resolve(id))
		}
		for _, id := range c.meta.PolicyRefs {
			add(&p.policies, resolve(id))
		}
		for _, id := range c.meta.TestRefs {
			add(&p.tests, resolve(id))
		}
	}

	for _, m := range pooled {
		switch sectionOf(m.Type) {
		case sectionAnti:
			add(&p.anti, m)
		case sectionPolicies:
			add(&p.policies, m)
		case sectionTests:
			add(&p.tests, m)
		}
	}

	for i := range in.AntiPatterns {
		add(&p.anti, &in.AntiPatterns[i])
	}
	for i := range in.Policies {
		add(&p.policies, &in.Policies[i])
	}
	for i := range in.Tests {
		add(&p.tests, &in.Tests[i])
	}
	return p
}
