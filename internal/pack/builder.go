// Package pack assembles ranked patterns into a byte-budgeted pattern pack.
//
// Assembly is a deterministic greedy fill. Items are offered in priority
// order (candidates, anti-patterns, policies, tests). A first pass honours
// the section quotas; a second pass offers the leftover budget to everything
// the quotas held back. An item that does not fit has its snippet shortened
// one line at a time down to the minimum, then dropped, and is skipped when
// even its summary does not fit.
//
// The budget covers the JSON encoding of the four sections. When no item fits
// at all, the first one is emitted anyway and the pack is marked with
// pattern.TrimmedMinimalOver.
package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
)

type section int

const (
	sectionCandidates section = iota
	sectionAnti
	sectionPolicies
	sectionTests
)

// minItemBytes is the size of the smallest encodable item, {"id":"","summary":""}.
const minItemBytes = 22

// Builder assembles packs. It is safe for concurrent use.
type Builder struct {
	scrubber *secrets.Scrubber
	logger   *zap.Logger
	metrics  *Metrics
}

// Option configures a Builder.
type Option func(*Builder)

// WithScrubber redacts snippet code before it is measured.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(b *Builder) {
		b.scrubber = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// NewBuilder creates a pack builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles a pack from in. Invalid options return a
// *pattern.ConfigError; an empty input yields an empty pack.
func (b *Builder) Build(ctx context.Context, in Input, opts Options) (*pattern.Pack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := Tracer().Start(ctx, "pack.Build")
	defer span.End()

	p := split(in)
	s, err := newState(in.Task, opts, b.scrubber)
	if err != nil {
		return nil, err
	}
	s.pack.Meta.TotalRanked = len(in.Ranked)

	if err := s.fill(p); err != nil {
		return nil, err
	}

	if s.included() == 0 {
		if err := s.emitMinimal(p); err != nil {
			return nil, err
		}
	}

	if err := s.finish(); err != nil {
		return nil, err
	}

	meta := s.pack.Meta
	span.SetAttributes(
		attribute.Int("pack.bytes", meta.Bytes),
		attribute.Int("pack.budget_bytes", meta.BudgetBytes),
		attribute.Int("pack.included", meta.Included),
		attribute.String("pack.trimmed_reason", meta.TrimmedReason),
	)
	b.metrics.RecordPack(ctx, meta)

	b.logger.Debug("pack assembled",
		zap.String("task", in.Task),
		zap.Int("included", meta.Included),
		zap.Int("considered", meta.Considered),
		zap.Int("bytes", meta.Bytes),
		zap.Int("budget_bytes", meta.BudgetBytes),
		zap.String("trimmed_reason", meta.TrimmedReason))

	return s.pack, nil
}

type state struct {
	opts     Options
	scrubber *secrets.Scrubber
	pack     *pattern.Pack
	explain  map[string]any

	total      int
	considered int
	trimmed    bool
	minimal    bool
	reasons    []string
}

func newState(task string, opts Options, scrubber *secrets.Scrubber) (*state, error) {
	s := &state{
		opts:     opts,
		scrubber: scrubber,
		pack:     pattern.NewEmptyPack(task, opts.BudgetBytes),
	}
	base, err := json.Marshal(s.pack.Sections())
	if err != nil {
		return nil, fmt.Errorf("measuring empty pack: %w", err)
	}
	s.total = len(base)
	if opts.Debug {
		s.explain = map[string]any{}
	}
	return s, nil
}

func (s *state) included() int {
	pk := s.pack
	return len(pk.Candidates) + len(pk.AntiPatterns) + len(pk.Policies) + len(pk.Tests)
}

func (s *state) sectionLen(sec section) int {
	switch sec {
	case sectionCandidates:
		return len(s.pack.Candidates)
	case sectionAnti:
		return len(s.pack.AntiPatterns)
	case sectionPolicies:
		return len(s.pack.Policies)
	default:
		return len(s.pack.Tests)
	}
}

// cost is the number of bytes adding an encoded item to sec adds to the
// total, including the separating comma.
func (s *state) cost(sec section, encoded int) int {
	if s.sectionLen(sec) > 0 {
		return encoded + 1
	}
	return encoded
}

func (s *state) saturated() bool {
	return s.total+minItemBytes > s.opts.BudgetBytes
}

// fill runs the quota pass and then the leftover pass.
func (s *state) fill(p pools) error {
	q := s.opts.Quotas

	var deferredCands []candidate
	top, fixes := 0, 0
	for _, c := range p.candidates {
		isFix := c.meta.Type == pattern.TypeFailureFix
		if top >= q.TopCandidates || (isFix && fixes >= q.FailureFixes) {
			deferredCands = append(deferredCands, c)
			continue
		}
		ok, err := s.tryCandidate(c)
		if err != nil {
			return err
		}
		if ok {
			top++
			if isFix {
				fixes++
			}
		}
	}

	deferredAnti, err := s.fillRefs(sectionAnti, p.anti, q.AntiPatterns)
	if err != nil {
		return err
	}
	deferredPolicies, err := s.fillRefs(sectionPolicies, p.policies, q.Policies)
	if err != nil {
		return err
	}
	deferredTests, err := s.fillRefs(sectionTests, p.tests, q.Tests)
	if err != nil {
		return err
	}

	for _, c := range deferredCands {
		if _, err := s.tryCandidate(c); err != nil {
			return err
		}
	}
	for _, r := range []struct {
		sec   section
		items []*pattern.Meta
	}{
		{sectionAnti, deferredAnti},
		{sectionPolicies, deferredPolicies},
		{sectionTests, deferredTests},
	} {
		if _, err := s.fillRefs(r.sec, r.items, len(r.items)); err != nil {
			return err
		}
	}
	return nil
}

// fillRefs offers items to sec until quota items are included and returns
// the items it did not offer.
func (s *state) fillRefs(sec section, items []*pattern.Meta, quota int) ([]*pattern.Meta, error) {
	included := 0
	for i, m := range items {
		if included >= quota {
			return items[i:], nil
		}
		ok, err := s.tryRef(sec, m)
		if err != nil {
			return nil, err
		}
		if ok {
			included++
		}
	}
	return nil, nil
}

func (s *state) skip(id string) {
	s.trimmed = true
	s.reasons = append(s.reasons, "skipped_over_budget:"+id)
}

func (s *state) tryCandidate(c candidate) (bool, error) {
	if s.saturated() {
		s.trimmed = true
		return false, nil
	}
	s.considered++

	item := pattern.Candidate{
		ID:         c.meta.ID,
		Type:       c.meta.Type,
		Title:      c.meta.Title,
		Score:      c.score,
		Summary:    summaryOf(c.meta),
		PolicyRefs: c.meta.PolicyRefs,
		AntiRefs:   c.meta.AntiRefs,
		TestRefs:   c.meta.TestRefs,
	}

	snip := c.meta.Snippet
	if snip != nil && strings.TrimSpace(snip.Code) != "" && s.opts.InitialSnippetLines > 0 {
		code := snip.Code
		redacted := s.scrubber.Scrub(code)
		if redacted.Redacted() {
			code = redacted.Text
		}
		lines := splitLines(code)

		start := min(s.opts.InitialSnippetLines, len(lines))
		floor := max(min(s.opts.MinSnippetLines, start), 1)
		for n := start; n >= floor; n-- {
			withSnippet := item
			withSnippet.Snippet = &pattern.Snippet{
				Language:  snip.Language,
				Code:      strings.Join(lines[:n], "\n"),
				SourceRef: snip.SourceRef,
				SnippetID: snip.SnippetID,
			}
			ok, err := s.add(sectionCandidates, withSnippet)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			if n < start {
				s.trimmed = true
				s.reasons = append(s.reasons, fmt.Sprintf("snippet_truncated:%s:%d", item.ID, n))
			}
			if redacted.Redacted() {
				s.reasons = append(s.reasons, "snippet_redacted:"+item.ID)
			}
			s.explainFor(c)
			return true, nil
		}

		ok, err := s.add(sectionCandidates, item)
		if err != nil {
			return false, err
		}
		if ok {
			s.trimmed = true
			s.reasons = append(s.reasons, "snippet_dropped:"+item.ID)
			s.explainFor(c)
			return true, nil
		}
		s.skip(item.ID)
		return false, nil
	}

	ok, err := s.add(sectionCandidates, item)
	if err != nil {
		return false, err
	}
	if ok {
		s.explainFor(c)
		return true, nil
	}
	s.skip(item.ID)
	return false, nil
}

func (s *state) tryRef(sec section, m *pattern.Meta) (bool, error) {
	if s.saturated() {
		s.trimmed = true
		return false, nil
	}
	s.considered++

	ok, err := s.add(sec, pattern.Ref{ID: m.ID, Summary: summaryOf(m)})
	if err != nil {
		return false, err
	}
	if !ok {
		s.skip(m.ID)
	}
	return ok, nil
}

// add appends item to sec when it fits the budget.
func (s *state) add(sec section, item any) (bool, error) {
	encoded, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("measuring pack item: %w", err)
	}
	cost := s.cost(sec, len(encoded))
	if s.total+cost > s.opts.BudgetBytes {
		return false, nil
	}
	s.append(sec, item)
	s.total += cost
	return true, nil
}

func (s *state) append(sec section, item any) {
	switch sec {
	case sectionCandidates:
		s.pack.Candidates = append(s.pack.Candidates, item.(pattern.Candidate))
	case sectionAnti:
		s.pack.AntiPatterns = append(s.pack.AntiPatterns, item.(pattern.Ref))
	case sectionPolicies:
		s.pack.Policies = append(s.pack.Policies, item.(pattern.Ref))
	case sectionTests:
		s.pack.Tests = append(s.pack.Tests, item.(pattern.Ref))
	}
}

func (s *state) explainFor(c candidate) {
	if s.explain != nil {
		s.explain[c.meta.ID] = c.explain
	}
}

// emitMinimal places the first item, summary only, regardless of budget.
func (s *state) emitMinimal(p pools) error {
	var (
		sec  section
		item any
	)
	switch {
	case len(p.candidates) > 0:
		c := p.candidates[0]
		sec = sectionCandidates
		item = pattern.Candidate{
			ID:      c.meta.ID,
			Type:    c.meta.Type,
			Title:   c.meta.Title,
			Score:   c.score,
			Summary: summaryOf(c.meta),
		}
		s.explainFor(c)
	case len(p.anti) > 0:
		sec, item = sectionAnti, pattern.Ref{ID: p.anti[0].ID, Summary: summaryOf(p.anti[0])}
	case len(p.policies) > 0:
		sec, item = sectionPolicies, pattern.Ref{ID: p.policies[0].ID, Summary: summaryOf(p.policies[0])}
	case len(p.tests) > 0:
		sec, item = sectionTests, pattern.Ref{ID: p.tests[0].ID, Summary: summaryOf(p.tests[0])}
	default:
		return nil
	}

	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("measuring pack item: %w", err)
	}
	s.total += s.cost(sec, len(encoded))
	s.append(sec, item)
	s.minimal = true
	return nil
}

// finish fills in the pack metadata.
func (s *state) finish() error {
	encoded, err := json.Marshal(s.pack.Sections())
	if err != nil {
		return fmt.Errorf("measuring pack: %w", err)
	}

	meta := &s.pack.Meta
	meta.Considered = s.considered
	meta.Included = s.included()
	meta.Bytes = len(encoded)
	meta.BudgetBytes = s.opts.BudgetBytes
	switch {
	case s.minimal:
		meta.TrimmedReason = pattern.TrimmedMinimalOver
	case s.trimmed:
		meta.TrimmedReason = pattern.TrimmedBudgetExceeded
	}
	if len(s.reasons) > 0 {
		meta.Reasons = s.reasons
	}
	if len(s.explain) > 0 {
		meta.Explain = s.explain
	}
	return nil
}

func summaryOf(m *pattern.Meta) string {
	if m.Summary != "" {
		return m.Summary
	}
	return m.Title
}

// splitLines splits code into lines, ignoring one trailing newline.
func splitLines(code string) []string {
	return strings.Split(strings.TrimSuffix(code, "\n"), "\n")
}
