package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/patternd/internal/cache"
	"github.com/fyrsmithlabs/patternd/internal/pack"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/ranking"
	"github.com/fyrsmithlabs/patternd/internal/trust"
)

var refTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func withTrust(alpha, beta float64) *pattern.TrustSnapshot {
	return &pattern.TrustSnapshot{Alpha: f64(alpha), Beta: f64(beta)}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	model, err := trust.NewModel(context.Background(), trust.NewMemoryStore())
	require.NoError(t, err)

	c := cache.New[[]ranking.RankedPattern](cache.DefaultConfig(), cache.NewMetricsWithRegistry(prometheus.NewRegistry()))
	base := []Option{
		WithClock(func() time.Time { return refTime }),
		WithCache(c),
		WithLogger(zaptest.NewLogger(t)),
	}
	e, err := New(model, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func snippet(lines int) *pattern.Snippet {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "line %02d of the example\n", i)
	}
	return &pattern.Snippet{Language: "go", Code: b.String(), SourceRef: "ref", SnippetID: "s"}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	model, err := trust.NewModel(context.Background(), trust.NewMemoryStore())
	require.NoError(t, err)

	cfg := ranking.DefaultConfig()
	cfg.CandidateCap = 0
	_, err = New(model, WithRankingConfig(cfg))
	assert.ErrorIs(t, err, pattern.ErrConfiguration)

	opts := pack.DefaultOptions()
	opts.BudgetBytes = 10
	_, err = New(model, WithPackOptions(opts))
	assert.ErrorIs(t, err, pattern.ErrConfiguration)
}

func TestEngine_NoSnapshot(t *testing.T) {
	e := newTestEngine(t)
	assert.Nil(t, e.Current())

	_, _, err := e.Rank(context.Background(), RankRequest{})
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = e.Recommend(context.Background(), RecommendRequest{Task: "t"})
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestEngine_Publish(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	stats, err := e.Publish(ctx, []pattern.Meta{
		{ID: "a", Type: pattern.TypeReusable, Trust: withTrust(2, 1)},
		{ID: "", Type: pattern.TypeReusable},
		{ID: "b", Type: "mystery"},
		{ID: "a", Type: pattern.TypeFailureFix, Trust: withTrust(3, 1)},
		{ID: "c", Type: pattern.TypePolicy},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.Seeded)
	assert.True(t, stats.Changed)

	idx := e.Current()
	require.NotNil(t, idx)
	a, ok := idx.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, pattern.TypeFailureFix, a.Type)

	alpha, beta, ok := e.Trust().Params("a")
	require.True(t, ok)
	assert.Equal(t, 3.0, alpha)
	assert.Equal(t, 1.0, beta)

	again, err := e.Publish(ctx, []pattern.Meta{
		{ID: "a", Type: pattern.TypeFailureFix, Trust: withTrust(3, 1)},
		{ID: "c", Type: pattern.TypePolicy},
	})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, 0, again.Seeded)
}

func TestEngine_RepublishRefreshesRanking(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sig := &pattern.Signals{TaskIntent: &pattern.TaskIntent{Type: "fix", Confidence: 1}}

	_, err := e.Publish(ctx, []pattern.Meta{
		{ID: "a", Type: pattern.TypeReusable},
		{ID: "b", Type: pattern.TypeReusable},
	})
	require.NoError(t, err)

	before, _, err := e.Rank(ctx, RankRequest{Signals: sig})
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, "a", before[0].ID)
	assert.Equal(t, before[0].Score, before[1].Score)

	_, stats, err := e.Rank(ctx, RankRequest{Signals: sig})
	require.NoError(t, err)
	assert.True(t, stats.CacheHit)

	// b now declares the fix task type and must win the intent nudge.
	republished, err := e.Publish(ctx, []pattern.Meta{
		{ID: "a", Type: pattern.TypeReusable},
		{ID: "b", Type: pattern.TypeReusable, Metadata: &pattern.Metadata{TaskTypes: []string{"fix"}}},
	})
	require.NoError(t, err)
	assert.True(t, republished.Changed)

	after, stats, err := e.Rank(ctx, RankRequest{Signals: sig})
	require.NoError(t, err)
	assert.False(t, stats.CacheHit)
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[0].ID)
	assert.Greater(t, after[0].Score, after[1].Score)

	// An identical republish still drops cached rankings.
	same, err := e.Publish(ctx, []pattern.Meta{
		{ID: "a", Type: pattern.TypeReusable},
		{ID: "b", Type: pattern.TypeReusable, Metadata: &pattern.Metadata{TaskTypes: []string{"fix"}}},
	})
	require.NoError(t, err)
	assert.False(t, same.Changed)

	again, stats, err := e.Rank(ctx, RankRequest{Signals: sig})
	require.NoError(t, err)
	assert.False(t, stats.CacheHit)
	assert.Equal(t, after, again)
}

func TestEngine_RecommendSurvivesInvalidTrust(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	stats, err := e.Publish(ctx, []pattern.Meta{
		{ID: "broken", Type: pattern.TypeReusable, Trust: withTrust(-1, 3), Snippet: snippet(2)},
		{ID: "ok", Type: pattern.TypeReusable, Trust: withTrust(5, 2), Snippet: snippet(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.Seeded)

	p, err := e.Recommend(ctx, RecommendRequest{Task: "bad data", Signals: &pattern.Signals{}})
	require.NoError(t, err)
	require.NotEmpty(t, p.Candidates)
	assert.Equal(t, "ok", p.Candidates[0].ID)
	assert.Equal(t, 2, p.Meta.TotalRanked)

	_, err = json.Marshal(p)
	require.NoError(t, err)
}

func TestEngine_PublishCancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Publish(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, e.Current())
}

func TestEngine_EmptySnapshotYieldsEmptyPack(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Publish(context.Background(), nil)
	require.NoError(t, err)

	p, err := e.Recommend(context.Background(), RecommendRequest{Task: "empty"})
	require.NoError(t, err)
	assert.Empty(t, p.Candidates)
	assert.Equal(t, 0, p.Meta.TotalRanked)
	assert.Empty(t, p.Meta.TrimmedReason)
}

func TestEngine_WellSampledTrustWins(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Publish(context.Background(), []pattern.Meta{
		{ID: "A", Type: pattern.TypeReusable, Trust: withTrust(1, 1)},
		{ID: "B", Type: pattern.TypeReusable, Trust: withTrust(90, 10)},
	})
	require.NoError(t, err)

	ranked, _, err := e.Rank(context.Background(), RankRequest{Signals: &pattern.Signals{}})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "B", ranked[0].ID)
	assert.Greater(t, ranked[0].Explain.Trust.Raw, ranked[1].Explain.Trust.Raw)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestEngine_RecordOutcomeAffectsNextRanking(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Publish(ctx, []pattern.Meta{
		{ID: "p", Type: pattern.TypeReusable, Trust: withTrust(5, 2)},
	})
	require.NoError(t, err)

	before, stats, err := e.Rank(ctx, RankRequest{})
	require.NoError(t, err)
	assert.False(t, stats.CacheHit)
	_, stats, err = e.Rank(ctx, RankRequest{})
	require.NoError(t, err)
	assert.True(t, stats.CacheHit)

	st, err := e.RecordOutcome(ctx, trust.Event{PatternID: "p", Outcome: trust.OutcomeWorkedPerfectly})
	require.NoError(t, err)
	assert.Equal(t, trust.State{Alpha: 6, Beta: 2}, st)

	after, stats, err := e.Rank(ctx, RankRequest{})
	require.NoError(t, err)
	assert.False(t, stats.CacheHit)
	require.Len(t, after, 1)
	assert.Equal(t, ranking.TrustSourceLive, after[0].Explain.TrustSource)
	assert.Equal(t, 6.0, after[0].Explain.Alpha)
	assert.Greater(t, after[0].Score, before[0].Score)

	st, err = e.RecordOutcome(ctx, trust.Event{PatternID: "p", Outcome: trust.OutcomeFailedCompletely})
	require.NoError(t, err)
	assert.Equal(t, trust.State{Alpha: 6, Beta: 3}, st)

	// Republishing the same snapshot keeps live state.
	_, err = e.Publish(ctx, []pattern.Meta{
		{ID: "p", Type: pattern.TypeReusable, Trust: withTrust(5, 2)},
	})
	require.NoError(t, err)
	alpha, beta, ok := e.Trust().Params("p")
	require.True(t, ok)
	assert.Equal(t, 6.0, alpha)
	assert.Equal(t, 3.0, beta)
}

func TestEngine_RecordOutcomeRejectsBadEvents(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RecordOutcome(context.Background(), trust.Event{PatternID: "p", Outcome: "meh"})
	assert.ErrorIs(t, err, trust.ErrUnknownOutcome)
	_, err = e.RecordOutcome(context.Background(), trust.Event{Outcome: trust.OutcomeWorkedPerfectly})
	assert.ErrorIs(t, err, trust.ErrEmptyPatternID)
}

func corpus(n int) []pattern.Meta {
	out := make([]pattern.Meta, 0, n)
	for i := 0; i < n; i++ {
		m := pattern.Meta{
			ID:      fmt.Sprintf("p-%03d", i),
			Type:    pattern.Types[i%len(pattern.Types)],
			Summary: fmt.Sprintf("pattern number %d", i),
			Trust:   withTrust(float64(i%17), float64(i%5)),
			Scope: pattern.Scope{
				Languages: []string{[]string{"go", "python", "rust"}[i%3]},
			},
			Metadata: &pattern.Metadata{
				LastReviewed: refTime.AddDate(0, 0, -i),
				Repo:         []string{"acme/api", "acme/web"}[i%2],
				Org:          "acme",
			},
			Snippet: snippet(10 + i%20),
		}
		if i%7 == 0 {
			m.Scope.Paths = []string{"internal/**"}
		}
		out = append(out, m)
	}
	return out
}

func TestEngine_RecommendIsDeterministic(t *testing.T) {
	sig := &pattern.Signals{
		Paths:     []string{"internal/engine/engine.go"},
		Languages: []string{"go"},
		Repo:      "acme/api",
		Org:       "acme",
	}
	req := RecommendRequest{Task: "add retries", Signals: sig}

	var encoded [][]byte
	for i := 0; i < 2; i++ {
		e := newTestEngine(t)
		_, err := e.Publish(context.Background(), corpus(200))
		require.NoError(t, err)

		for j := 0; j < 2; j++ {
			p, err := e.Recommend(context.Background(), req)
			require.NoError(t, err)
			data, err := json.Marshal(p)
			require.NoError(t, err)
			encoded = append(encoded, data)
		}
	}
	for i := 1; i < len(encoded); i++ {
		assert.Equal(t, string(encoded[0]), string(encoded[i]))
	}
}

func TestEngine_RecommendStaysWithinBudget(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Publish(context.Background(), corpus(300))
	require.NoError(t, err)

	p, err := e.Recommend(context.Background(), RecommendRequest{
		Task:    "budget",
		Signals: &pattern.Signals{Languages: []string{"go"}},
	})
	require.NoError(t, err)

	data, err := json.Marshal(p.Sections())
	require.NoError(t, err)
	assert.Equal(t, len(data), p.Meta.Bytes)
	assert.LessOrEqual(t, p.Meta.Bytes, pack.DefaultBudgetBytes)
	assert.NotEmpty(t, p.Candidates)
	assert.Equal(t, pattern.TrimmedBudgetExceeded, p.Meta.TrimmedReason)
}

func TestEngine_RecommendOptionOverrides(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Publish(context.Background(), corpus(20))
	require.NoError(t, err)

	bad := pack.DefaultOptions()
	bad.BudgetBytes = 1
	_, err = e.Recommend(context.Background(), RecommendRequest{Options: &bad})
	assert.ErrorIs(t, err, pattern.ErrConfiguration)

	cfg := ranking.DefaultConfig()
	cfg.CandidateCap = 2
	opts := pack.DefaultOptions()
	opts.Debug = true
	p, err := e.Recommend(context.Background(), RecommendRequest{Config: &cfg, Options: &opts})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Meta.TotalRanked)
	assert.NotEmpty(t, p.Meta.Explain)
}

func TestEngine_WorkflowPhaseImpliesIntent(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Publish(context.Background(), []pattern.Meta{
		{ID: "tc", Type: pattern.TypeTestConvention},
	})
	require.NoError(t, err)

	sig := &pattern.Signals{WorkflowPhase: "validate"}
	ranked, _, err := e.Rank(context.Background(), RankRequest{Signals: sig})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "test", ranked[0].Explain.Intent)
	assert.InDelta(t, PhaseIntentConfidence, ranked[0].Explain.Policy.Raw, 1e-9)
	assert.Nil(t, sig.TaskIntent)

	// A classified intent wins over the phase.
	sig = &pattern.Signals{
		WorkflowPhase: "validate",
		TaskIntent:    &pattern.TaskIntent{Type: "migrate", Confidence: 0.9},
	}
	ranked, _, err = e.Rank(context.Background(), RankRequest{Signals: sig})
	require.NoError(t, err)
	assert.Empty(t, ranked[0].Explain.Intent)

	// Unknown phases are ignored.
	ranked, _, err = e.Rank(context.Background(), RankRequest{Signals: &pattern.Signals{WorkflowPhase: "deploy"}})
	require.NoError(t, err)
	assert.Zero(t, ranked[0].Explain.Policy.Raw)
}
