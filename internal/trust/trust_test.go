package trust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func f64(v float64) *float64 { return &v }

func newTestModel(t *testing.T, seed map[string]State) *Model {
	t.Helper()
	store := NewMemoryStore()
	for id, st := range seed {
		require.NoError(t, store.Save(context.Background(), id, st))
	}
	m, err := NewModel(context.Background(), store, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return m
}

func TestWilsonLowerBound_Bounds(t *testing.T) {
	cases := []struct{ alpha, beta float64 }{
		{0, 0}, {1, 0}, {0, 1}, {1, 1}, {5, 2}, {90, 10}, {0.3, 0.7}, {1000, 1}, {1, 1000},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v_%v", tc.alpha, tc.beta), func(t *testing.T) {
			w := WilsonLowerBound(tc.alpha, tc.beta, DefaultZ)
			assert.GreaterOrEqual(t, w, 0.0)
			assert.LessOrEqual(t, w, 1.0)
			assert.LessOrEqual(t, w, Mean(tc.alpha, tc.beta)+1e-12)
		})
	}
}

func TestWilsonLowerBound_NoObservationsIsNeutral(t *testing.T) {
	assert.Equal(t, NeutralScore, WilsonLowerBound(0, 0, DefaultZ))
	assert.Equal(t, NeutralScore, Mean(0, 0))
}

func TestWilsonLowerBound_MoreEvidenceTightens(t *testing.T) {
	// Same mean, more observations: the lower bound rises toward the mean.
	small := WilsonLowerBound(9, 1, DefaultZ)
	large := WilsonLowerBound(90, 10, DefaultZ)
	assert.Greater(t, large, small)
	assert.InDelta(t, 0.8256, large, 0.001)
}

func TestWilsonLowerBound_NonPositiveZUsesDefault(t *testing.T) {
	assert.Equal(t, WilsonLowerBound(5, 2, DefaultZ), WilsonLowerBound(5, 2, 0))
}

func TestWilsonLowerBound_InvalidParamsAreNeutral(t *testing.T) {
	cases := []struct {
		name        string
		alpha, beta float64
	}{
		{"negative alpha", -1, 3},
		{"negative beta", 3, -1},
		{"nan alpha", math.NaN(), 2},
		{"nan beta", 2, math.NaN()},
		{"inf alpha", math.Inf(1), 2},
		{"inf beta", 2, math.Inf(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, Valid(tc.alpha, tc.beta))
			assert.Equal(t, NeutralScore, WilsonLowerBound(tc.alpha, tc.beta, DefaultZ))
			assert.Equal(t, NeutralScore, Mean(tc.alpha, tc.beta))
		})
	}
	assert.True(t, Valid(0, 0))
	assert.False(t, math.IsNaN(WilsonLowerBound(5, 2, math.NaN())))
}

func TestWilsonLowerBound_SuccessNeverLowersTrust(t *testing.T) {
	success, err := DeltaFor(OutcomeWorkedPerfectly)
	require.NoError(t, err)
	states := []State{AutoCreatePrior, {0.5, 0.5}, {1, 0}, {0, 1}, {5, 2}, {2, 5}, {9, 2}, {90, 10}, {1, 1000}}
	for _, st := range states {
		t.Run(fmt.Sprintf("%v_%v", st.Alpha, st.Beta), func(t *testing.T) {
			before := WilsonLowerBound(st.Alpha, st.Beta, DefaultZ)
			after := st.Apply(success)
			assert.GreaterOrEqual(t, WilsonLowerBound(after.Alpha, after.Beta, DefaultZ), before)
		})
	}
}

func TestDeltaFor(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    Delta
	}{
		{OutcomeWorkedPerfectly, Delta{1, 0}},
		{OutcomeWorkedWithTweaks, Delta{0.7, 0.3}},
		{OutcomePartialSuccess, Delta{0.5, 0.5}},
		{OutcomeFailedMinorIssues, Delta{0.3, 0.7}},
		{OutcomeFailedCompletely, Delta{0, 1}},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			got, err := DeltaFor(tt.outcome)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, 1.0, got.Alpha+got.Beta, 1e-9)
		})
	}

	_, err := DeltaFor("meh")
	assert.ErrorIs(t, err, ErrUnknownOutcome)
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome(" Worked_With_Tweaks ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeWorkedWithTweaks, o)

	_, err = ParseOutcome("great")
	assert.ErrorIs(t, err, ErrUnknownOutcome)
}

func TestModel_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("worked perfectly increments alpha", func(t *testing.T) {
		m := newTestModel(t, map[string]State{"p": {5, 2}})
		st, err := m.Update(ctx, Event{PatternID: "p", Outcome: OutcomeWorkedPerfectly})
		require.NoError(t, err)
		assert.Equal(t, State{6, 2}, st)
	})

	t.Run("failed completely increments beta", func(t *testing.T) {
		m := newTestModel(t, map[string]State{"p": {5, 2}})
		st, err := m.Update(ctx, Event{PatternID: "p", Outcome: OutcomeFailedCompletely})
		require.NoError(t, err)
		assert.Equal(t, State{5, 3}, st)
	})

	t.Run("unknown id auto-creates with uniform prior", func(t *testing.T) {
		m := newTestModel(t, nil)
		st, err := m.Update(ctx, Event{PatternID: "new", Outcome: OutcomePartialSuccess})
		require.NoError(t, err)
		assert.Equal(t, State{1.5, 1.5}, st)

		got, ok := m.Lookup("new")
		require.True(t, ok)
		assert.Equal(t, st, got)
	})

	t.Run("unknown outcome is rejected without changes", func(t *testing.T) {
		m := newTestModel(t, map[string]State{"p": {5, 2}})
		gen := m.Generation()
		_, err := m.Update(ctx, Event{PatternID: "p", Outcome: "meh"})
		assert.ErrorIs(t, err, ErrUnknownOutcome)
		got, _ := m.Lookup("p")
		assert.Equal(t, State{5, 2}, got)
		assert.Equal(t, gen, m.Generation())
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		m := newTestModel(t, nil)
		_, err := m.Update(ctx, Event{Outcome: OutcomeWorkedPerfectly})
		assert.ErrorIs(t, err, ErrEmptyPatternID)
	})

	t.Run("generation bumps on every update", func(t *testing.T) {
		m := newTestModel(t, nil)
		for i := 0; i < 3; i++ {
			_, err := m.Update(ctx, Event{PatternID: "p", Outcome: OutcomeWorkedPerfectly})
			require.NoError(t, err)
		}
		assert.Equal(t, uint64(3), m.Generation())
	})
}

type failingStore struct{ *MemoryStore }

func (f failingStore) Save(context.Context, string, State) error {
	return errors.New("disk full")
}

func TestModel_UpdateStoreFailureKeepsState(t *testing.T) {
	m, err := NewModel(context.Background(), failingStore{NewMemoryStore()})
	require.NoError(t, err)

	_, err = m.Update(context.Background(), Event{PatternID: "p", Outcome: OutcomeWorkedPerfectly})
	require.Error(t, err)

	_, ok := m.Lookup("p")
	assert.False(t, ok)
	assert.Zero(t, m.Generation())
}

func TestModel_ConcurrentUpdatesAreNotLost(t *testing.T) {
	m := newTestModel(t, nil)
	ctx := context.Background()

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				outcome := OutcomeWorkedPerfectly
				if (w+i)%2 == 0 {
					outcome = OutcomeFailedCompletely
				}
				_, err := m.Update(ctx, Event{PatternID: "shared", Outcome: outcome})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	st, ok := m.Lookup("shared")
	require.True(t, ok)
	// Prior (1,1) plus one full pseudo-count per event.
	assert.InDelta(t, 2+workers*perWorker, st.N(), 1e-9)
	assert.InDelta(t, 1+workers*perWorker/2, st.Alpha, 1e-9)
	assert.Equal(t, uint64(workers*perWorker), m.Generation())
}

func TestModel_ScoreAndParams(t *testing.T) {
	m := newTestModel(t, map[string]State{"p": {90, 10}})

	assert.Equal(t, NeutralScore, m.Score("missing"))
	assert.InDelta(t, WilsonLowerBound(90, 10, DefaultZ), m.Score("p"), 1e-12)

	a, b, ok := m.Params("p")
	assert.True(t, ok)
	assert.Equal(t, 90.0, a)
	assert.Equal(t, 10.0, b)
}

func TestModel_Seed(t *testing.T) {
	m := newTestModel(t, map[string]State{"live": {7, 1}})

	patterns := []pattern.Meta{
		{ID: "live", Type: pattern.TypeReusable, Trust: &pattern.TrustSnapshot{Alpha: f64(1), Beta: f64(9)}},
		{ID: "fresh", Type: pattern.TypeReusable, Trust: &pattern.TrustSnapshot{Alpha: f64(3), Beta: f64(2)}},
		{ID: "scoreonly", Type: pattern.TypeReusable, Trust: &pattern.TrustSnapshot{Score: f64(0.9)}},
		{ID: "negative", Type: pattern.TypeReusable, Trust: &pattern.TrustSnapshot{Alpha: f64(-1), Beta: f64(2)}},
		{ID: "nan", Type: pattern.TypeReusable, Trust: &pattern.TrustSnapshot{Alpha: f64(math.NaN()), Beta: f64(2)}},
		{ID: "inf", Type: pattern.TypeReusable, Trust: &pattern.TrustSnapshot{Alpha: f64(1), Beta: f64(math.Inf(1))}},
		{ID: "none", Type: pattern.TypeReusable},
	}

	n, err := m.Seed(context.Background(), patterns)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live, _ := m.Lookup("live")
	assert.Equal(t, State{7, 1}, live, "live state wins over the snapshot")

	fresh, ok := m.Lookup("fresh")
	require.True(t, ok)
	assert.Equal(t, State{3, 2}, fresh)

	for _, id := range []string{"scoreonly", "negative", "nan", "inf", "none"} {
		_, ok := m.Lookup(id)
		assert.False(t, ok, id)
	}
	assert.Equal(t, []string{"fresh", "live"}, m.IDs())
}

func TestModel_Metrics(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m, err := NewModel(context.Background(), NewMemoryStore(), WithMetrics(metrics))
	require.NoError(t, err)

	_, err = m.Update(context.Background(), Event{PatternID: "p", Outcome: OutcomeWorkedPerfectly})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	assert.True(t, names["patternd.trust.updates.total"])
	assert.True(t, names["patternd.trust.autocreated.total"])
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordUpdate(context.Background(), OutcomeWorkedPerfectly, true)
	m.RecordFailure(context.Background(), "store")
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trust", "trust.db")

	store, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)

	m, err := NewModel(ctx, store)
	require.NoError(t, err)
	_, err = m.Update(ctx, Event{PatternID: "p", Outcome: OutcomeWorkedWithTweaks})
	require.NoError(t, err)
	_, err = m.Update(ctx, Event{PatternID: "p", Outcome: OutcomeWorkedPerfectly})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	states, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, states, "p")
	assert.InDelta(t, 2.7, states["p"].Alpha, 1e-9)
	assert.InDelta(t, 1.3, states["p"].Beta, 1e-9)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, "a", State{1, 2}))
	require.NoError(t, store.Save(ctx, "a", State{3, 4}))

	states, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]State{"a": {3, 4}}, states)
}
