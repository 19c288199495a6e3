package trust

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const stripeCount = 64

// Model is the long-lived trust state of the engine. It is the only mutable
// state the ranking core depends on and changes only through outcome events.
type Model struct {
	store   Store
	z       float64
	logger  *zap.Logger
	metrics *Metrics

	// stripes serialize read-modify-write per pattern.
	stripes [stripeCount]sync.Mutex

	mu     sync.RWMutex
	states map[string]State

	generation atomic.Uint64
}

// Option configures a Model.
type Option func(*Model)

// WithZ overrides the Wilson quantile.
func WithZ(z float64) Option {
	return func(m *Model) {
		if z > 0 {
			m.z = z
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Model) {
		m.metrics = metrics
	}
}

// NewModel loads all persisted state from store.
func NewModel(ctx context.Context, store Store, opts ...Option) (*Model, error) {
	if store == nil {
		return nil, fmt.Errorf("trust store cannot be nil")
	}

	m := &Model{
		store:  store,
		z:      DefaultZ,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	states, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading trust state: %w", err)
	}
	m.states = states

	m.logger.Debug("trust model loaded", zap.Int("patterns", len(states)))
	return m, nil
}

func (m *Model) stripe(patternID string) *sync.Mutex {
	return &m.stripes[xxhash.Sum64String(patternID)%stripeCount]
}

// Update applies one outcome event. Unknown patterns are auto-created with
// AutoCreatePrior before the delta is applied. The in-memory state changes
// only after the store accepted the write.
func (m *Model) Update(ctx context.Context, ev Event) (State, error) {
	if err := ev.Validate(); err != nil {
		m.metrics.RecordFailure(ctx, "invalid_event")
		return State{}, err
	}
	delta, _ := DeltaFor(ev.Outcome)

	lock := m.stripe(ev.PatternID)
	lock.Lock()
	defer lock.Unlock()

	current, known := m.Lookup(ev.PatternID)
	if !known {
		current = AutoCreatePrior
	}
	next := current.Apply(delta)

	if err := m.store.Save(ctx, ev.PatternID, next); err != nil {
		m.metrics.RecordFailure(ctx, "store")
		return current, fmt.Errorf("persisting trust update: %w", err)
	}

	m.mu.Lock()
	m.states[ev.PatternID] = next
	m.mu.Unlock()
	m.generation.Add(1)

	m.metrics.RecordUpdate(ctx, ev.Outcome, !known)
	m.logger.Debug("trust updated",
		zap.String("pattern_id", ev.PatternID),
		zap.String("outcome", string(ev.Outcome)),
		zap.Bool("auto_created", !known),
		zap.Float64("alpha", next.Alpha),
		zap.Float64("beta", next.Beta))

	return next, nil
}

// Lookup returns the tracked state of a pattern.
func (m *Model) Lookup(patternID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[patternID]
	return st, ok
}

// Params implements the ranker's trust source.
func (m *Model) Params(patternID string) (alpha, beta float64, ok bool) {
	st, ok := m.Lookup(patternID)
	return st.Alpha, st.Beta, ok
}

// Score returns the Wilson lower bound of the tracked state, or NeutralScore
// for an untracked pattern.
func (m *Model) Score(patternID string) float64 {
	st, ok := m.Lookup(patternID)
	if !ok {
		return NeutralScore
	}
	return WilsonLowerBound(st.Alpha, st.Beta, m.z)
}

// Z returns the Wilson quantile in use.
func (m *Model) Z() float64 {
	return m.z
}

// Generation increases after every applied update.
func (m *Model) Generation() uint64 {
	return m.generation.Load()
}

// Len returns the number of tracked patterns.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// IDs returns the tracked pattern ids in ascending order.
func (m *Model) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Seed copies snapshot alpha/beta into the model for patterns it does not
// track yet. Already tracked patterns keep their live state.
func (m *Model) Seed(ctx context.Context, patterns []pattern.Meta) (int, error) {
	seeded := 0
	for i := range patterns {
		p := &patterns[i]
		alpha, beta, ok := p.Trust.Params()
		if !ok {
			continue
		}
		if !Valid(alpha, beta) {
			m.logger.Warn("skipping trust seed with invalid counts",
				zap.Float64("alpha", alpha),
				zap.Float64("beta", beta),
				zap.String("pattern_id", p.ID),
				zap.Error(ErrInvalidCounts))
			continue
		}

		lock := m.stripe(p.ID)
		lock.Lock()
		if _, known := m.Lookup(p.ID); !known {
			st := State{Alpha: alpha, Beta: beta}
			if err := m.store.Save(ctx, p.ID, st); err != nil {
				lock.Unlock()
				return seeded, fmt.Errorf("seeding trust for %s: %w", p.ID, err)
			}
			m.mu.Lock()
			m.states[p.ID] = st
			m.mu.Unlock()
			seeded++
		}
		lock.Unlock()
	}

	if seeded > 0 {
		m.generation.Add(1)
	}
	return seeded, nil
}

// Close closes the underlying store.
func (m *Model) Close() error {
	return m.store.Close()
}
