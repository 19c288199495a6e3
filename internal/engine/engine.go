// Package engine wires the pattern index, trust model, scoring cache, ranker
// and pack builder into one service.
//
// A snapshot enters through Publish, which validates it, builds a new index,
// seeds trust for unseen patterns and swaps the index in. Requests (Rank,
// Recommend) keep using the index that was current when they started. Trust
// outcomes enter through RecordOutcome and affect the next request.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/index"
	"github.com/fyrsmithlabs/patternd/internal/pack"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/ranking"
	"github.com/fyrsmithlabs/patternd/internal/scope"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/trust"
	"github.com/fyrsmithlabs/patternd/internal/workflow"
)

// ErrNoSnapshot is returned by requests made before the first Publish.
var ErrNoSnapshot = errors.New("no pattern snapshot published")

// PhaseIntentConfidence is the intent confidence assumed when the intent is
// derived from the workflow phase rather than classified.
const PhaseIntentConfidence = 0.5

// Engine serves ranking and pack requests. It is safe for concurrent use.
type Engine struct {
	trust   *trust.Model
	indexes *index.Store
	cache   *ranking.ScoringCache
	ranker  *ranking.Ranker
	builder *pack.Builder

	rankingConfig ranking.Config
	packOptions   pack.Options

	versions       scope.VersionChecker
	scrubber       *secrets.Scrubber
	rankingMetrics *ranking.Metrics
	packMetrics    *pack.Metrics
	now            func() time.Time
	logger         *zap.Logger

	// publishMu serializes snapshot publication.
	publishMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the reference time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCache enables memoization. A nil cache disables it.
func WithCache(c *ranking.ScoringCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithRankingConfig sets the default ranking config.
func WithRankingConfig(cfg ranking.Config) Option {
	return func(e *Engine) {
		e.rankingConfig = cfg
	}
}

// WithPackOptions sets the default pack options.
func WithPackOptions(opts pack.Options) Option {
	return func(e *Engine) {
		e.packOptions = opts
	}
}

// WithVersionChecker replaces the framework version-range checker.
func WithVersionChecker(vc scope.VersionChecker) Option {
	return func(e *Engine) {
		e.versions = vc
	}
}

// WithScrubber redacts snippet code in packs.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(e *Engine) {
		e.scrubber = s
	}
}

// WithRankingMetrics sets the ranking metrics recorder.
func WithRankingMetrics(m *ranking.Metrics) Option {
	return func(e *Engine) {
		e.rankingMetrics = m
	}
}

// WithPackMetrics sets the pack metrics recorder.
func WithPackMetrics(m *pack.Metrics) Option {
	return func(e *Engine) {
		e.packMetrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine around a loaded trust model.
func New(model *trust.Model, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("trust model cannot be nil")
	}

	e := &Engine{
		trust:         model,
		indexes:       index.NewStore(nil),
		rankingConfig: ranking.DefaultConfig(),
		packOptions:   pack.DefaultOptions(),
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.rankingConfig.Validate(); err != nil {
		return nil, fmt.Errorf("ranking config: %w", err)
	}
	if err := e.packOptions.Validate(); err != nil {
		return nil, fmt.Errorf("pack options: %w", err)
	}

	rankerOpts := []ranking.Option{
		ranking.WithTrustSource(model),
		ranking.WithCache(e.cache),
		ranking.WithZ(model.Z()),
		ranking.WithLogger(e.logger.Named("ranking")),
		ranking.WithMetrics(e.rankingMetrics),
	}
	if e.versions != nil {
		rankerOpts = append(rankerOpts, ranking.WithVersionChecker(e.versions))
	}
	e.ranker = ranking.NewRanker(rankerOpts...)
	e.builder = pack.NewBuilder(
		pack.WithScrubber(e.scrubber),
		pack.WithLogger(e.logger.Named("pack")),
		pack.WithMetrics(e.packMetrics),
	)
	return e, nil
}

// PublishStats describes one snapshot publication.
type PublishStats struct {
	Accepted   int    `json:"accepted"`
	Rejected   int    `json:"rejected"`
	Duplicates int    `json:"duplicates"`
	Seeded     int    `json:"seeded"`
	Version    uint64 `json:"version"`
	Changed    bool   `json:"changed"`
}

// Publish builds an index from a snapshot and swaps it in. Invalid entries
// are skipped with a warning. Requests already in flight finish against the
// previous index.
func (e *Engine) Publish(ctx context.Context, patterns []pattern.Meta) (PublishStats, error) {
	if err := ctx.Err(); err != nil {
		return PublishStats{}, err
	}

	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	var stats PublishStats
	valid := make([]pattern.Meta, 0, len(patterns))
	for i := range patterns {
		if err := patterns[i].Validate(); err != nil {
			stats.Rejected++
			e.logger.Warn("skipping invalid pattern",
				zap.Int("position", i),
				zap.String("pattern_id", patterns[i].ID),
				zap.Error(err))
			continue
		}
		valid = append(valid, patterns[i])
	}

	idx := index.Build(valid)
	stats.Accepted = idx.Len()
	stats.Duplicates = idx.Duplicates
	stats.Version = idx.Version

	seeded, err := e.trust.Seed(ctx, idx.Patterns)
	if err != nil {
		return stats, fmt.Errorf("seeding trust: %w", err)
	}
	stats.Seeded = seeded

	prev := e.indexes.Publish(idx)
	stats.Changed = prev == nil || prev.Version != idx.Version
	// Every publish starts from an empty ranked table, changed or not.
	if !e.cache.Bump(idx.Version) {
		e.cache.Ranked().Purge()
	}

	e.logger.Info("published pattern snapshot",
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("seeded", stats.Seeded),
		zap.Uint64("version", stats.Version),
		zap.Bool("changed", stats.Changed))

	return stats, nil
}

// Current returns the published index, or nil before the first Publish.
func (e *Engine) Current() *index.Index {
	return e.indexes.Current()
}

// RankRequest is the input of Rank.
type RankRequest struct {
	Signals *pattern.Signals

	// Config overrides the engine's ranking config.
	Config *ranking.Config
}

// Rank orders the current snapshot against the request signals.
func (e *Engine) Rank(ctx context.Context, req RankRequest) ([]ranking.RankedPattern, ranking.Stats, error) {
	idx := e.indexes.Current()
	if idx == nil {
		return nil, ranking.Stats{}, ErrNoSnapshot
	}
	return e.rank(ctx, idx, req.Signals, req.Config)
}

func (e *Engine) rank(ctx context.Context, idx *index.Index, sig *pattern.Signals, cfg *ranking.Config) ([]ranking.RankedPattern, ranking.Stats, error) {
	if cfg == nil {
		cfg = &e.rankingConfig
	}
	return e.ranker.Rank(ctx, ranking.Request{
		Index:   idx,
		Signals: e.prepareSignals(sig),
		Config:  cfg,
		Now:     e.now(),
	})
}

// RecommendRequest is the input of Recommend.
type RecommendRequest struct {
	Task    string
	Signals *pattern.Signals

	// Config overrides the engine's ranking config.
	Config *ranking.Config

	// Options overrides the engine's pack options.
	Options *pack.Options

	// AntiPatterns, Policies and Tests are appended to the pools derived
	// from the ranking.
	AntiPatterns []pattern.Meta
	Policies     []pattern.Meta
	Tests        []pattern.Meta
}

// Recommend ranks the current snapshot and assembles a pack.
func (e *Engine) Recommend(ctx context.Context, req RecommendRequest) (*pattern.Pack, error) {
	idx := e.indexes.Current()
	if idx == nil {
		return nil, ErrNoSnapshot
	}

	opts := e.packOptions
	if req.Options != nil {
		opts = *req.Options
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ranked, stats, err := e.rank(ctx, idx, req.Signals, req.Config)
	if err != nil {
		return nil, err
	}

	p, err := e.builder.Build(ctx, pack.Input{
		Task:         req.Task,
		Ranked:       ranked,
		Resolver:     idx,
		AntiPatterns: req.AntiPatterns,
		Policies:     req.Policies,
		Tests:        req.Tests,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("assembling pack: %w", err)
	}

	e.logger.Debug("recommended patterns",
		zap.String("task", req.Task),
		zap.Int("ranked", stats.Returned),
		zap.Int("included", p.Meta.Included),
		zap.Bool("cache_hit", stats.CacheHit))
	return p, nil
}

// RecordOutcome applies a trust event.
func (e *Engine) RecordOutcome(ctx context.Context, ev trust.Event) (trust.State, error) {
	return e.trust.Update(ctx, ev)
}

// Trust returns the engine's trust model.
func (e *Engine) Trust() *trust.Model {
	return e.trust
}

// prepareSignals returns a copy of sig with the intent filled in from the
// workflow phase when none was classified. The caller's value is never
// modified.
func (e *Engine) prepareSignals(sig *pattern.Signals) *pattern.Signals {
	if sig == nil {
		return &pattern.Signals{}
	}
	out := *sig
	if out.WorkflowPhase == "" || out.TaskIntent != nil {
		return &out
	}

	phase, err := workflow.ParsePhase(out.WorkflowPhase)
	if err != nil {
		e.logger.Warn("ignoring workflow phase", zap.Error(err))
		return &out
	}
	if intent, ok := phase.Intent(); ok {
		out.TaskIntent = &pattern.TaskIntent{Type: intent, Confidence: PhaseIntentConfidence}
	}
	return &out
}
