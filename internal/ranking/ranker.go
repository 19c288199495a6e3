// Package ranking scores patterns against task signals and orders them.
//
// A pattern's score is the weighted sum of five component point values:
// scope match, policy boost, trust (Wilson lower bound), freshness decay and
// locality. Results are ordered by score descending with ties broken by id
// ascending, then cut to the configured candidate cap.
package ranking

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/cache"
	"github.com/fyrsmithlabs/patternd/internal/index"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/scope"
	"github.com/fyrsmithlabs/patternd/internal/trust"
)

// TimeResolution is the granularity of the reference time used for
// freshness. Ranked results are memoized at the same granularity.
const TimeResolution = time.Minute

// neutralFreshness is used when a pattern has no review date.
const neutralFreshness = 0.5

// TrustSource provides live trust state.
type TrustSource interface {
	// Params returns the tracked alpha and beta of a pattern.
	Params(patternID string) (alpha, beta float64, ok bool)

	// Generation changes whenever any tracked state changes.
	Generation() uint64
}

// ScoringCache is the cache type the ranker uses.
type ScoringCache = cache.ScoringCache[[]RankedPattern]

// intentTypes maps task intent types onto the pattern types they favour.
var intentTypes = map[string]pattern.Type{
	"fix":       pattern.TypeFailureFix,
	"debug":     pattern.TypeFailureFix,
	"test":      pattern.TypeTestConvention,
	"migrate":   pattern.TypeMigration,
	"refactor":  pattern.TypeReusable,
	"implement": pattern.TypeReusable,
	"design":    pattern.TypeArchitectureDecision,
	"review":    pattern.TypeAntiPattern,
}

// Request is the input of one ranking call.
type Request struct {
	Index   *index.Index
	Signals *pattern.Signals

	// Config defaults to DefaultConfig when nil.
	Config *Config

	// Now is the reference time for freshness.
	Now time.Time
}

// Stats describes one ranking call.
type Stats struct {
	Total          int           `json:"total"`
	ExcludedFailed int           `json:"excluded_failed"`
	Scored         int           `json:"scored"`
	Returned       int           `json:"returned"`
	CacheHit       bool          `json:"cache_hit"`
	Duration       time.Duration `json:"duration"`
}

// Ranker scores and orders patterns. It is safe for concurrent use.
type Ranker struct {
	trust    TrustSource
	cache    *ScoringCache
	versions scope.VersionChecker
	matcher  *scope.Matcher
	z        float64
	logger   *zap.Logger
	metrics  *Metrics
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithTrustSource sets the live trust source.
func WithTrustSource(ts TrustSource) Option {
	return func(r *Ranker) {
		r.trust = ts
	}
}

// WithCache sets the scoring cache. A nil cache disables memoization.
func WithCache(c *ScoringCache) Option {
	return func(r *Ranker) {
		r.cache = c
	}
}

// WithVersionChecker replaces the framework version-range checker.
func WithVersionChecker(vc scope.VersionChecker) Option {
	return func(r *Ranker) {
		r.versions = vc
	}
}

// WithZ sets the Wilson quantile.
func WithZ(z float64) Option {
	return func(r *Ranker) {
		if z > 0 {
			r.z = z
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Ranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(r *Ranker) {
		r.metrics = m
	}
}

// NewRanker creates a ranker. Without a trust source only snapshot trust is
// used. Rankers sharing a cache must use the same version checker.
func NewRanker(opts ...Option) *Ranker {
	r := &Ranker{
		z:      trust.DefaultZ,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.versions == nil {
		r.versions = scope.NewSemverChecker()
	}
	r.matcher = scope.NewMatcher(
		scope.WithPathMatcher(cachedPaths{table: r.cache.Path(), inner: scope.GlobMatcher{}}),
		scope.WithVersionChecker(cachedVersions{table: r.cache.Semver(), inner: r.versions}),
	)
	return r
}

type cachedPaths struct {
	table *cache.Table[bool]
	inner scope.PathMatcher
}

func (c cachedPaths) MatchPath(expr, taskPath string) bool {
	ok, _ := c.table.GetOrCompute(cache.JoinKey(expr, taskPath), func() (bool, error) {
		return c.inner.MatchPath(expr, taskPath), nil
	})
	return ok
}

type cachedVersions struct {
	table *cache.Table[bool]
	inner scope.VersionChecker
}

func (c cachedVersions) Satisfies(version, constraint string) bool {
	ok, _ := c.table.GetOrCompute(cache.JoinKey(version, constraint), func() (bool, error) {
		return c.inner.Satisfies(version, constraint), nil
	})
	return ok
}

// Score computes the breakdown of one pattern. It does not validate cfg.
func (r *Ranker) Score(p *pattern.Meta, sig *pattern.Signals, cfg Config, now time.Time) Breakdown {
	var b Breakdown
	w := cfg.Weights

	sr := r.matcher.Match(p.Scope, sig)
	b.Scope = component(sr.Raw, w.Scope)
	b.MatchedPaths = sr.Paths
	b.MatchedLanguages = sr.Languages
	b.MatchedFrameworks = sr.Frameworks
	b.DeclaredFacets = sr.Declared

	var policy float64
	if p.Type.IsBoosted() && (!cfg.PolicyBoostRequiresScope || sr.Raw > 0) {
		policy = 1
		b.PolicyBoosted = true
	}
	if intent, confidence, ok := intentMatch(p, sig); ok {
		b.Intent = intent
		if confidence > policy {
			policy = confidence
		}
	}
	b.Policy = component(policy, w.Policy)

	b.Trust = component(r.trustScore(p, &b), w.Trust)
	b.Freshness = component(freshness(p, cfg, now, &b), w.Freshness)
	b.Locality = component(locality(p, sig, &b), w.Locality)

	b.Total = b.Scope.Weighted + b.Policy.Weighted + b.Trust.Weighted + b.Freshness.Weighted + b.Locality.Weighted
	return b
}

func intentMatch(p *pattern.Meta, sig *pattern.Signals) (string, float64, bool) {
	if sig == nil || sig.TaskIntent == nil {
		return "", 0, false
	}
	intent := strings.ToLower(strings.TrimSpace(sig.TaskIntent.Type))
	if intent == "" {
		return "", 0, false
	}

	matched := intentTypes[intent] == p.Type
	if !matched && p.Metadata != nil {
		for _, tt := range p.Metadata.TaskTypes {
			if strings.EqualFold(strings.TrimSpace(tt), intent) {
				matched = true
				break
			}
		}
	}
	if !matched {
		return "", 0, false
	}

	confidence := sig.TaskIntent.Confidence
	switch {
	case math.IsNaN(confidence) || confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return intent, confidence, true
}

func (r *Ranker) trustScore(p *pattern.Meta, b *Breakdown) float64 {
	var alpha, beta float64
	var ok bool

	if r.trust != nil {
		if alpha, beta, ok = r.trust.Params(p.ID); ok {
			b.TrustSource = TrustSourceLive
		}
	}
	if !ok {
		if alpha, beta, ok = p.Trust.Params(); ok {
			b.TrustSource = TrustSourceSnapshot
		}
	}
	if ok && !trust.Valid(alpha, beta) {
		r.logger.Warn("ignoring invalid trust counts",
			zap.String("pattern_id", p.ID),
			zap.String("source", b.TrustSource),
			zap.Float64("alpha", alpha),
			zap.Float64("beta", beta))
		ok = false
	}
	if ok {
		b.Alpha, b.Beta = alpha, beta
		score, _ := r.cache.Wilson().GetOrCompute(cache.FloatKey(alpha, beta, r.z), func() (float64, error) {
			return trust.WilsonLowerBound(alpha, beta, r.z), nil
		})
		return score
	}

	if p.Trust != nil && p.Trust.Score != nil && !math.IsNaN(*p.Trust.Score) {
		b.TrustSource = TrustSourceScore
		return math.Min(1, math.Max(0, *p.Trust.Score))
	}

	// Untracked patterns score as if freshly created by an outcome event.
	prior := trust.AutoCreatePrior
	b.TrustSource = TrustSourceNone
	b.Alpha, b.Beta = prior.Alpha, prior.Beta
	return trust.WilsonLowerBound(prior.Alpha, prior.Beta, r.z)
}

func freshness(p *pattern.Meta, cfg Config, now time.Time, b *Breakdown) float64 {
	halfLife := cfg.HalfLifeDefaultDays
	if p.Metadata != nil && p.Metadata.HalfLifeDays > 0 {
		halfLife = p.Metadata.HalfLifeDays
	}
	b.HalfLifeDays = halfLife

	if p.Metadata == nil || p.Metadata.LastReviewed.IsZero() {
		return neutralFreshness
	}

	age := now.Sub(p.Metadata.LastReviewed).Hours() / 24
	if age < 0 {
		age = 0
	}
	b.AgeDays = &age
	return math.Exp(-math.Ln2 * age / halfLife)
}

func locality(p *pattern.Meta, sig *pattern.Signals, b *Breakdown) float64 {
	if sig == nil {
		return 0
	}
	if repo := p.Repo(); repo != "" && sig.Repo != "" && strings.EqualFold(repo, sig.Repo) {
		b.LocalityMatch = LocalityRepo
		return 1.0
	}
	if org := p.Org(); org != "" && sig.Org != "" && strings.EqualFold(org, sig.Org) {
		b.LocalityMatch = LocalityOrg
		return 0.6
	}
	return 0
}

// Rank scores every candidate of the index and returns the top
// Config.CandidateCap patterns. An invalid config returns a
// *pattern.ConfigError. Empty signals or an empty index are not errors.
func (r *Ranker) Rank(ctx context.Context, req Request) ([]RankedPattern, Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}

	cfg := DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, Stats{}, err
	}

	start := time.Now()
	ctx, span := Tracer().Start(ctx, "ranking.Rank")
	defer span.End()

	now := req.Now.UTC().Truncate(TimeResolution)
	stats := Stats{Total: req.Index.Len()}

	positions, excluded := req.Index.Candidates(req.Signals)
	stats.ExcludedFailed = excluded
	stats.Scored = len(positions)

	computed := false
	compute := func() ([]RankedPattern, error) {
		computed = true
		return r.rank(req.Index, positions, req.Signals, cfg, now), nil
	}

	var ranked []RankedPattern
	if table := r.cache.Ranked(); table != nil && req.Index != nil {
		key, err := r.rankedKey(req.Index, req.Signals, cfg, now)
		if err != nil {
			r.logger.Warn("skipping ranked cache", zap.Error(err))
			ranked, _ = compute()
		} else {
			ranked, _ = table.GetOrCompute(key, compute)
		}
	} else {
		ranked, _ = compute()
	}

	// Cached results are shared between callers; hand out private copies.
	out := make([]RankedPattern, len(ranked))
	for i := range ranked {
		out[i] = ranked[i].clone()
	}

	stats.Returned = len(out)
	stats.CacheHit = !computed
	stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("ranking.total", stats.Total),
		attribute.Int("ranking.scored", stats.Scored),
		attribute.Int("ranking.returned", stats.Returned),
		attribute.Bool("ranking.cache_hit", stats.CacheHit),
	)
	span.SetStatus(codes.Ok, "")
	r.metrics.RecordRank(ctx, stats)

	r.logger.Debug("ranked patterns",
		zap.Int("total", stats.Total),
		zap.Int("excluded_failed", stats.ExcludedFailed),
		zap.Int("returned", stats.Returned),
		zap.Bool("cache_hit", stats.CacheHit),
		zap.Duration("duration", stats.Duration))

	return out, stats, nil
}

func (r *Ranker) rank(idx *index.Index, positions []int, sig *pattern.Signals, cfg Config, now time.Time) []RankedPattern {
	out := make([]RankedPattern, 0, len(positions))
	for _, pos := range positions {
		p := &idx.Patterns[pos]
		b := r.Score(p, sig, cfg, now)
		out = append(out, RankedPattern{ID: p.ID, Score: b.Total, Explain: b})
	}

	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })

	if len(out) > cfg.CandidateCap {
		out = append([]RankedPattern(nil), out[:cfg.CandidateCap]...)
	}
	return out
}

// rankedKey identifies a ranking call by everything that can change its
// result.
func (r *Ranker) rankedKey(idx *index.Index, sig *pattern.Signals, cfg Config, now time.Time) (string, error) {
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		return "", err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	var generation uint64
	if r.trust != nil {
		generation = r.trust.Generation()
	}

	return cache.Key(
		strconv.FormatUint(idx.Version, 16),
		strconv.FormatUint(generation, 16),
		strconv.FormatInt(now.UnixNano(), 16),
		strconv.FormatFloat(r.z, 'g', -1, 64),
		string(sigJSON),
		string(cfgJSON),
	), nil
}
