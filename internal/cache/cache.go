// Package cache provides the scoring cache used by the ranker.
//
// The cache holds four independent tables: ranked-query results, version
// range checks, path matches and Wilson scores. Every value it stores is a
// pure function of its key, so a miss, an eviction or a racing recomputation
// only costs latency. A nil *ScoringCache is valid and always misses.
//
// Example usage:
//
//	c := cache.New[[]ranking.RankedPattern](cache.DefaultConfig(), cache.NewMetrics())
//	score, _ := c.Wilson().GetOrCompute(cache.FloatKey(alpha, beta), compute)
package cache

import (
	"encoding/hex"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Table names, used as metric labels.
const (
	TableRanked = "ranked"
	TableSemver = "semver"
	TablePath   = "path"
	TableWilson = "wilson"
)

// Entry is a cached value stamped with its creation time.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
}

// Table is one memoization table with TTL and capacity eviction.
// A nil *Table always misses and never stores.
type Table[V any] struct {
	name    string
	lru     *expirable.LRU[string, Entry[V]]
	metrics *Metrics
	group   *singleflight.Group
}

func newTable[V any](name string, size int, ttl time.Duration, metrics *Metrics, dedupe bool) *Table[V] {
	if size <= 0 {
		return nil
	}
	t := &Table[V]{name: name, metrics: metrics}
	onEvict := func(string, Entry[V]) {
		t.metrics.RecordEviction(name)
	}
	t.lru = expirable.NewLRU[string, Entry[V]](size, onEvict, ttl)
	if dedupe {
		t.group = &singleflight.Group{}
	}
	return t
}

// Get returns the cached entry for key.
func (t *Table[V]) Get(key string) (Entry[V], bool) {
	if t == nil {
		return Entry[V]{}, false
	}
	e, ok := t.lru.Get(key)
	if ok {
		t.metrics.RecordHit(t.name)
	} else {
		t.metrics.RecordMiss(t.name)
	}
	return e, ok
}

// Add stores value under key.
func (t *Table[V]) Add(key string, value V) {
	if t == nil {
		return
	}
	t.lru.Add(key, Entry[V]{Value: value, CreatedAt: time.Now()})
	t.metrics.SetSize(t.name, t.lru.Len())
}

// GetOrCompute returns the cached value for key or computes and stores it.
// Errors are returned and never cached. Tables created with deduplication
// collapse concurrent computations of the same key into one call.
func (t *Table[V]) GetOrCompute(key string, fn func() (V, error)) (V, error) {
	if t == nil {
		return fn()
	}
	if e, ok := t.Get(key); ok {
		return e.Value, nil
	}

	if t.group == nil {
		v, err := fn()
		if err != nil {
			return v, err
		}
		t.Add(key, v)
		return v, nil
	}

	res, err, _ := t.group.Do(key, func() (any, error) {
		v, err := fn()
		if err != nil {
			return v, err
		}
		t.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	if t == nil {
		return 0
	}
	return t.lru.Len()
}

// Purge drops every entry.
func (t *Table[V]) Purge() {
	if t == nil {
		return
	}
	t.lru.Purge()
	t.metrics.SetSize(t.name, 0)
}

// ScoringCache groups the four tables. R is the ranked-query result type.
type ScoringCache[R any] struct {
	ranked *Table[R]
	semver *Table[bool]
	path   *Table[bool]
	wilson *Table[float64]

	mu      sync.Mutex
	version uint64
	bumped  bool
}

// New creates a scoring cache. It returns nil when cfg disables caching.
func New[R any](cfg Config, metrics *Metrics) *ScoringCache[R] {
	if !cfg.Enabled {
		return nil
	}
	return &ScoringCache[R]{
		ranked: newTable[R](TableRanked, cfg.RankedSize, cfg.RankedTTL, metrics, true),
		semver: newTable[bool](TableSemver, cfg.SemverSize, cfg.TTL, metrics, false),
		path:   newTable[bool](TablePath, cfg.PathSize, cfg.TTL, metrics, false),
		wilson: newTable[float64](TableWilson, cfg.WilsonSize, cfg.TTL, metrics, false),
	}
}

// Ranked returns the ranked-query table.
func (c *ScoringCache[R]) Ranked() *Table[R] {
	if c == nil {
		return nil
	}
	return c.ranked
}

// Semver returns the version-range table.
func (c *ScoringCache[R]) Semver() *Table[bool] {
	if c == nil {
		return nil
	}
	return c.semver
}

// Path returns the path-match table.
func (c *ScoringCache[R]) Path() *Table[bool] {
	if c == nil {
		return nil
	}
	return c.path
}

// Wilson returns the Wilson-score table.
func (c *ScoringCache[R]) Wilson() *Table[float64] {
	if c == nil {
		return nil
	}
	return c.wilson
}

// Invalidate purges every table.
func (c *ScoringCache[R]) Invalidate() {
	if c == nil {
		return
	}
	c.ranked.Purge()
	c.semver.Purge()
	c.path.Purge()
	c.wilson.Purge()
}

// Bump records the pattern-set version and purges the ranked table when it
// changed. Semver, path and Wilson entries do not depend on the pattern set.
// It reports whether a purge happened.
func (c *ScoringCache[R]) Bump(version uint64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bumped && c.version == version {
		return false
	}
	c.version = version
	c.bumped = true
	c.ranked.Purge()
	return true
}

// Key hashes parts into a compact key. Parts are separated so that
// ("ab", "c") and ("a", "bc") differ.
func Key(parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	var buf [8]byte
	sum := d.Sum(buf[:0])
	return hex.EncodeToString(sum)
}

// JoinKey joins parts verbatim. Use it for small keys where an exact key is
// cheaper than a hash.
func JoinKey(parts ...string) string {
	n := len(parts)
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, 0)
		}
		b = append(b, p...)
	}
	return string(b)
}

// FloatKey builds an exact key from float values.
func FloatKey(values ...float64) string {
	b := make([]byte, 0, len(values)*17)
	for i, v := range values {
		if i > 0 {
			b = append(b, ':')
		}
		b = strconv.AppendUint(b, math.Float64bits(v), 16)
	}
	return string(b)
}
