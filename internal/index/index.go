// Package index builds read-only inverted indices over a pattern snapshot.
//
// An Index is never patched. Any change to the pattern set requires a new
// Build, published through a Store so in-flight readers keep the snapshot
// they started with.
package index

import (
	"encoding/binary"
	"math"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Facet names an inverted index.
type Facet string

const (
	FacetType      Facet = "type"
	FacetLanguage  Facet = "language"
	FacetFramework Facet = "framework"
	FacetTag       Facet = "tag"
	FacetTaskType  Facet = "task_type"
	FacetRepo      Facet = "repo"
	FacetOrg       Facet = "org"
)

// Facets lists every facet in a stable order.
var Facets = []Facet{FacetType, FacetLanguage, FacetFramework, FacetTag, FacetTaskType, FacetRepo, FacetOrg}

// Index is the immutable result of Build. Positions are valid only for this
// Index.
type Index struct {
	// Patterns preserves input order with earlier duplicates removed.
	Patterns []pattern.Meta

	// IDToIndex maps every id in Patterns to its position.
	IDToIndex map[string]int

	// Duplicates counts input entries dropped because a later entry reused
	// their id.
	Duplicates int

	// Version is a content hash of the snapshot.
	Version uint64

	facets map[Facet]map[string][]int
}

// Build indexes patterns in one pass. When ids repeat, the last occurrence
// wins and takes the position of that last occurrence among survivors.
func Build(patterns []pattern.Meta) *Index {
	last := make(map[string]int, len(patterns))
	for i := range patterns {
		last[patterns[i].ID] = i
	}

	idx := &Index{
		Patterns:  make([]pattern.Meta, 0, len(last)),
		IDToIndex: make(map[string]int, len(last)),
		facets:    make(map[Facet]map[string][]int, len(Facets)),
	}
	for _, f := range Facets {
		idx.facets[f] = make(map[string][]int)
	}

	h := xxhash.New()
	for i := range patterns {
		p := patterns[i]
		if last[p.ID] != i {
			idx.Duplicates++
			continue
		}
		pos := len(idx.Patterns)
		idx.Patterns = append(idx.Patterns, p)
		idx.IDToIndex[p.ID] = pos
		idx.add(pos, &p)
		hashPattern(h, &p)
	}
	idx.Version = h.Sum64()

	return idx
}

func (idx *Index) add(pos int, p *pattern.Meta) {
	idx.put(FacetType, string(p.Type), pos)
	for _, l := range p.Scope.Languages {
		idx.put(FacetLanguage, l, pos)
	}
	for _, fw := range p.Scope.Frameworks {
		idx.put(FacetFramework, fw.Name, pos)
	}
	if md := p.Metadata; md != nil {
		for _, tag := range md.Tags {
			idx.put(FacetTag, tag, pos)
		}
		for _, tt := range md.TaskTypes {
			idx.put(FacetTaskType, tt, pos)
		}
		idx.put(FacetRepo, md.Repo, pos)
		idx.put(FacetOrg, md.Org, pos)
	}
}

func (idx *Index) put(f Facet, value string, pos int) {
	key := normalize(value)
	if key == "" {
		return
	}
	list := idx.facets[f][key]
	// Positions are appended in increasing order; skip repeats from the same pattern.
	if n := len(list); n > 0 && list[n-1] == pos {
		return
	}
	idx.facets[f][key] = append(list, pos)
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// hashPattern feeds every field of p into h. Strings and lists are length
// prefixed and each section is tagged, so moving a value between fields
// always changes the digest.
func hashPattern(h *xxhash.Digest, p *pattern.Meta) {
	var buf [8]byte
	writeU := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	tag := func(t byte) {
		_, _ = h.Write([]byte{t})
	}
	writeStr := func(s string) {
		writeU(uint64(len(s)))
		_, _ = h.WriteString(s)
	}
	writeList := func(t byte, list []string) {
		tag(t)
		writeU(uint64(len(list)))
		for _, s := range list {
			writeStr(s)
		}
	}
	writeF := func(v *float64) {
		if v == nil {
			tag(0)
			return
		}
		tag(1)
		writeU(math.Float64bits(*v))
	}

	tag('i')
	writeStr(p.ID)
	writeStr(string(p.Type))
	writeStr(p.Title)
	writeStr(p.Summary)

	writeList('p', p.Scope.Paths)
	writeList('l', p.Scope.Languages)
	tag('f')
	writeU(uint64(len(p.Scope.Frameworks)))
	for _, fw := range p.Scope.Frameworks {
		writeStr(fw.Name)
		writeStr(fw.VersionRange)
	}

	tag('t')
	if p.Trust != nil {
		tag(1)
		writeF(p.Trust.Alpha)
		writeF(p.Trust.Beta)
		writeF(p.Trust.Score)
	} else {
		tag(0)
	}

	tag('m')
	if md := p.Metadata; md != nil {
		tag(1)
		if md.LastReviewed.IsZero() {
			tag(0)
		} else {
			tag(1)
			writeU(uint64(md.LastReviewed.UnixNano()))
		}
		writeU(math.Float64bits(md.HalfLifeDays))
		writeStr(md.Repo)
		writeStr(md.Org)
		writeList('g', md.Tags)
		writeList('k', md.TaskTypes)
	} else {
		tag(0)
	}

	tag('s')
	if sn := p.Snippet; sn != nil {
		tag(1)
		writeStr(sn.Language)
		writeStr(sn.Code)
		writeStr(sn.SourceRef)
		writeStr(sn.SnippetID)
	} else {
		tag(0)
	}

	writeList('P', p.PolicyRefs)
	writeList('A', p.AntiRefs)
	writeList('T', p.TestRefs)
}

// Len returns the number of indexed patterns.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Patterns)
}

// Lookup returns the pattern with id.
func (idx *Index) Lookup(id string) (*pattern.Meta, bool) {
	if idx == nil {
		return nil, false
	}
	pos, ok := idx.IDToIndex[id]
	if !ok {
		return nil, false
	}
	return &idx.Patterns[pos], true
}

// Positions returns the sorted positions carrying value for facet. The slice
// is shared and must not be modified.
func (idx *Index) Positions(f Facet, value string) []int {
	if idx == nil {
		return nil
	}
	return idx.facets[f][normalize(value)]
}

// Values returns the number of distinct values indexed for facet.
func (idx *Index) Values(f Facet) int {
	if idx == nil {
		return 0
	}
	return len(idx.facets[f])
}

// ByType returns the patterns of type t in snapshot order.
func (idx *Index) ByType(t pattern.Type) []*pattern.Meta {
	positions := idx.Positions(FacetType, string(t))
	out := make([]*pattern.Meta, 0, len(positions))
	for _, pos := range positions {
		out = append(out, &idx.Patterns[pos])
	}
	return out
}

// Candidates returns the positions worth scoring for sig. Scope is a soft
// component, so no facet is hard-required and only patterns the task
// reported as failed are removed. The second result counts those removals.
func (idx *Index) Candidates(sig *pattern.Signals) ([]int, int) {
	if idx == nil {
		return nil, 0
	}
	failed := sig.FailedSet()
	out := make([]int, 0, len(idx.Patterns))
	excluded := 0
	for pos := range idx.Patterns {
		if _, skip := failed[idx.Patterns[pos].ID]; skip {
			excluded++
			continue
		}
		out = append(out, pos)
	}
	return out, excluded
}

// Store publishes indices with copy-and-swap semantics.
type Store struct {
	current atomic.Pointer[Index]
}

// NewStore returns a store holding idx, which may be nil.
func NewStore(idx *Index) *Store {
	s := &Store{}
	if idx != nil {
		s.current.Store(idx)
	}
	return s
}

// Publish swaps idx in and returns the previous index.
func (s *Store) Publish(idx *Index) *Index {
	return s.current.Swap(idx)
}

// Current returns the published index, or nil before the first Publish.
func (s *Store) Current() *Index {
	return s.current.Load()
}
