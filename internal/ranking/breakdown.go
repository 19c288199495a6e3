package ranking

import "slices"

// PointsScale converts a raw component value in [0,1] into points.
const PointsScale = 100.0

// Component is one scoring component of a Breakdown.
type Component struct {
	Raw      float64 `json:"raw"`
	Points   float64 `json:"points"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

func component(raw, weight float64) Component {
	points := raw * PointsScale
	return Component{Raw: raw, Points: points, Weight: weight, Weighted: weight * points}
}

// Trust sources recorded in a Breakdown.
const (
	TrustSourceLive     = "live"
	TrustSourceSnapshot = "snapshot"
	TrustSourceScore    = "score"
	TrustSourceNone     = "none"
)

// Locality dimensions recorded in a Breakdown.
const (
	LocalityRepo = "repo"
	LocalityOrg  = "org"
)

// Breakdown explains one candidate's score. It is reproducible from the
// pattern, the signals, the config, the reference time and the trust state.
type Breakdown struct {
	Scope     Component `json:"scope"`
	Policy    Component `json:"policy"`
	Trust     Component `json:"trust"`
	Freshness Component `json:"freshness"`
	Locality  Component `json:"locality"`
	Total     float64   `json:"total"`

	MatchedPaths      []string `json:"matched_paths,omitempty"`
	MatchedLanguages  []string `json:"matched_languages,omitempty"`
	MatchedFrameworks []string `json:"matched_frameworks,omitempty"`
	DeclaredFacets    int      `json:"declared_facets"`

	PolicyBoosted bool   `json:"policy_boosted,omitempty"`
	Intent        string `json:"intent,omitempty"`

	TrustSource string  `json:"trust_source"`
	Alpha       float64 `json:"alpha,omitempty"`
	Beta        float64 `json:"beta,omitempty"`

	AgeDays      *float64 `json:"age_days,omitempty"`
	HalfLifeDays float64  `json:"half_life_days"`

	LocalityMatch string `json:"locality_match,omitempty"`
}

// RankedPattern is one entry of a ranking result.
type RankedPattern struct {
	ID      string    `json:"id"`
	Score   float64   `json:"score"`
	Explain Breakdown `json:"explain"`
}

// less orders by score descending, then id ascending.
func less(a, b *RankedPattern) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// clone returns a copy of rp that shares no slices or pointers with it.
func (rp RankedPattern) clone() RankedPattern {
	b := &rp.Explain
	b.MatchedPaths = slices.Clone(b.MatchedPaths)
	b.MatchedLanguages = slices.Clone(b.MatchedLanguages)
	b.MatchedFrameworks = slices.Clone(b.MatchedFrameworks)
	if b.AgeDays != nil {
		age := *b.AgeDays
		b.AgeDays = &age
	}
	return rp
}
