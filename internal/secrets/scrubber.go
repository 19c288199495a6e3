// Package secrets redacts credentials from pattern snippets before they
// leave the engine.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksPrefix marks rule ids reported by the gitleaks detector.
const gitleaksPrefix = "gitleaks:"

// Scrubber redacts secrets with regexp rules and, when enabled, the gitleaks
// default rule set. Output depends only on the input and the rules. A nil *Scrubber passes content through unchanged.
type Scrubber struct {
	rules     []compiledRule
	allow     []*regexp.Regexp
	redaction string

	// detector is shared across calls; mu serializes it.
	mu       sync.Mutex
	detector *detect.Detector
}

// Result is the outcome of one Scrub call.
type Result struct {
	Text string

	// Rules lists the ids of the rules that matched, sorted.
	Rules []string

	// Count is the number of redacted spans after merging overlaps.
	Count int
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool {
	return r.Count > 0
}

type span struct{ start, end int }

// New compiles cfg. A disabled config returns a nil scrubber.
func New(cfg Config) (*Scrubber, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	s := &Scrubber{rules: rules, allow: allow, redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}
	if cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		s.detector = d
	}
	return s, nil
}

// Scrub returns content with every rule match replaced by the redaction
// string. Overlapping matches are merged into one replacement.
func (s *Scrubber) Scrub(content string) Result {
	if s == nil || content == "" {
		return Result{Text: content}
	}

	var spans []span
	matched := map[string]struct{}{}
	for _, r := range s.rules {
		if !r.applies(content) {
			continue
		}
		for _, loc := range r.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[loc[0]:loc[1]]) {
				continue
			}
			spans = append(spans, span{loc[0], loc[1]})
			matched[r.id] = struct{}{}
		}
	}
	spans = s.detect(content, spans, matched)
	if len(spans) == 0 {
		return Result{Text: content}
	}

	spans = merge(spans)
	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, sp := range spans {
		b.WriteString(content[prev:sp.start])
		b.WriteString(s.redaction)
		prev = sp.end
	}
	b.WriteString(content[prev:])

	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return Result{Text: b.String(), Rules: ids, Count: len(spans)}
}

// detect adds the spans of every gitleaks finding. A finding only carries
// the secret text, so each occurrence of it is redacted.
func (s *Scrubber) detect(content string, spans []span, matched map[string]struct{}) []span {
	if s.detector == nil {
		return spans
	}
	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	for _, f := range findings {
		secret := f.Secret
		if secret == "" || s.allowed(secret) {
			continue
		}
		for off := 0; off < len(content); {
			i := strings.Index(content[off:], secret)
			if i < 0 {
				break
			}
			start := off + i
			spans = append(spans, span{start, start + len(secret)})
			off = start + len(secret)
		}
		matched[gitleaksPrefix+f.RuleID] = struct{}{}
	}
	return spans
}

func (r compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, a := range s.allow {
		if a.MatchString(match) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping or touching ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	out := spans[:1]
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}
