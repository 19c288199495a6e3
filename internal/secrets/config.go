package secrets

import (
	"fmt"
	"regexp"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	Enabled   bool     `koanf:"enabled"`
	Redaction string   `koanf:"redaction"`
	Rules     []Rule   `koanf:"rules"`
	AllowList []string `koanf:"allow_list"`

	// Gitleaks adds the gitleaks default rule set on top of Rules.
	Gitleaks bool `koanf:"gitleaks"`
}

// Rule is one detection rule.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`

	// Keywords gate the rule: at least one must appear (case-insensitive)
	// in the content before the pattern runs.
	Keywords []string `koanf:"keywords"`
}

// DefaultConfig enables scrubbing with DefaultRules.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Redaction: DefaultRedaction,
		Rules:     DefaultRules(),
	}
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

func (c Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	rules := make([]compiledRule, 0, len(c.Rules))
	for i, r := range c.Rules {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: id is required", i)
		}
		if r.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: pattern is required", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		cr := compiledRule{id: r.ID, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, expr := range c.AllowList {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
