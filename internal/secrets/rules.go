package secrets

// DefaultRules returns the rules applied to pattern snippets. Snippets are
// source code, so the set favours self-identifying token prefixes and
// assignment shapes over free-text heuristics.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret_access_key"},
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)api[_-]?key['"]?\s*[:=]\s*['"][A-Za-z0-9_\-]{16,64}['"]`,
			Keywords: []string{"api"},
		},
		{
			ID:       "generic-password",
			Pattern:  `(?i)(?:password|passwd|secret)['"]?\s*[:=]\s*['"][^'"\s]{8,}['"]`,
			Keywords: []string{"pass", "secret"},
		},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{ID: "github-token", Pattern: `\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}\b`},
		{ID: "github-fine-grained", Pattern: `\bgithub_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `\bglpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `\bxox[abprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `\b(?:sk|rk)_live_[A-Za-z0-9]{24,}`},
		{ID: "npm-token", Pattern: `\bnpm_[A-Za-z0-9]{36}\b`},
		{ID: "anthropic-api-key", Pattern: `\bsk-ant-[A-Za-z0-9_\-]{32,}`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`},
		{
			ID:       "connection-url",
			Pattern:  `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?|nats)://[^:/\s]+:[^@\s]+@[^\s'"]+`,
			Keywords: []string{"://"},
		},
	}
}
