package scope

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SemverChecker evaluates npm/cargo style ranges ("^1.2", "~4.17",
// ">=2, <3", "1.x") with Masterminds semver. Unparsable versions or ranges
// never satisfy.
type SemverChecker struct {
	// IncludePrerelease lets pre-release versions satisfy ranges that do not
	// mention a pre-release themselves.
	IncludePrerelease bool
}

// NewSemverChecker returns a checker that follows semver pre-release rules.
func NewSemverChecker() SemverChecker {
	return SemverChecker{}
}

// Satisfies implements VersionChecker.
func (c SemverChecker) Satisfies(version, constraint string) bool {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(version), "v"))
	if err != nil {
		return false
	}
	cons, err := semver.NewConstraint(strings.TrimSpace(constraint))
	if err != nil {
		return false
	}
	if c.IncludePrerelease && v.Prerelease() != "" {
		release, err := v.SetPrerelease("")
		if err == nil {
			return cons.Check(&release)
		}
	}
	return cons.Check(v)
}
