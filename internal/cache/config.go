package cache

import (
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Config sizes the scoring cache tables.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// RankedTTL bounds how long a ranked-query result is reused.
	RankedTTL time.Duration `koanf:"ranked_ttl"`

	// TTL applies to the semver, path and Wilson tables.
	TTL time.Duration `koanf:"ttl"`

	RankedSize int `koanf:"ranked_size"`
	SemverSize int `koanf:"semver_size"`
	PathSize   int `koanf:"path_size"`
	WilsonSize int `koanf:"wilson_size"`
}

// DefaultConfig returns the default table sizes.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		RankedTTL:  5 * time.Minute,
		TTL:        time.Hour,
		RankedSize: 512,
		SemverSize: 4096,
		PathSize:   16384,
		WilsonSize: 8192,
	}
}

// Validate checks the configuration. A zero size disables that table.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RankedTTL < 0 {
		return pattern.NewConfigError("cache.ranked_ttl", "must be >= 0, got %s", c.RankedTTL)
	}
	if c.TTL < 0 {
		return pattern.NewConfigError("cache.ttl", "must be >= 0, got %s", c.TTL)
	}
	for _, f := range []struct {
		field string
		size  int
	}{
		{"cache.ranked_size", c.RankedSize},
		{"cache.semver_size", c.SemverSize},
		{"cache.path_size", c.PathSize},
		{"cache.wilson_size", c.WilsonSize},
	} {
		if f.size < 0 {
			return pattern.NewConfigError(f.field, "must be >= 0, got %d", f.size)
		}
	}
	return nil
}
