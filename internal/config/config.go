// Package config loads patternd configuration.
//
// Values come from hardcoded defaults, then an optional YAML file, then
// PATTERND_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/cache"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pack"
	"github.com/fyrsmithlabs/patternd/internal/ranking"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
	"github.com/fyrsmithlabs/patternd/internal/trust"
)

// Trust store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds the complete patternd configuration.
type Config struct {
	Ranking   ranking.Config   `koanf:"ranking"`
	Pack      pack.Options     `koanf:"pack"`
	Cache     cache.Config     `koanf:"cache"`
	Trust     TrustConfig      `koanf:"trust"`
	Snapshot  SnapshotConfig   `koanf:"snapshot"`
	Events    EventsConfig     `koanf:"events"`
	Server    ServerConfig     `koanf:"server"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Secrets   secrets.Config   `koanf:"secrets"`
}

// TrustConfig selects where Beta parameters persist.
type TrustConfig struct {
	Store string  `koanf:"store"`
	Path  string  `koanf:"path"`
	Z     float64 `koanf:"z"`
}

// SnapshotConfig locates the pattern snapshot.
type SnapshotConfig struct {
	Path     string        `koanf:"path"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce"`
}

// EventsConfig configures the NATS outcome-event consumer.
type EventsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	URL          string        `koanf:"url"`
	Subject      string        `koanf:"subject"`
	Queue        string        `koanf:"queue"`
	Token        Secret        `koanf:"token"`
	ApplyTimeout time.Duration `koanf:"apply_timeout"`
}

// ServerConfig holds HTTP server configuration for /metrics and /health.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       float64       `koanf:"rate_limit"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Ranking: ranking.DefaultConfig(),
		Pack:    pack.DefaultOptions(),
		Cache:   cache.DefaultConfig(),
		Trust: TrustConfig{
			Store: StoreMemory,
			Z:     trust.DefaultZ,
		},
		Snapshot: SnapshotConfig{
			Debounce: 250 * time.Millisecond,
		},
		Events: EventsConfig{
			URL:          "nats://127.0.0.1:4222",
			Subject:      "patternd.trust.events",
			Queue:        "patternd",
			ApplyTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9464,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Secrets:   secrets.DefaultConfig(),
	}
}

// Validate checks every section and joins the errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Ranking.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ranking: %w", err))
	}
	if err := c.Pack.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pack: %w", err))
	}
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}

	switch c.Trust.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Trust.Path == "" {
			errs = append(errs, errors.New("trust.path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("trust.store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Trust.Store))
	}
	if c.Trust.Z <= 0 {
		errs = append(errs, fmt.Errorf("trust.z must be > 0, got %g", c.Trust.Z))
	}

	if c.Snapshot.Debounce < 0 {
		errs = append(errs, errors.New("snapshot.debounce must be >= 0"))
	}

	if c.Events.Enabled {
		if c.Events.URL == "" {
			errs = append(errs, errors.New("events.url is required when events are enabled"))
		}
		if c.Events.Subject == "" {
			errs = append(errs, errors.New("events.subject is required when events are enabled"))
		}
		if c.Events.ApplyTimeout <= 0 {
			errs = append(errs, errors.New("events.apply_timeout must be positive"))
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit cannot be negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}
