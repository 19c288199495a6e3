package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/logging"
)

const (
	// EnvPrefix marks the environment variables read by Load.
	EnvPrefix = "PATTERND_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// nestedKeys maps environment key prefixes (after EnvPrefix, lowercased) to
// their dotted koanf paths. Longer prefixes must come first.
var nestedKeys = []struct {
	env  string
	path string
}{
	{"ranking_weights_", "ranking.weights."},
	{"pack_quotas_", "pack.quotas."},
	{"logging_output_", "logging.output."},
	{"logging_sampling_", "logging.sampling."},
	{"logging_redaction_", "logging.redaction."},
	{"telemetry_sampling_", "telemetry.sampling."},
	{"telemetry_metrics_", "telemetry.metrics."},
	{"telemetry_shutdown_", "telemetry.shutdown."},
}

// DefaultPath returns ~/.config/patternd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "patternd", "config.yaml"), nil
}

// Load reads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (PATTERND_RANKING_CANDIDATE_CAP, ...)
//  2. YAML config file (~/.config/patternd/config.yaml by default)
//  3. Default()
//
// A missing file is not an error. An existing file must live under
// ~/.config/patternd/ or /etc/patternd/, carry 0600 or 0400 permissions,
// and be at most 1MB.
//
// Environment variables map to keys by stripping the prefix, lowercasing,
// and splitting the section on the first underscore:
//
//	PATTERND_PACK_BUDGET_BYTES      -> pack.budget_bytes
//	PATTERND_RANKING_WEIGHTS_TRUST  -> ranking.weights.trust
//	PATTERND_LOGGING_LEVEL          -> logging.level
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := unmarshal(k, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// EnsureConfigDir creates ~/.config/patternd with 0700 permissions.
func EnsureConfigDir() error {
	p, err := DefaultPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// envKey maps PATTERND_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, n := range nestedKeys {
		if strings.HasPrefix(lower, n.env) {
			return n.path + strings.TrimPrefix(lower, n.env)
		}
	}
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// unmarshal decodes k over the defaults already in cfg. Lists and maps
// present in the input replace the defaults instead of merging with them.
func unmarshal(k *koanf.Koanf, cfg *Config) error {
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				levelHook,
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			ZeroFields:       true,
		},
	})
}

var levelType = reflect.TypeOf(zapcore.Level(0))

// levelHook accepts "trace" in addition to zap's level names.
func levelHook(from, to reflect.Type, data any) (any, error) {
	if to != levelType || from.Kind() != reflect.String {
		return data, nil
	}
	return logging.LevelFromString(data.(string))
}

// readConfigFile validates and reads the file through one descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

// validateConfigPath checks that path resolves into an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowed := []string{
		filepath.Join(home, ".config", "patternd"),
		"/etc/patternd",
	}
	for _, dir := range allowed {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/patternd/ or /etc/patternd/")
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
