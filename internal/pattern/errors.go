package pattern

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every *ConfigError via errors.Is.
var ErrConfiguration = errors.New("invalid configuration")

// ConfigError reports structural misconfiguration of a ranking or pack call.
// Values are rejected, never clamped.
type ConfigError struct {
	Field  string
	Reason string
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfiguration) true for any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}
