package pattern

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeta_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    Meta
		wantErr error
	}{
		{name: "valid", meta: Meta{ID: "p1", Type: TypeReusable}},
		{name: "empty id", meta: Meta{ID: "  ", Type: TypeReusable}, wantErr: ErrEmptyID},
		{name: "unknown type", meta: Meta{ID: "p1", Type: "snippet"}, wantErr: ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestType_IsBoosted(t *testing.T) {
	assert.True(t, TypePolicy.IsBoosted())
	assert.True(t, TypeAntiPattern.IsBoosted())
	assert.True(t, TypeFailureFix.IsBoosted())
	assert.False(t, TypeReusable.IsBoosted())
	assert.False(t, TypeMigration.IsBoosted())
}

func TestTrustSnapshot_Params(t *testing.T) {
	var nilSnap *TrustSnapshot
	_, _, ok := nilSnap.Params()
	assert.False(t, ok)

	a, b := 3.0, 4.0
	_, _, ok = (&TrustSnapshot{Alpha: &a}).Params()
	assert.False(t, ok, "beta missing")

	alpha, beta, ok := (&TrustSnapshot{Alpha: &a, Beta: &b}).Params()
	require.True(t, ok)
	assert.Equal(t, 3.0, alpha)
	assert.Equal(t, 4.0, beta)
}

func TestSignals_Empty(t *testing.T) {
	var nilSignals *Signals
	assert.True(t, nilSignals.IsEmpty())
	assert.True(t, (&Signals{Repo: "acme/api"}).IsEmpty())
	assert.False(t, (&Signals{Languages: []string{"go"}}).IsEmpty())
}

func TestNewEmptyPack_EncodesArrays(t *testing.T) {
	data, err := json.Marshal(NewEmptyPack("task", 8192))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"candidates":[]`)
	assert.Contains(t, string(data), `"tests":[]`)
	assert.Contains(t, string(data), `"budget_bytes":8192`)
	assert.NotContains(t, string(data), "trimmed_reason")
}

func TestConfigError_Is(t *testing.T) {
	err := NewConfigError("candidate_cap", "must be positive, got %d", 0)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, "invalid configuration: candidate_cap: must be positive, got 0", err.Error())

	var cfgErr *ConfigError
	require.True(t, errors.As(error(err), &cfgErr))
	assert.Equal(t, "candidate_cap", cfgErr.Field)
}
