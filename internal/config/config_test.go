package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AGGREGATION_INTERVAL", "")
	t.Setenv("ALLOWED_TOKENS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "4000", cfg.ServerPort)
	assert.Equal(t, time.Second, cfg.AggregationInterval)
	assert.Nil(t, cfg.AllowedTokens)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DEBUG", "true")
	t.Setenv("MOCK_LOCATION_ENABLED", "not-a-bool")
	t.Setenv("AGGREGATION_INTERVAL", "250ms")
	t.Setenv("ALLOWED_TOKENS", "1, 2,x,4294967296,3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.True(t, cfg.Debug)
	assert.False(t, cfg.MockLocationEnabled)
	assert.Equal(t, 250*time.Millisecond, cfg.AggregationInterval)
	assert.Equal(t, []uint32{1, 2, 3}, cfg.AllowedTokens)
}
