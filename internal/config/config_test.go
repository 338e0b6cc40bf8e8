package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultConsensusMode, cfg.ConsensusMode)
	assert.Equal(t, DefaultParallelQuorum, cfg.ParallelQuorum)
	assert.Equal(t, DefaultMaxAIWeight, cfg.MaxAIWeight)
	assert.Equal(t, DefaultConsensusThreshold, cfg.ConsensusThreshold)
	assert.Equal(t, DefaultContainmentMaxAge, cfg.ContainmentMaxAge)
	assert.Equal(t, []string{"anthropic", "openai", "gemini"}, cfg.Providers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONSENSUS_MODE", "sequential")
	t.Setenv("PROVIDERS", "fallback")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("THREAT_CRITICAL_AT", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sequential", cfg.ConsensusMode)
	assert.Equal(t, []string{"fallback"}, cfg.Providers)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 0.9, cfg.CriticalAt)
}

func TestValidateRejectsBadMode(t *testing.T) {
	t.Setenv("CONSENSUS_MODE", "quorum")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsNonMonotonicBoundaries(t *testing.T) {
	t.Setenv("THREAT_MEDIUM_AT", "0.7")
	t.Setenv("THREAT_HIGH_AT", "0.6")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	t.Setenv("CONSENSUS_THRESHOLD", "1.5")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsEmptyProviders(t *testing.T) {
	t.Setenv("PROVIDERS", " , ")
	_, err := Load()
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ENV", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
