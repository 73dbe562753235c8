package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load(viper.New(), ".", "local")
	require.NoError(t, err)

	assert.Equal(t, "5108", cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.Processor.Delay)
	assert.True(t, cfg.Processor.Succeeded)
	assert.Equal(t, 5, cfg.Processor.PublishPolicy.MaximumAttempts)
	assert.Equal(t, "http://localhost:4566", cfg.AWS.Endpoint)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PAYMENT_PROCESSOR_PROCESSOR_PAYMENT_SUCCEEDED", "false")
	t.Setenv("PAYMENT_PROCESSOR_PROCESSOR_DELAY", "2s")

	cfg, err := Load(viper.New(), ".", "local")
	require.NoError(t, err)

	assert.False(t, cfg.Processor.Succeeded)
	assert.Equal(t, 2*time.Second, cfg.Processor.Delay)
}

func TestLoad_NegativeDelay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"processor": {"delay": "-1s"}}`), 0o600))

	_, err := Load(viper.New(), dir, "broken")
	assert.Error(t, err)
}
