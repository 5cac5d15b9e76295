package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, 8010, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 8, cfg.LookupConcurrency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("BASE_CURRENCY", "CHF")
	t.Setenv("PORT", "9000")
	t.Setenv("WORKER_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "CHF", cfg.BaseCurrency)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
}

func TestValidate(t *testing.T) {
	t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	cfg.BaseCurrency = "EURO"
	assert.Error(t, cfg.Validate())

	cfg.BaseCurrency = "EUR"
	cfg.WorkerConcurrency = 0
	assert.Error(t, cfg.Validate())
}
