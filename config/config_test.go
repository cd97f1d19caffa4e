package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.PumpInterval)
	assert.Equal(t, 16384, cfg.SummaryCacheCapacity)
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeFile(t, "pump_interval: 50ms\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.PumpInterval)
	assert.Equal(t, DefaultSummaryCacheCapacity, cfg.SummaryCacheCapacity)
	assert.Equal(t, DefaultEpsilon, cfg.DefaultEpsilon)
	assert.Equal(t, DefaultScanWorkers, cfg.ScanWorkers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeFile(t, "pump_interval: -10ms\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeFile(t, "pump_interval: [not a duration\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsNegativePadding(t *testing.T) {
	cfg := Default()
	cfg.InstantIndexPadding = -1
	assert.True(t, errors.IsInvalid(cfg.Validate()))
}
