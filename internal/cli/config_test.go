package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
backup_generations: 5
lock_ttl: 30s
operation_timeout: 10s
batch_timeout: 5m
checkpoint_interval: 4
predicate_timeout: 15s
cost_gate:
  source_file: /tmp/cost
  max_acceptable: 100
  pause_above: 200
  resume_below: 50
  poll_interval: 2s
  max_wait: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.BackupGenerations)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.LockTTL))
	assert.Equal(t, 5*time.Minute, time.Duration(cfg.BatchTimeout))
	assert.Equal(t, 4, cfg.CheckpointInterval)

	require.NotNil(t, cfg.CostGate)
	gate := cfg.CostGate.gateConfig()
	assert.Equal(t, 100.0, gate.MaxAcceptable)
	assert.Equal(t, 2*time.Second, gate.PollInterval)
	assert.Equal(t, time.Minute, gate.MaxWait)
}

func TestLoadConfig_EmptyIsValid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)
	assert.Nil(t, cfg.CostGate)
}

func TestLoadConfig_RejectsUnknownField(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `backup_generatins: 5`))
	require.Error(t, err, "misspelled key must be rejected")
}

func TestLoadConfig_RejectsBadDuration(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `lock_ttl: soon`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadConfig_AcceptsIntegerNanoseconds(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `operation_timeout: 1000000000`))
	require.NoError(t, err)
	assert.Equal(t, time.Second, time.Duration(cfg.OperationTimeout))
}

func TestLoadConfig_CostGateRequiresSourceFile(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
cost_gate:
  max_acceptable: 100
  pause_above: 200
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_file is required")
}

func TestLoadConfig_CostGateThresholdOrdering(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
cost_gate:
  source_file: /tmp/cost
  max_acceptable: 200
  pause_above: 100
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pause_above")
}

func TestLoadConfig_RejectsNegativeBackupGenerations(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `backup_generations: -1`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup_generations must be non-negative")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
