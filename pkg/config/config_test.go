package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acelabs/ace-go/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
enabled: true
provider:
  model: claude-3-5-haiku-latest
store:
  path: /tmp/playbook.db
curation:
  removal_threshold: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Provider.Model)
	assert.Equal(t, "/tmp/playbook.db", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Curation.RemovalThreshold)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2.0, cfg.Gateway.BackoffMultiplier)
	assert.Equal(t, 0.7, cfg.Curation.MinInsightConfidence)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing model", "provider:\n  model: \"\"\n"},
		{"negative threshold", "curation:\n  removal_threshold: -1\n"},
		{"confidence above one", "curation:\n  min_insight_confidence: 1.5\n"},
		{"zero attempts", "gateway:\n  max_attempts: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, errors.ValidationFailed, errors.CodeOf(err))
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "enabled: [unterminated"))
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}
