package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineSettings_DefaultsWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadEngineSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, "data", s.Root)
	assert.Equal(t, 10, s.MailboxCapacity)
	assert.Equal(t, time.Duration(0), s.AskDefaultTimeout)
	assert.True(t, s.Metrics.Enabled)
}

func TestLoadEngineSettings_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := "root: /var/lib/pilatus\nmailbox_capacity: 50\nask_default_timeout: 2s\nmetrics:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.yaml"), []byte(content), 0o644))

	s, err := LoadEngineSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/pilatus", s.Root)
	assert.Equal(t, 50, s.MailboxCapacity)
	assert.Equal(t, 2*time.Second, s.AskDefaultTimeout)
	assert.False(t, s.Metrics.Enabled)
}

func TestLoadEngineSettings_EnvOverridesRoot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvRoot, "/override/root")

	s, err := LoadEngineSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, "/override/root", s.Root)
}
