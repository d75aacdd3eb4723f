package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTarget struct {
	Name    string        `mapstructure:"name" default:"unnamed"`
	Retries int           `mapstructure:"retries" default:"3"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func writeJSON(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_MergesMultipleFragmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", `{"name": "from-a"}`)
	writeJSON(t, dir, "b.json", `{"retries": 7, "timeout": "5s"}`)

	l := NewLoader("test", dir)
	require.NoError(t, l.Load(Required))

	var out testTarget
	require.NoError(t, l.Scan(&out))

	assert.Equal(t, "from-a", out.Name)
	assert.Equal(t, 7, out.Retries)
	assert.Equal(t, 5*time.Second, out.Timeout)
}

func TestLoader_ExcludesNamedFiles(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "recipes.json", `{"name": "should-not-apply"}`)
	writeJSON(t, dir, "settings.json", `{"name": "applies"}`)

	l := NewLoader("test", dir, "recipes.json")
	require.NoError(t, l.Load(Required))

	var out testTarget
	require.NoError(t, l.Scan(&out))
	assert.Equal(t, "applies", out.Name)
}

func TestLoader_DefaultsAppliedWhenUnset(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", `{}`)

	l := NewLoader("test", dir)
	require.NoError(t, l.Load(Required))

	var out testTarget
	require.NoError(t, l.Scan(&out))
	assert.Equal(t, "unnamed", out.Name)
	assert.Equal(t, 3, out.Retries)
}

func TestLoader_RequiredMissingDirectoryErrors(t *testing.T) {
	l := NewLoader("test", filepath.Join(t.TempDir(), "nonexistent"))
	err := l.Load(Required)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigsNotFound)
}

func TestLoader_OptionalMissingDirectoryScansDefaults(t *testing.T) {
	l := NewLoader("test", filepath.Join(t.TempDir(), "nonexistent"))
	require.NoError(t, l.Load(Optional))

	var out testTarget
	require.NoError(t, l.Scan(&out))
	assert.Equal(t, "unnamed", out.Name)
}
