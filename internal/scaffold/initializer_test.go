package scaffold

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/internal/config"
)

func TestInitialize(t *testing.T) {
	t.Run("writes a loadable default config", func(t *testing.T) {
		dir := t.TempDir()

		path, err := Initialize(dir, false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, ConfigFile), path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("creates missing directories", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "conf")
		_, err := Initialize(dir, false)
		require.NoError(t, err)
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ConfigFile)
		require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\ninstance: mine\n"), 0o644))

		_, err := Initialize(dir, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already initialized")
		assert.Contains(t, err.Error(), "--force")

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "instance: mine")
	})

	t.Run("force overwrites", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ConfigFile)
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

		_, err := Initialize(dir, true)
		require.NoError(t, err)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "default", cfg.Instance)
	})
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), nil, 0o644))
	assert.Error(t, CheckExisting(dir))
}

func TestPrintSuccess(t *testing.T) {
	var buf bytes.Buffer
	PrintSuccess(&buf, "conf/agora.yml")
	assert.Contains(t, buf.String(), "✓ conf/agora.yml")
	assert.Contains(t, buf.String(), "AGORA_CONFIG=conf/agora.yml agorad")
}
