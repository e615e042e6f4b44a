package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(afero.NewMemMapFs())
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 3, cfg.Transaction.MaxRetries)
		n, err := cfg.MaxFileSize()
		require.NoError(t, err)
		assert.Equal(t, int64(1<<20), n)
	})

	t.Run("later files override earlier ones", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/home/.config/strand/config.yaml", []byte(`
user:
  name: Test User
  email: user@example.com
snapshot:
  max_file_size: 4MB
`), 0644))
		require.NoError(t, afero.WriteFile(fs, "/repo/.strand/config.yaml", []byte(`
user:
  email: repo@example.com
`), 0644))

		cfg, err := Load(fs, "/home/.config/strand/config.yaml", "/repo/.strand/config.yaml", "/missing.yaml")
		require.NoError(t, err)
		assert.Equal(t, "Test User", cfg.User.Name)
		assert.Equal(t, "repo@example.com", cfg.User.Email)
		n, err := cfg.MaxFileSize()
		require.NoError(t, err)
		assert.Equal(t, int64(4<<20), n)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("STRAND_LOG_LEVEL", "debug")
		cfg, err := Load(afero.NewMemMapFs())
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("invalid values", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte("snapshot:\n  max_file_size: lots\n"), 0644))
		_, err := Load(fs, "/c.yaml")
		assert.Error(t, err)
	})
}

func TestWriteRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()
	cfg.User.Name = "Someone"
	require.NoError(t, Write(fs, "/r/.strand/config.yaml", cfg))

	loaded, err := Load(fs, "/r/.strand/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestWritePartial(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, Write(fs, "/r/config.yaml", &Config{Snapshot: SnapshotConfig{MaxFileSize: "2MiB"}}))

	data, err := afero.ReadFile(fs, "/r/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "snapshot:\n    max_file_size: 2MiB\n", string(data))

	loaded, err := Load(fs, "/r/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "2MiB", loaded.Snapshot.MaxFileSize)
	assert.Equal(t, Default().Snapshot.Concurrency, loaded.Snapshot.Concurrency)
}
