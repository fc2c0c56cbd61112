package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPGDatabase, cfg.Postgres.Database)
	assert.Equal(t, DefaultHistoryMessages, cfg.Pipeline.HistoryMaxMessages)
	assert.Equal(t, DefaultJanitorSpec, cfg.Janitor.Spec)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9999"

[postgres]
host = "db.internal"
database = "quill_test"

[search]
provider = "brave"
api_key = "k"

[pipeline]
history_max_messages = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "quill_test", cfg.Postgres.Database)
	assert.Equal(t, "brave", cfg.Search.Provider)
	assert.Equal(t, 5, cfg.Pipeline.HistoryMaxMessages)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultPGPort, cfg.Postgres.Port)
	assert.Equal(t, DefaultQdrantCollection, cfg.Qdrant.Collection)
}

func TestLoadMalformedFileErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
