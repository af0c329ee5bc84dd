package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"), testLogger())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agentcore.toml")
	contents := `
user_id = "u-1"
auto_flush_threshold = 4096

[session_info]
plan = "pro"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)
	require.Equal(t, "u-1", cfg.UserID)
	require.Equal(t, uint64(4096), cfg.AutoFlushThreshold)
	require.Equal(t, "pro", cfg.SessionInfo["plan"])
	require.True(t, cfg.TeeToSystemLog, "unset fields keep their default")
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agentcore.toml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_key = 1\n"), 0o600))

	_, err := Load(path, testLogger())
	require.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agentcore.toml")
	require.NoError(t, os.WriteFile(path, []byte("auto_flush_threshold = 1\n"), 0o600))

	_, err := Load(path, testLogger())
	require.Error(t, err)
}
