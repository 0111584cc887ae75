package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"RAINDROP_TOKEN",
		"RAINDROP_API_URL",
		"DEVICE_NAME",
		"BOOKMARKS_DB",
		"STATE_DB",
		"BROWSER_BRIDGE_URL",
		"ROOT_FOLDER_TITLE",
		"UNSORTED_TITLE",
		"SESSIONS_COLLECTION",
		"EXPORT_INTERVAL",
		"CREATE_CHUNK_SIZE",
		"DELETE_CHUNK_SIZE",
		"ENVIRONMENT",
		"LOG_LEVEL",
		"MCP_LISTEN_ADDR",
		"MCP_API_KEY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimalEnv sets the env vars needed for a valid config with
// databases inside a temp dir.
func setMinimalEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RAINDROP_TOKEN", "test-token")
	t.Setenv("BOOKMARKS_DB", filepath.Join(dir, "bookmarks.db"))
	t.Setenv("STATE_DB", filepath.Join(dir, "state.db"))

	return dir
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	dir := setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test-token", cfg.RaindropToken)
	assert.Equal(t, "https://api.raindrop.io", cfg.RaindropAPIURL)
	assert.Equal(t, "ws://127.0.0.1:8787/bridge", cfg.BrowserBridgeURL)
	assert.Equal(t, "Raindrop", cfg.RootFolderTitle)
	assert.Equal(t, "Unsorted", cfg.UnsortedTitle)
	assert.Equal(t, "Sessions", cfg.SessionsCollection)
	assert.Equal(t, 5*time.Minute, cfg.ExportInterval)
	assert.Equal(t, 10, cfg.CreateChunkSize)
	assert.Equal(t, 100, cfg.DeleteChunkSize)
	assert.Equal(t, filepath.Join(dir, "bookmarks.db"), cfg.BookmarksDB)
	assert.Equal(t, filepath.Join(dir, "state.db"), cfg.StateDB)
	assert.NotEmpty(t, cfg.DeviceName, "device name defaults to hostname")
	assert.False(t, cfg.MCPEnabled())
}

func TestLoad_MissingToken(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	os.Unsetenv("RAINDROP_TOKEN")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAINDROP_TOKEN")
}

func TestLoad_InvalidBridgeURL(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("BROWSER_BRIDGE_URL", "http://127.0.0.1:8787")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROWSER_BRIDGE_URL")
}

func TestLoad_ZeroChunkSize(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("CREATE_CHUNK_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREATE_CHUNK_SIZE")
}

func TestLoad_ShortExportInterval(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("EXPORT_INTERVAL", "10ms")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPORT_INTERVAL")
}

func TestLoad_BadDuration(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("EXPORT_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_ExplicitDeviceName(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("DEVICE_NAME", "work-laptop")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "work-laptop", cfg.DeviceName)
}

func TestLoad_RelativeDBPathResolved(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("STATE_DB", "state.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StateDB))
}

func TestLoad_MCPEnabled(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("MCP_LISTEN_ADDR", ":8090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MCPEnabled())
}

// --- IsProduction ---

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
	assert.False(t, (&Config{}).IsProduction())
}

// --- resolveDBPath ---

func TestResolveDBPath_DefaultUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := resolveDBPath("", "state.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".nenya", "state.db"), got)
}
