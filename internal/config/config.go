package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for nenya.
type Config struct {
	// Raindrop API access token. Token acquisition and refresh happen
	// outside this program.
	RaindropToken  string `env:"RAINDROP_TOKEN"`
	RaindropAPIURL string `env:"RAINDROP_API_URL" envDefault:"https://api.raindrop.io"`

	// Device name used to scope the session bucket. Defaults to hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Local databases. Empty values resolve to ~/.nenya/<name>.db.
	BookmarksDB string `env:"BOOKMARKS_DB"`
	StateDB     string `env:"STATE_DB"`

	// WebSocket endpoint of the browser companion that exposes windows,
	// tabs and tab groups.
	BrowserBridgeURL string `env:"BROWSER_BRIDGE_URL" envDefault:"ws://127.0.0.1:8787/bridge"`

	// Titles of the local mirror folders and the remote sessions parent.
	RootFolderTitle    string `env:"ROOT_FOLDER_TITLE" envDefault:"Raindrop"`
	UnsortedTitle      string `env:"UNSORTED_TITLE" envDefault:"Unsorted"`
	SessionsCollection string `env:"SESSIONS_COLLECTION" envDefault:"Sessions"`

	// Session export tuning.
	ExportInterval  time.Duration `env:"EXPORT_INTERVAL" envDefault:"5m"`
	CreateChunkSize int           `env:"CREATE_CHUNK_SIZE" envDefault:"10"`
	DeleteChunkSize int           `env:"DELETE_CHUNK_SIZE" envDefault:"100"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Optional MCP server. Disabled when the listen address is empty.
	MCPListenAddr string `env:"MCP_LISTEN_ADDR"`
	MCPAPIKey     string `env:"MCP_API_KEY"`
}

var wsURLPattern = regexp.MustCompile(`^wss?://`)

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. The Raindrop token usually lives there.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "nenya"
		}

		cfg.DeviceName = hostname
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var err error

	cfg.BookmarksDB, err = resolveDBPath(cfg.BookmarksDB, "bookmarks.db")
	if err != nil {
		return nil, err
	}

	cfg.StateDB, err = resolveDBPath(cfg.StateDB, "state.db")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RaindropToken, validation.Required.Error("RAINDROP_TOKEN is required")),
		validation.Field(&c.RaindropAPIURL,
			validation.Required.Error("RAINDROP_API_URL is required"),
			is.URL.Error("RAINDROP_API_URL must be a URL")),
		validation.Field(&c.BrowserBridgeURL,
			validation.Required.Error("BROWSER_BRIDGE_URL is required"),
			validation.Match(wsURLPattern).Error("BROWSER_BRIDGE_URL must start with ws:// or wss://")),
		validation.Field(&c.RootFolderTitle, validation.Required.Error("ROOT_FOLDER_TITLE must not be empty")),
		validation.Field(&c.UnsortedTitle, validation.Required.Error("UNSORTED_TITLE must not be empty")),
		validation.Field(&c.SessionsCollection, validation.Required.Error("SESSIONS_COLLECTION must not be empty")),
		validation.Field(&c.ExportInterval,
			validation.Required.Error("EXPORT_INTERVAL must be at least 1s"),
			validation.Min(time.Second).Error("EXPORT_INTERVAL must be at least 1s")),
		validation.Field(&c.CreateChunkSize,
			validation.Required.Error("CREATE_CHUNK_SIZE must be positive"),
			validation.Min(1).Error("CREATE_CHUNK_SIZE must be positive")),
		validation.Field(&c.DeleteChunkSize,
			validation.Required.Error("DELETE_CHUNK_SIZE must be positive"),
			validation.Min(1).Error("DELETE_CHUNK_SIZE must be positive")),
	)
}

// resolveDBPath returns path as an absolute path, or the default
// ~/.nenya/<name> location when path is empty.
func resolveDBPath(path, name string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}

		return filepath.Join(home, ".nenya", name), nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s to absolute path: %w", name, err)
	}

	return abs, nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// MCPEnabled reports whether the MCP server should be started.
func (c *Config) MCPEnabled() bool {
	return c.MCPListenAddr != ""
}
