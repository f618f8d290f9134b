package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Library     LibraryConfig     `toml:"library"`
	Downloads   DownloadsConfig   `toml:"downloads"`
	Navidrome   NavidromeConfig   `toml:"navidrome"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Credentials CredentialsConfig `toml:"credentials"`
}

// LibraryConfig contains canonical library layout settings.
type LibraryConfig struct {
	Root            string `toml:"root"`             // Canonical library root (e.g. /music/library)
	DuplicatesDir   string `toml:"duplicates_dir"`   // Destination for relocated duplicates
	StagingDir      string `toml:"staging_dir"`      // Watched import-staging directory
	DuplicatePolicy string `toml:"duplicate_policy"` // "skip" or "move"
}

// DownloadsConfig contains worker pool, retry, and quality settings.
type DownloadsConfig struct {
	Workers      int     `toml:"workers"`       // Concurrent download workers
	BulkRate     float64 `toml:"bulk_rate"`     // Bulk-lane admissions per second
	RetryCeiling int     `toml:"retry_ceiling"` // Max attempts per job
	BackoffBase  int     `toml:"backoff_base"`  // Base backoff in seconds
	BackoffCap   int     `toml:"backoff_cap"`   // Max backoff in seconds
	Quality      string  `toml:"quality"`       // yt-dlp audio quality (e.g. "320K")
	TmpDir       string  `toml:"tmp_dir"`       // Scratch directory for in-flight downloads
}

// NavidromeConfig contains streaming server rescan settings.
type NavidromeConfig struct {
	URL          string `toml:"url"`
	Debounce     int    `toml:"debounce"`      // Coalescing window in seconds
	RetryCeiling int    `toml:"retry_ceiling"` // Max rescan call attempts
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	YouTube YouTubeConfig `toml:"youtube"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// YouTubeConfig contains YouTube Music proxy settings.
type YouTubeConfig struct {
	ProxyURL string `toml:"proxy_url"`
}

// BackoffBaseDuration returns the configured base backoff as a [time.Duration].
func (d DownloadsConfig) BackoffBaseDuration() time.Duration {
	return time.Duration(d.BackoffBase) * time.Second
}

// BackoffCapDuration returns the configured backoff ceiling as a [time.Duration].
func (d DownloadsConfig) BackoffCapDuration() time.Duration {
	return time.Duration(d.BackoffCap) * time.Second
}

// DebounceDuration returns the rescan coalescing window as a [time.Duration].
func (n NavidromeConfig) DebounceDuration() time.Duration {
	return time.Duration(n.Debounce) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// A .env file in the working directory, if present, is loaded first; selected
// environment variables override file values so secrets can stay out of the
// config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(&config)

	return &config, nil
}

// applyEnvOverrides replaces config values with environment variables when set.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		config.Credentials.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		config.Credentials.Spotify.ClientSecret = v
	}
	if v := os.Getenv("NAVIDROME_URL"); v != "" {
		config.Navidrome.URL = v
	}
	if v := os.Getenv("MUSIC_LIBRARY_ROOT"); v != "" {
		config.Library.Root = v
	}
	if v := os.Getenv("DOWNLOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Downloads.Workers = n
		}
	}
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
