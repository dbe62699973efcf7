package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Builder     BuilderConfig     `toml:"builder"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// DatabaseConfig contains session database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	SecureCookies         bool   `toml:"secure_cookies"`
}

// BuilderConfig tunes the playlist builder.
type BuilderConfig struct {
	ToleranceBPM        float64 `toml:"tolerance_bpm"`
	SeedWindowSize      int     `toml:"seed_window_size"`
	RecommendationLimit int     `toml:"recommendation_limit"`
	FetchConcurrency    int     `toml:"fetch_concurrency"`
	RateLimit           float64 `toml:"rate_limit"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path,
// then applies environment variable overrides from a .env file if one exists.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.applyEnv()
	return &config
}

// applyEnv overlays environment variables onto the configuration.
//
// Loads a .env file from the working directory when present (missing files
// are not an error), matching how credentials were provisioned in deployment.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Credentials.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Credentials.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REDIRECT_URI"); v != "" {
		c.Credentials.Spotify.RedirectURI = v
	}
	if v := os.Getenv("SESSION_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate checks that the configuration carries usable credentials and tuning values.
func (c *Config) Validate() error {
	if c.Credentials.Spotify.ClientID == "" || c.Credentials.Spotify.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret are required", ErrMissingCredentials)
	}
	if c.Credentials.Spotify.RedirectURI == "" {
		return fmt.Errorf("%w: spotify redirect_uri is required", ErrInvalidConfig)
	}
	if c.Builder.ToleranceBPM <= 0 {
		return fmt.Errorf("%w: builder tolerance_bpm must be positive", ErrInvalidConfig)
	}
	if c.Builder.SeedWindowSize < 2 || c.Builder.SeedWindowSize > 5 {
		return fmt.Errorf("%w: builder seed_window_size must be between 2 and 5", ErrInvalidConfig)
	}
	if c.Builder.RecommendationLimit <= 0 || c.Builder.RecommendationLimit > 100 {
		return fmt.Errorf("%w: builder recommendation_limit must be between 1 and 100", ErrInvalidConfig)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
