package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Game     GameConfig     `yaml:"game"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	HTTPPort       int      `yaml:"http_port"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GameConfig tunes the game engine and the websocket endpoint
type GameConfig struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	CheckpointEvery       int           `yaml:"checkpoint_every"`
	PositionFreshness     time.Duration `yaml:"position_freshness"`
	PositionPointsPerTick int           `yaml:"position_points_per_tick"`
	// MessagesPerSecond limits inbound websocket messages per connection
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
}

// NATSConfig configures the optional NATS mirror of game events.
// An empty URL with Embedded false disables the mirror.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	EmbeddedPort  int    `yaml:"embedded_port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console", "json" or "" for auto
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults returns a configuration with every default applied
func Defaults() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Save writes the configuration as YAML, creating parent directories
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/milsim/milsim.db"
	}
	// Note: StaticDir intentionally has no default - empty means don't serve static files

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	if cfg.Game.TickInterval == 0 {
		cfg.Game.TickInterval = time.Second
	}
	if cfg.Game.CheckpointEvery == 0 {
		cfg.Game.CheckpointEvery = 10
	}
	if cfg.Game.PositionFreshness == 0 {
		cfg.Game.PositionFreshness = 30 * time.Second
	}
	if cfg.Game.PositionPointsPerTick == 0 {
		cfg.Game.PositionPointsPerTick = 1
	}
	if cfg.Game.MessagesPerSecond == 0 {
		cfg.Game.MessagesPerSecond = 20
	}
	if cfg.Game.MessageBurst == 0 {
		cfg.Game.MessageBurst = 40
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "milsim"
	}
	if cfg.NATS.Embedded && cfg.NATS.EmbeddedPort == 0 {
		cfg.NATS.EmbeddedPort = 4222
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// applyEnv overrides file settings with MILSIM_* environment variables
func (cfg *Config) applyEnv(getenv func(string) string) {
	if v := getenv("MILSIM_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := getenv("MILSIM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := getenv("MILSIM_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := getenv("MILSIM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (cfg *Config) validate() error {
	if cfg.Game.TickInterval < 0 {
		return fmt.Errorf("game.tick_interval must be positive")
	}
	if cfg.Game.CheckpointEvery < 0 {
		return fmt.Errorf("game.checkpoint_every must be positive")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", cfg.Log.Format)
	}
	return nil
}
