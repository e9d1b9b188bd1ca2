package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the course tracker
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Catalog       CatalogConfig       `mapstructure:"catalog" yaml:"catalog"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Calendar      CalendarConfig      `mapstructure:"calendar" yaml:"calendar"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string  `mapstructure:"address" yaml:"address"`
	Port         int     `mapstructure:"port" yaml:"port"`
	ReadTimeout  int     `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int     `mapstructure:"write_timeout" yaml:"write_timeout"`
	RateLimit    float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst    int     `mapstructure:"rate_burst" yaml:"rate_burst"`

	// JWTSecret enables bearer-token auth on /api when set
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Password  string        `mapstructure:"password" yaml:"password"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"`
}

// CatalogConfig points at an optional medications file overriding the bundled one
type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// NotificationsConfig holds local notification settings
type NotificationsConfig struct {
	Authorized   bool          `mapstructure:"authorized" yaml:"authorized"`
	SnoozeDelay  time.Duration `mapstructure:"snooze_delay" yaml:"snooze_delay"`
	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
}

// CalendarConfig selects the timezone whose day boundaries are used
type CalendarConfig struct {
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = GetDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "asit.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "notifications"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "asit.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if _, err := LoadEnvFiles(dataDir); err != nil {
		return nil, err
	}

	// Environment variables (ASIT_SERVER_PORT, ASIT_CATALOG_PATH, etc.)
	v.SetEnvPrefix("ASIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.token_ttl", 7*24*time.Hour)

	v.SetDefault("notifications.authorized", true)
	v.SetDefault("notifications.snooze_delay", time.Hour)
	v.SetDefault("notifications.sync_interval", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Default returns the configuration Load produces with no file and no env
func Default(dataDir string) *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "127.0.0.1",
			Port:         8765,
			ReadTimeout:  30,
			WriteTimeout: 30,
			RateLimit:    20,
			RateBurst:    40,
			TokenTTL:     7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			DataDir:    dataDir,
			SQLitePath: filepath.Join(dataDir, "asit.db"),
			BadgerPath: filepath.Join(dataDir, "notifications"),
		},
		Notifications: NotificationsConfig{
			Authorized:   true,
			SnoozeDelay:  time.Hour,
			SyncInterval: 15 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// GetDefaultDataDir resolves the data directory from XDG or the home directory
func GetDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "asit")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "asit")
}

// loadEnvOverrides applies the short aliases that viper's AutomaticEnv does not cover
func loadEnvOverrides(cfg *Config) {
	cfg.Storage.DataDir = GetEnvDefault("ASIT_STORAGE_DATA_DIR", cfg.Storage.DataDir)
	cfg.Catalog.Path = ResolveEnvWithAliases("ASIT_CATALOG_PATH", cfg.Catalog.Path)
	cfg.Calendar.Timezone = ResolveEnvWithAliases("ASIT_CALENDAR_TIMEZONE", cfg.Calendar.Timezone)
	cfg.Log.Level = ResolveEnvWithAliases("ASIT_LOG_LEVEL", cfg.Log.Level)
	cfg.Server.JWTSecret = ResolveEnvWithAliases("ASIT_SERVER_JWT_SECRET", cfg.Server.JWTSecret)

	if port := ResolveEnvWithAliases("ASIT_SERVER_PORT", ""); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Server.JWTSecret != "" && len(cfg.Server.JWTSecret) < 16 {
		return fmt.Errorf("server.jwt_secret must be at least 16 characters")
	}
	if cfg.Notifications.SnoozeDelay <= 0 {
		return fmt.Errorf("notifications.snooze_delay must be positive")
	}
	if cfg.Notifications.SyncInterval <= 0 {
		return fmt.Errorf("notifications.sync_interval must be positive")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the calendar timezone, time.Local when unset
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Calendar.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar.timezone %q: %w", c.Calendar.Timezone, err)
	}
	return loc, nil
}

// WriteDefault writes the default configuration as YAML; existing files are kept
func WriteDefault(path, dataDir string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(Default(dataDir))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
