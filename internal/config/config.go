// Package config loads poky settings from .env, POKY_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Kishta47/poky-app"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverValkey = "valkey"
	DriverNone   = "none"
)

// EnvPrefix prefixes every environment variable, e.g. POKY_BASE_API_URL.
const EnvPrefix = "POKY"

type Config struct {
	BaseAPIURL      string        `mapstructure:"base_api_url" yaml:"base_api_url"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	PersistDebounce time.Duration `mapstructure:"persist_debounce" yaml:"persist_debounce"`
	Storage         StorageConfig `mapstructure:"storage" yaml:"storage"`
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Path     string `mapstructure:"path" yaml:"path"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// String masks the storage password.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("base_api_url: %s\n", c.BaseAPIURL))
	sb.WriteString(fmt.Sprintf("timeout: %s\n", c.Timeout))
	sb.WriteString(fmt.Sprintf("log_level: %s\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("debug: %v\n", c.Debug))
	sb.WriteString(fmt.Sprintf("rate_limit: %d\n", c.RateLimit))
	sb.WriteString(fmt.Sprintf("persist_debounce: %s\n", c.PersistDebounce))
	sb.WriteString(fmt.Sprintf("storage.driver: %s\n", c.Storage.Driver))
	sb.WriteString(fmt.Sprintf("storage.path: %s\n", c.Storage.Path))
	sb.WriteString(fmt.Sprintf("storage.addr: %s\n", c.Storage.Addr))
	if c.Storage.Password != "" {
		sb.WriteString("storage.password: ********\n")
	} else {
		sb.WriteString("storage.password: (empty)\n")
	}
	sb.WriteString(fmt.Sprintf("storage.db: %d\n", c.Storage.DB))
	return sb.String()
}

// Load reads .env from the working directory (if present), then the YAML
// file at path (if non-empty), then POKY_* environment variables.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv file. Variables already
// set in the environment are not overridden by the file.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the browser build read VITE_BASE_API_URL; keep honouring it
	if err := v.BindEnv("base_api_url", EnvPrefix+"_BASE_API_URL", "VITE_BASE_API_URL"); err != nil {
		return nil, fmt.Errorf("bind base_api_url: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		BaseAPIURL:      poky.DefaultBaseURL,
		Timeout:         30 * time.Second,
		LogLevel:        "info",
		PersistDebounce: time.Second,
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   defaultStoragePath(),
			Addr:   "localhost:6379",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.BaseAPIURL == "" {
		errs = append(errs, errors.New("base_api_url must not be empty"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %d", c.RateLimit))
	}
	if c.PersistDebounce < 0 {
		errs = append(errs, fmt.Errorf("persist_debounce must not be negative, got %s", c.PersistDebounce))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	case DriverRedis, DriverValkey:
		if c.Storage.Addr == "" {
			errs = append(errs, fmt.Errorf("storage.addr is required for the %s driver", c.Storage.Driver))
		}
	case DriverNone:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("base_api_url", d.BaseAPIURL)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("persist_debounce", d.PersistDebounce)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.addr", d.Storage.Addr)
	v.SetDefault("storage.password", d.Storage.Password)
	v.SetDefault("storage.db", d.Storage.DB)
}

func defaultStoragePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "poky.db"
	}
	return filepath.Join(dir, "poky", "poky.db")
}
