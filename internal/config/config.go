// Package config loads runtime settings from .env files, AGRIYIELD_*
// environment variables, and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverS3       = "s3"
)

// Config is the full runtime configuration.
type Config struct {
	Storage     StorageConfig `yaml:"storage"`
	Log         LogConfig     `yaml:"log"`
	Timezone    string        `yaml:"timezone"`
	SeedFile    string        `yaml:"seed_file"`
	MetricsFile string        `yaml:"metrics_file"`
	TraceStdout bool          `yaml:"trace_stdout"`
}

// StorageConfig selects and parameterizes the key-value backend.
type StorageConfig struct {
	Driver      string      `yaml:"driver"`
	SQLitePath  string      `yaml:"sqlite_path"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	KeyPrefix   string      `yaml:"key_prefix"`
	Redis       RedisConfig `yaml:"redis"`
	S3          S3Config    `yaml:"s3"`
}

// RedisConfig holds connection settings for the redis driver.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// S3Config holds bucket settings for the s3 driver.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "agriyield.db",
			S3:         S3Config{Region: "us-east-1"},
		},
		Log:      LogConfig{Mode: "dev", Level: "info"},
		Timezone: "Local",
	}
}

// Load reads .env.local and .env (missing files are ignored, existing
// environment wins), applies AGRIYIELD_* variables over the defaults, overlays
// the YAML file named by AGRIYIELD_CONFIG when set, and validates the result.
func Load() (Config, error) {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", name, err)
		}
	}
	cfg := Default()
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if path := strings.TrimSpace(os.Getenv("AGRIYIELD_CONFIG")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
		return nil
	}

	str("AGRIYIELD_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("AGRIYIELD_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("AGRIYIELD_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("AGRIYIELD_KEY_PREFIX", &cfg.Storage.KeyPrefix)
	str("AGRIYIELD_REDIS_ADDR", &cfg.Storage.Redis.Addr)
	str("AGRIYIELD_REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	if v, ok := lookup("AGRIYIELD_REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		db, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AGRIYIELD_REDIS_DB: %w", err)
		}
		cfg.Storage.Redis.DB = db
	}
	str("AGRIYIELD_S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("AGRIYIELD_S3_REGION", &cfg.Storage.S3.Region)
	str("AGRIYIELD_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	if err := boolean("AGRIYIELD_S3_PATH_STYLE", &cfg.Storage.S3.PathStyle); err != nil {
		return err
	}
	str("AGRIYIELD_LOG_MODE", &cfg.Log.Mode)
	str("AGRIYIELD_LOG_LEVEL", &cfg.Log.Level)
	str("AGRIYIELD_TIMEZONE", &cfg.Timezone)
	str("AGRIYIELD_SEED_FILE", &cfg.SeedFile)
	str("AGRIYIELD_METRICS_FILE", &cfg.MetricsFile)
	return boolean("AGRIYIELD_TRACE_STDOUT", &cfg.TraceStdout)
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks driver-specific requirements.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("AGRIYIELD_REDIS_ADDR required for redis driver")
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("AGRIYIELD_S3_BUCKET required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the display timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
