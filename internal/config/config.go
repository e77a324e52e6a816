// Package config loads quickkv settings from flags, QUICKKV_* environment
// variables and .env files
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/neogan74/quickkv/internal/backend"
	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/collection"
	"github.com/neogan74/quickkv/internal/telemetry"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "QUICKKV"

// Config represents the application configuration
type Config struct {
	Log        LogConfig
	Storage    StorageConfig
	Collection CollectionConfig
	Tracing    TracingConfig
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects and configures the storage driver
type StorageConfig struct {
	Driver     string
	DataDir    string
	BackupDir  string
	Secret     string
	DSN        string
	Database   string
	CacheSize  int
	SyncWrites bool
	Timeout    time.Duration
}

// CollectionConfig contains per-collection behaviour
type CollectionConfig struct {
	// ValueSecret encrypts individual values on top of any file encryption
	ValueSecret         string
	DisableKeyLocks     bool
	MaxObservers        int
	DisallowBigInt      bool
	AllowUnsafeIntegers bool
	DefaultTTL          time.Duration
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", backend.DriverMemory)
	v.SetDefault("storage.data_dir", backend.DefaultDataDir)
	v.SetDefault("storage.backup_dir", "")
	v.SetDefault("storage.secret", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.database", "")
	v.SetDefault("storage.cache_size", backend.DefaultCacheSize)
	v.SetDefault("storage.sync_writes", true)
	v.SetDefault("storage.timeout", 10*time.Second)

	v.SetDefault("collection.value_secret", "")
	v.SetDefault("collection.disable_key_locks", false)
	v.SetDefault("collection.max_observers", 0)
	v.SetDefault("collection.disallow_bigint", false)
	v.SetDefault("collection.allow_unsafe_integers", false)
	v.SetDefault("collection.default_ttl", time.Duration(0))

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "quickkv")
	v.SetDefault("tracing.service_version", "1.0.0")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_ratio", 1.0)
	v.SetDefault("tracing.insecure", true)
}

// NewViper returns a viper instance reading QUICKKV_* variables, with
// storage.data_dir mapped to QUICKKV_STORAGE_DATA_DIR
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadDotEnv loads .env and .env.local from the working directory.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// Load loads configuration from .env files and the environment
func Load() (*Config, error) {
	LoadDotEnv()
	return FromViper(NewViper())
}

// FromViper builds and validates a Config from v
func FromViper(v *viper.Viper) (*Config, error) {
	config := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: StorageConfig{
			Driver:     v.GetString("storage.driver"),
			DataDir:    v.GetString("storage.data_dir"),
			BackupDir:  v.GetString("storage.backup_dir"),
			Secret:     v.GetString("storage.secret"),
			DSN:        v.GetString("storage.dsn"),
			Database:   v.GetString("storage.database"),
			CacheSize:  v.GetInt("storage.cache_size"),
			SyncWrites: v.GetBool("storage.sync_writes"),
			Timeout:    v.GetDuration("storage.timeout"),
		},
		Collection: CollectionConfig{
			ValueSecret:         v.GetString("collection.value_secret"),
			DisableKeyLocks:     v.GetBool("collection.disable_key_locks"),
			MaxObservers:        v.GetInt("collection.max_observers"),
			DisallowBigInt:      v.GetBool("collection.disallow_bigint"),
			AllowUnsafeIntegers: v.GetBool("collection.allow_unsafe_integers"),
			DefaultTTL:          v.GetDuration("collection.default_ttl"),
		},
		Tracing: TracingConfig{
			Enabled:        v.GetBool("tracing.enabled"),
			Endpoint:       v.GetString("tracing.endpoint"),
			ServiceName:    v.GetString("tracing.service_name"),
			ServiceVersion: v.GetString("tracing.service_version"),
			Environment:    v.GetString("tracing.environment"),
			SamplingRatio:  v.GetFloat64("tracing.sampling_ratio"),
			InsecureConn:   v.GetBool("tracing.insecure"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	validDriver := false
	for _, d := range backend.Drivers {
		if c.Storage.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid storage driver: %s (must be one of %s)", c.Storage.Driver, strings.Join(backend.Drivers, ", "))
	}

	if c.Storage.Driver == backend.DriverFile && c.Storage.Secret == "" {
		return fmt.Errorf("storage secret must be set for the %s driver", backend.DriverFile)
	}

	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("invalid cache size: %d (must be positive)", c.Storage.CacheSize)
	}

	if c.Storage.Timeout < 0 {
		return fmt.Errorf("invalid storage timeout: %v (must not be negative)", c.Storage.Timeout)
	}

	if c.Collection.MaxObservers < 0 {
		return fmt.Errorf("invalid max observers: %d (must not be negative)", c.Collection.MaxObservers)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint must be specified when tracing is enabled")
		}
		if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
			return fmt.Errorf("invalid tracing sampling ratio: %v (must be 0.0-1.0)", c.Tracing.SamplingRatio)
		}
	}

	return nil
}

// Backend converts the storage section for the backend factory
func (c *Config) Backend() backend.Config {
	return backend.Config{
		Driver:     c.Storage.Driver,
		DataDir:    c.Storage.DataDir,
		BackupDir:  c.Storage.BackupDir,
		Secret:     c.Storage.Secret,
		DSN:        c.Storage.DSN,
		Database:   c.Storage.Database,
		CacheSize:  c.Storage.CacheSize,
		SyncWrites: c.Storage.SyncWrites,
		Timeout:    c.Storage.Timeout,
	}
}

// CollectionOptions converts the collection section. Logger and Clock are left to the caller.
func (c *Config) CollectionOptions() collection.Options {
	return collection.Options{
		Codec: codec.Options{
			DisallowBigInt:      c.Collection.DisallowBigInt,
			AllowUnsafeIntegers: c.Collection.AllowUnsafeIntegers,
		},
		Secret:          c.Collection.ValueSecret,
		DisableKeyLocks: c.Collection.DisableKeyLocks,
		MaxObservers:    c.Collection.MaxObservers,
	}
}

// TracingOptions converts the tracing section for telemetry.InitTracing
func (c *Config) TracingOptions() telemetry.TracingConfig {
	return telemetry.TracingConfig(c.Tracing)
}
