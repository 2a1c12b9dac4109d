// Package config provides Viper-based configuration loading for the collaboration server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Document store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// Name identifies this instance in logs.
	Name string `mapstructure:"name"`
	// ShutdownTimeout bounds how long services get to stop on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// StoreConfig selects and tunes the room document store.
type StoreConfig struct {
	// Driver is one of "memory", "postgres", or "redis".
	Driver string `mapstructure:"driver"`
	// SeedDir holds YAML room documents loaded into the memory driver at startup.
	SeedDir string `mapstructure:"seed_dir"`
	// RefreshInterval is how often cached snapshots are reloaded from the store.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// LoadTimeout bounds the background load a cache miss starts.
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

// WebSocketConfig holds the websocket listener settings.
type WebSocketConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ReadLimit is the maximum accepted inbound message size in bytes.
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongTimeout is how long a peer may stay silent before being dropped.
	// Pings are sent at 9/10 of this interval.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// TCPConfig holds the line-delimited TCP listener settings.
type TCPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
func (t TCPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	TCP       TCPConfig       `mapstructure:"tcp"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants. Database and Redis settings
// are only checked when the selected store driver needs them.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	check := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	check(validateServer(c.Server))
	check(validateStore(c.Store))
	switch c.Store.Driver {
	case DriverPostgres:
		check(c.Database.Validate())
	case DriverRedis:
		check(validateRedis(c.Redis))
	}
	check(validateWebSocket(c.WebSocket))
	if c.TCP.Enabled {
		check(validateTCP(c.TCP))
	}
	check(validateLogging(c.Logging))

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	return joined(errs)
}

// Validate checks the PostgreSQL settings on their own; cmd/migrate and
// cmd/seed-docs use it regardless of the configured store driver.
func (d DatabaseConfig) Validate() error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joined(errs)
}

func validateRedis(r RedisConfig) error {
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty")
	}
	if r.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be >= 0, got %d", r.DB))
	}
	return joined(errs)
}

func validateStore(s StoreConfig) error {
	var errs []string
	switch s.Driver {
	case DriverMemory, DriverPostgres, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be one of [memory, postgres, redis], got %q", s.Driver))
	}
	if s.RefreshInterval < 0 {
		errs = append(errs, "store.refresh_interval must not be negative")
	}
	if s.LoadTimeout <= 0 {
		errs = append(errs, "store.load_timeout must be positive")
	}
	return joined(errs)
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.Port < 1 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 1-65535, got %d", w.Port))
	}
	if w.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("websocket.read_limit must be >= 1, got %d", w.ReadLimit))
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.PongTimeout <= 0 {
		errs = append(errs, "websocket.pong_timeout must be positive")
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	return joined(errs)
}

func validateTCP(t TCPConfig) error {
	var errs []string
	if t.Port < 1 || t.Port > 65535 {
		errs = append(errs, fmt.Sprintf("tcp.port must be 1-65535, got %d", t.Port))
	}
	if t.ReadTimeout < 0 {
		errs = append(errs, "tcp.read_timeout must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "tcp.write_timeout must not be negative")
	}
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("tcp.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	return joined(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func joined(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with STYLESYNC_ prefix
	v.SetEnvPrefix("STYLESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "stylesync")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "stylesync")
	v.SetDefault("database.password", "stylesync")
	v.SetDefault("database.name", "stylesync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.seed_dir", "content/rooms")
	v.SetDefault("store.refresh_interval", "30s")
	v.SetDefault("store.load_timeout", "250ms")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 8080)
	v.SetDefault("websocket.read_limit", 64*1024)
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("tcp.enabled", false)
	v.SetDefault("tcp.host", "0.0.0.0")
	v.SetDefault("tcp.port", 8081)
	v.SetDefault("tcp.read_timeout", "5m")
	v.SetDefault("tcp.write_timeout", "10s")
	v.SetDefault("tcp.send_buffer", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
