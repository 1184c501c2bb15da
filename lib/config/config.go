// Package config loads the respool configuration file.
//
// The file is TOML. Pool, guard, metrics and log settings map to typed
// sections; the backend sections ([database] and [redis]) are kept as raw
// tables and decoded into the backend's own configuration type when the
// backend is built, so each topology only accepts its own keys.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/libsql"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/redisconn"
	"github.com/go-i2p/respool/lib/resilience"
)

// Default configuration values
const (
	DefaultPoolName      = "respool"
	DefaultMaxSize       = 16
	DefaultDatabasePath  = "respool.db"
	DefaultMetricsListen = "127.0.0.1:9090"
	DefaultMetricsPath   = "/metrics"
	DefaultLogLevel      = "info"
)

// Backends
const (
	BackendLibSQL = "libsql"
	BackendRedis  = "redis"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = fmt.Errorf("config: %w", apperrors.ErrConfiguration)

// Config holds all configuration for respool.
type Config struct {
	// Backend selects the resource type: "libsql" or "redis".
	Backend  string         `toml:"backend" mapstructure:"backend"`
	Pool     PoolConfig     `toml:"pool" mapstructure:"pool"`
	Guard    GuardConfig    `toml:"guard" mapstructure:"guard"`
	Database map[string]any `toml:"database,omitempty" mapstructure:"database"`
	Redis    map[string]any `toml:"redis,omitempty" mapstructure:"redis"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
}

// PoolConfig contains pool sizing and timeouts. Unset timeouts mean no
// limit; a zero wait timeout means never wait for a free slot.
type PoolConfig struct {
	Name           string         `toml:"name" mapstructure:"name"`
	MaxSize        int            `toml:"max_size" mapstructure:"max_size"`
	WaitTimeout    *time.Duration `toml:"wait_timeout,omitempty" mapstructure:"wait_timeout"`
	CreateTimeout  *time.Duration `toml:"create_timeout,omitempty" mapstructure:"create_timeout"`
	RecycleTimeout *time.Duration `toml:"recycle_timeout,omitempty" mapstructure:"recycle_timeout"`
}

// GuardConfig contains the circuit breaker and create rate limit wrapped
// around the backend.
type GuardConfig struct {
	// Enabled controls whether creations go through the guard
	Enabled             bool          `toml:"enabled" mapstructure:"enabled"`
	FailureThreshold    int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold    int           `toml:"success_threshold" mapstructure:"success_threshold"`
	OpenTimeout         time.Duration `toml:"open_timeout" mapstructure:"open_timeout"`
	MaxHalfOpenRequests int           `toml:"max_half_open_requests" mapstructure:"max_half_open_requests"`
	// CreateRate is the maximum number of creations per second (0 = unlimited)
	CreateRate  float64 `toml:"create_rate" mapstructure:"create_rate"`
	CreateBurst int     `toml:"create_burst" mapstructure:"create_burst"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
	Path    string `toml:"path" mapstructure:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level" mapstructure:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	breaker := resilience.DefaultBreakerConfig()
	return &Config{
		Backend: BackendLibSQL,
		Pool: PoolConfig{
			Name:    DefaultPoolName,
			MaxSize: DefaultMaxSize,
		},
		Guard: GuardConfig{
			Enabled:             true,
			FailureThreshold:    breaker.FailureThreshold,
			SuccessThreshold:    breaker.SuccessThreshold,
			OpenTimeout:         breaker.OpenTimeout,
			MaxHalfOpenRequests: breaker.MaxHalfOpenRequests,
			CreateBurst:         1,
		},
		Database: map[string]any{
			"type": string(libsql.TopologyLocal),
			"path": DefaultDatabasePath,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
			Path:    DefaultMetricsPath,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	// Backend tables replace the defaults instead of merging with them.
	if _, ok := raw["database"]; ok {
		cfg.Database = nil
	}
	if err := decode(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors, including the backend
// section of the selected backend.
func (c *Config) Validate() error {
	if c.Pool.Name == "" {
		return fmt.Errorf("%w: pool.name is required", ErrInvalid)
	}
	if err := c.PoolConfig().Validate(); err != nil {
		return fmt.Errorf("%w: pool: %v", ErrInvalid, err)
	}
	if err := c.GuardConfig().Validate(); err != nil {
		return fmt.Errorf("%w: guard: %v", ErrInvalid, err)
	}
	if c.Guard.FailureThreshold < 0 || c.Guard.SuccessThreshold < 0 || c.Guard.MaxHalfOpenRequests < 0 {
		return fmt.Errorf("%w: guard thresholds must not be negative", ErrInvalid)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", ErrInvalid)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	switch c.Backend {
	case BackendLibSQL:
		db, err := c.LibSQLDatabase()
		if err != nil {
			return err
		}
		return db.Validate()
	case BackendRedis:
		rc, err := c.RedisConfig()
		if err != nil {
			return err
		}
		return rc.Validate()
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
}

// PoolConfig returns the pool settings.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		Name:    c.Pool.Name,
		MaxSize: c.Pool.MaxSize,
		Timeouts: pool.Timeouts{
			Wait:    c.Pool.WaitTimeout,
			Create:  c.Pool.CreateTimeout,
			Recycle: c.Pool.RecycleTimeout,
		},
	}
}

// GuardConfig returns the resilience settings.
func (c *Config) GuardConfig() resilience.GuardConfig {
	return resilience.GuardConfig{
		Breaker: resilience.BreakerConfig{
			FailureThreshold:    c.Guard.FailureThreshold,
			SuccessThreshold:    c.Guard.SuccessThreshold,
			OpenTimeout:         c.Guard.OpenTimeout,
			MaxHalfOpenRequests: c.Guard.MaxHalfOpenRequests,
		},
		CreateRate:  c.Guard.CreateRate,
		CreateBurst: c.Guard.CreateBurst,
	}
}

// LibSQLDatabase decodes the [database] table into the topology named by
// its "type" key.
func (c *Config) LibSQLDatabase() (libsql.Database, error) {
	if len(c.Database) == 0 {
		return nil, fmt.Errorf("%w: [database] is required for the libsql backend", ErrInvalid)
	}
	kind, _ := c.Database["type"].(string)

	var db libsql.Database
	switch libsql.Topology(kind) {
	case libsql.TopologyLocal:
		db = &libsql.Local{}
	case libsql.TopologyLocalReplica:
		db = &libsql.LocalReplica{}
	case libsql.TopologyRemote:
		db = &libsql.Remote{}
	case libsql.TopologyRemoteReplica:
		db = &libsql.RemoteReplica{}
	case libsql.TopologySynced:
		db = &libsql.SyncedDatabase{}
	default:
		return nil, fmt.Errorf("%w: database.type %q is not one of local, local_replica, remote, remote_replica, synced", ErrInvalid, kind)
	}

	fields := make(map[string]any, len(c.Database))
	for k, v := range c.Database {
		if k != "type" {
			fields[k] = v
		}
	}
	if err := decode(fields, db); err != nil {
		return nil, fmt.Errorf("%w: database: %v", ErrInvalid, err)
	}
	return db, nil
}

// LibSQLConfig returns the libsql pool configuration.
func (c *Config) LibSQLConfig() (libsql.Config, error) {
	db, err := c.LibSQLDatabase()
	if err != nil {
		return libsql.Config{}, err
	}
	return libsql.Config{Database: db, Pool: c.PoolConfig()}, nil
}

// RedisConfig decodes the [redis] table on top of the Redis defaults. The
// client pool is sized to the resource pool unless set explicitly.
func (c *Config) RedisConfig() (redisconn.Config, error) {
	rc := redisconn.DefaultConfig()
	if err := decode(c.Redis, &rc); err != nil {
		return rc, fmt.Errorf("%w: redis: %v", ErrInvalid, err)
	}
	if rc.PoolSize == 0 {
		rc.PoolSize = c.Pool.MaxSize
	}
	return rc, nil
}

// ParseLevel parses a log level name such as "info" or "debug".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	return level, nil
}

// decode copies a raw TOML table into out. Durations may be written as
// strings ("5s") or as integer nanoseconds, which is what SaveConfig
// writes. Unknown keys are errors.
func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
