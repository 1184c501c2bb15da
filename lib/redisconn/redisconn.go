// Package redisconn provides a pool Manager for dedicated Redis connections.
//
// Each pooled *redis.Conn pins one connection of the underlying client, so
// stateful commands (SELECT, CLIENT SETNAME, MULTI) stay on the connection
// that issued them.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/pool"
)

var (
	// ErrEchoMismatch is returned when a connection echoes the wrong value.
	ErrEchoMismatch = fmt.Errorf("redisconn: echo mismatch: %w", apperrors.ErrBackend)
	// ErrInvalidConfig is returned for an unusable Config.
	ErrInvalidConfig = fmt.Errorf("redisconn: %w", apperrors.ErrConfiguration)
)

// Config configures the Redis client behind a Manager.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// PoolSize caps the client's own connections. It must be at least the
	// size of the pool built on the Manager.
	PoolSize     int           `mapstructure:"pool_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns a Config for a local Redis server.
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		DialTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	}
	if c.DB < 0 {
		return fmt.Errorf("%w: db must not be negative", ErrInvalidConfig)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("%w: pool_size must not be negative", ErrInvalidConfig)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Options converts the Config to go-redis client options.
func (c Config) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Manager creates dedicated connections from a Redis client and checks them
// with PING on creation and ECHO on reuse.
type Manager struct {
	client *redis.Client
	owned  bool
	logger *slog.Logger

	echoCount atomic.Uint64
}

// NewManager creates a Manager on top of client. The caller keeps ownership
// of client.
func NewManager(client *redis.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client: client,
		logger: logger.With("component", "redisconn"),
	}
}

// NewManagerFromConfig creates a client from cfg and a Manager owning it.
// No connection is made until the first Create.
func NewManagerFromConfig(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := NewManager(redis.NewClient(cfg.Options()), logger)
	m.owned = true
	return m, nil
}

// Client returns the underlying client.
func (m *Manager) Client() *redis.Client {
	return m.client
}

// Create pins a new connection and pings it.
func (m *Manager) Create(ctx context.Context) (*redis.Conn, error) {
	conn := m.client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("redisconn: ping: %w", errors.Join(apperrors.ErrConnection, err))
	}
	m.logger.Debug("connection created", "addr", m.client.Options().Addr)
	return conn, nil
}

// Recycle asks the connection to echo a fresh counter value.
func (m *Manager) Recycle(ctx context.Context, conn *redis.Conn, _ pool.Metrics) error {
	want := strconv.FormatUint(m.echoCount.Add(1)-1, 10)
	got, err := conn.Echo(ctx, want).Result()
	if err != nil {
		return fmt.Errorf("redisconn: echo: %w", errors.Join(apperrors.ErrConnection, err))
	}
	if got != want {
		return ErrEchoMismatch
	}
	return nil
}

// Destroy closes the connection.
func (m *Manager) Destroy(conn *redis.Conn) {
	if err := conn.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		m.logger.Debug("closing connection failed", "error", err)
	}
}

// Close closes the client if the Manager created it.
func (m *Manager) Close() error {
	if !m.owned {
		return nil
	}
	return m.client.Close()
}
