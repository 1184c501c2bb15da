package redisconn

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/pool"
)

// redisAddr returns the address of a test server or skips the test.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("RESPOOL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RESPOOL_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"no addr", func(c *Config) { c.Addr = "" }, true},
		{"negative db", func(c *Config) { c.DB = -1 }, true},
		{"negative pool size", func(c *Config) { c.PoolSize = -1 }, true},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.IsConfiguration(err) {
				t.Errorf("expected a configuration error, got %v", err)
			}
		})
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := Config{
		Addr:        "redis.internal:6380",
		Username:    "app",
		Password:    "secret",
		DB:          2,
		PoolSize:    8,
		DialTimeout: time.Second,
	}
	opts := cfg.Options()

	if opts.Addr != cfg.Addr || opts.Username != "app" || opts.Password != "secret" {
		t.Errorf("unexpected address or credentials: %+v", opts)
	}
	if opts.DB != 2 || opts.PoolSize != 8 || opts.DialTimeout != time.Second {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestCreateUnreachable(t *testing.T) {
	m, err := NewManagerFromConfig(Config{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewManagerFromConfig failed: %v", err)
	}
	defer m.Close()

	cfg := pool.DefaultConfig()
	cfg.Name = t.Name()
	cfg.MaxSize = 1
	p, err := pool.New[*redis.Conn](m, cfg)
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}

	_, err = p.Get(context.Background())
	if !apperrors.IsBackend(err) {
		t.Fatalf("expected a backend error, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrConnection) {
		t.Errorf("expected the connection sentinel in %v", err)
	}
}

func TestPoolAgainstServer(t *testing.T) {
	addr := redisAddr(t)

	cfg := DefaultConfig()
	cfg.Addr = addr
	m, err := NewManagerFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewManagerFromConfig failed: %v", err)
	}

	pcfg := pool.DefaultConfig()
	pcfg.Name = t.Name()
	pcfg.MaxSize = 2
	p, err := pool.New[*redis.Conn](m, pcfg)
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	loan, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := loan.Value().ClientSetName(ctx, "respool-test").Err(); err != nil {
		t.Fatalf("CLIENT SETNAME failed: %v", err)
	}
	id := loan.ID()
	loan.Release()

	loan, err = p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer loan.Release()

	if loan.ID() != id {
		t.Errorf("expected connection %d to be reused, got %d", id, loan.ID())
	}
	name, err := loan.Value().ClientGetName(ctx).Result()
	if err != nil {
		t.Fatalf("CLIENT GETNAME failed: %v", err)
	}
	if name != "respool-test" {
		t.Errorf("connection state lost: name = %q", name)
	}
	if m.echoCount.Load() != 1 {
		t.Errorf("echo count = %d, want 1", m.echoCount.Load())
	}
}

func TestRecycleClosedConnection(t *testing.T) {
	addr := redisAddr(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	m := NewManager(client, nil)

	ctx := context.Background()
	conn, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Destroy(conn)

	if err := m.Recycle(ctx, conn, pool.Metrics{}); err == nil {
		t.Error("Recycle of a destroyed connection should fail")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close of a borrowed client should be a no-op, got %v", err)
	}
}
