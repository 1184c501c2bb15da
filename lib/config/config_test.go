package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/libsql"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "respool.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend != BackendLibSQL {
		t.Errorf("default backend should be %q, got %q", BackendLibSQL, cfg.Backend)
	}
	if cfg.Pool.Name != DefaultPoolName {
		t.Errorf("default pool name should be %q, got %q", DefaultPoolName, cfg.Pool.Name)
	}
	if cfg.Pool.MaxSize != DefaultMaxSize {
		t.Errorf("default max size should be %d, got %d", DefaultMaxSize, cfg.Pool.MaxSize)
	}
	if cfg.Pool.WaitTimeout != nil || cfg.Pool.CreateTimeout != nil || cfg.Pool.RecycleTimeout != nil {
		t.Error("default config should not set any timeouts")
	}
	if cfg.Metrics.Listen == "" {
		t.Error("default config should have a metrics listen address")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty pool name",
			modify:  func(c *Config) { c.Pool.Name = "" },
			wantErr: true,
		},
		{
			name:    "max size zero",
			modify:  func(c *Config) { c.Pool.MaxSize = 0 },
			wantErr: true,
		},
		{
			name: "negative wait timeout",
			modify: func(c *Config) {
				d := -time.Second
				c.Pool.WaitTimeout = &d
			},
			wantErr: true,
		},
		{
			name:    "negative create rate",
			modify:  func(c *Config) { c.Guard.CreateRate = -1 },
			wantErr: true,
		},
		{
			name:    "negative failure threshold",
			modify:  func(c *Config) { c.Guard.FailureThreshold = -1 },
			wantErr: true,
		},
		{
			name:    "metrics enabled without listen address",
			modify:  func(c *Config) { c.Metrics.Listen = "" },
			wantErr: true,
		},
		{
			name: "metrics disabled without listen address",
			modify: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Listen = ""
			},
			wantErr: false,
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "chatty" },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Backend = "memcached" },
			wantErr: true,
		},
		{
			name:    "libsql without database",
			modify:  func(c *Config) { c.Database = nil },
			wantErr: true,
		},
		{
			name:    "local database without path",
			modify:  func(c *Config) { c.Database = map[string]any{"type": "local"} },
			wantErr: true,
		},
		{
			name: "remote database with bad url",
			modify: func(c *Config) {
				c.Database = map[string]any{"type": "remote", "url": "://nope"}
			},
			wantErr: true,
		},
		{
			name:    "redis backend with defaults",
			modify:  func(c *Config) { c.Backend = BackendRedis },
			wantErr: false,
		},
		{
			name: "redis backend with empty address",
			modify: func(c *Config) {
				c.Backend = BackendRedis
				c.Redis = map[string]any{"addr": ""}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.IsConfiguration(err) {
				t.Errorf("validation error should match ErrConfiguration: %v", err)
			}
		})
	}
}

func TestLoadConfig_NotExists(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
	if cfg.Pool.Name != DefaultPoolName {
		t.Errorf("expected default pool name, got %q", cfg.Pool.Name)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "respool.toml")

	cfg := DefaultConfig()
	cfg.Pool.Name = "saved"
	cfg.Pool.MaxSize = 4
	wait := 250 * time.Millisecond
	cfg.Pool.WaitTimeout = &wait
	cfg.Guard.CreateRate = 2.5
	cfg.Database = map[string]any{
		"type": "local",
		"path": filepath.Join(t.TempDir(), "saved.db"),
	}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Pool.Name != "saved" {
		t.Errorf("pool name = %q, want %q", loaded.Pool.Name, "saved")
	}
	if loaded.Pool.MaxSize != 4 {
		t.Errorf("max size = %d, want 4", loaded.Pool.MaxSize)
	}
	if loaded.Pool.WaitTimeout == nil || *loaded.Pool.WaitTimeout != wait {
		t.Errorf("wait timeout = %v, want %v", loaded.Pool.WaitTimeout, wait)
	}
	if loaded.Pool.CreateTimeout != nil {
		t.Errorf("create timeout should stay unset, got %v", *loaded.Pool.CreateTimeout)
	}
	if loaded.Guard.OpenTimeout != cfg.Guard.OpenTimeout {
		t.Errorf("open timeout = %v, want %v", loaded.Guard.OpenTimeout, cfg.Guard.OpenTimeout)
	}
	if loaded.Guard.CreateRate != 2.5 {
		t.Errorf("create rate = %v, want 2.5", loaded.Guard.CreateRate)
	}
	if loaded.Database["path"] != cfg.Database["path"] {
		t.Errorf("database path = %v, want %v", loaded.Database["path"], cfg.Database["path"])
	}
}

func TestLoadConfig_Durations(t *testing.T) {
	path := writeConfig(t, `
[pool]
name = "durations"
max_size = 2
wait_timeout = "0s"
create_timeout = "1500ms"

[guard]
open_timeout = "30s"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pool.WaitTimeout == nil || *cfg.Pool.WaitTimeout != 0 {
		t.Errorf("wait timeout = %v, want an explicit zero", cfg.Pool.WaitTimeout)
	}
	if cfg.Pool.CreateTimeout == nil || *cfg.Pool.CreateTimeout != 1500*time.Millisecond {
		t.Errorf("create timeout = %v, want 1.5s", cfg.Pool.CreateTimeout)
	}
	if cfg.Guard.OpenTimeout != 30*time.Second {
		t.Errorf("open timeout = %v, want 30s", cfg.Guard.OpenTimeout)
	}
	// Sections not named in the file keep their defaults.
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("metrics path = %q, want default", cfg.Metrics.Path)
	}
	if cfg.Database["path"] != DefaultDatabasePath {
		t.Errorf("database should keep the default table, got %v", cfg.Database)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed toml", body: "[pool\nname = "},
		{name: "unknown pool key", body: "[pool]\nname = \"x\"\nmax_size = 1\nsize_max = 3\n"},
		{name: "bad duration", body: "[pool]\nwait_timeout = \"soon\"\n"},
		{name: "invalid values", body: "[pool]\nmax_size = 0\n"},
		{name: "unknown database key", body: "[database]\ntype = \"local\"\npath = \"a.db\"\nfile = \"b.db\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("LoadConfig should fail")
			}
		})
	}
}

func TestLibSQLDatabase(t *testing.T) {
	tests := []struct {
		name  string
		table map[string]any
		want  libsql.Topology
	}{
		{
			name:  "local",
			table: map[string]any{"type": "local", "path": "a.db", "flags": map[string]any{"read_only": true}},
			want:  libsql.TopologyLocal,
		},
		{
			name:  "local replica",
			table: map[string]any{"type": "local_replica", "path": "a.db"},
			want:  libsql.TopologyLocalReplica,
		},
		{
			name:  "remote",
			table: map[string]any{"type": "remote", "url": "libsql://db.example.com", "auth_token": "secret"},
			want:  libsql.TopologyRemote,
		},
		{
			name: "remote replica",
			table: map[string]any{
				"type": "remote_replica", "path": "a.db", "url": "https://db.example.com",
				"sync_interval": "1m", "sync_protocol": "v2",
			},
			want: libsql.TopologyRemoteReplica,
		},
		{
			name:  "synced",
			table: map[string]any{"type": "synced", "path": "a.db", "url": "https://db.example.com", "push_batch_size": int64(64)},
			want:  libsql.TopologySynced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Database = tt.table
			db, err := cfg.LibSQLDatabase()
			if err != nil {
				t.Fatalf("LibSQLDatabase failed: %v", err)
			}
			if db.Topology() != tt.want {
				t.Errorf("topology = %q, want %q", db.Topology(), tt.want)
			}
			if err := db.Validate(); err != nil {
				t.Errorf("decoded database should be valid: %v", err)
			}
		})
	}
}

func TestLibSQLDatabase_Fields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = map[string]any{
		"type":          "remote_replica",
		"path":          "replica.db",
		"url":           "https://db.example.com",
		"sync_interval": "90s",
	}
	db, err := cfg.LibSQLDatabase()
	if err != nil {
		t.Fatalf("LibSQLDatabase failed: %v", err)
	}
	rr, ok := db.(*libsql.RemoteReplica)
	if !ok {
		t.Fatalf("expected *libsql.RemoteReplica, got %T", db)
	}
	if rr.Path != "replica.db" || rr.URL != "https://db.example.com" {
		t.Errorf("unexpected fields: %+v", rr)
	}
	if rr.SyncInterval != 90*time.Second {
		t.Errorf("sync interval = %v, want 90s", rr.SyncInterval)
	}

	lc, err := cfg.LibSQLConfig()
	if err != nil {
		t.Fatalf("LibSQLConfig failed: %v", err)
	}
	if lc.Pool.Name != DefaultPoolName {
		t.Errorf("pool name = %q, want %q", lc.Pool.Name, DefaultPoolName)
	}
	if lc.Database.Topology() != libsql.TopologyRemoteReplica {
		t.Errorf("topology = %q, want %q", lc.Database.Topology(), libsql.TopologyRemoteReplica)
	}
}

func TestLibSQLDatabase_Errors(t *testing.T) {
	tests := []struct {
		name  string
		table map[string]any
	}{
		{name: "missing type", table: map[string]any{"path": "a.db"}},
		{name: "unknown type", table: map[string]any{"type": "cluster", "path": "a.db"}},
		{name: "key of another topology", table: map[string]any{"type": "local", "path": "a.db", "url": "https://x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Database = tt.table
			_, err := cfg.LibSQLDatabase()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestRedisConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendRedis
	cfg.Pool.MaxSize = 8
	cfg.Redis = map[string]any{
		"addr":         "cache.internal:6380",
		"db":           int64(2),
		"dial_timeout": "2s",
	}

	rc, err := cfg.RedisConfig()
	if err != nil {
		t.Fatalf("RedisConfig failed: %v", err)
	}
	if rc.Addr != "cache.internal:6380" || rc.DB != 2 {
		t.Errorf("unexpected redis config: %+v", rc)
	}
	if rc.DialTimeout != 2*time.Second {
		t.Errorf("dial timeout = %v, want 2s", rc.DialTimeout)
	}
	if rc.PoolSize != 8 {
		t.Errorf("client pool size should follow max size, got %d", rc.PoolSize)
	}

	cfg.Redis = nil
	rc, err = cfg.RedisConfig()
	if err != nil {
		t.Fatalf("RedisConfig with defaults failed: %v", err)
	}
	if rc.Addr != "127.0.0.1:6379" {
		t.Errorf("default addr = %q", rc.Addr)
	}

	cfg.Redis = map[string]any{"hostname": "x"}
	if _, err := cfg.RedisConfig(); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown redis key should be rejected, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "WARN", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "", wantErr: true},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
