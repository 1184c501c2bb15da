// Package libsql provides a pool Manager for libSQL and SQLite databases.
//
// Local database files are opened with the pure-Go SQLite driver. Remote
// databases go through the "libsql" database/sql driver, which the
// application registers by importing a libSQL client. Embedded replicas need
// a native driver and are supplied through RegisterConnector.
package libsql

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-i2p/respool/lib/pool"

	// Registers the "sqlite" driver used for local databases.
	_ "modernc.org/sqlite"
)

const (
	// LocalDriverName is the database/sql driver used for local files.
	LocalDriverName = "sqlite"
	// RemoteDriverName is the database/sql driver used for remote databases.
	RemoteDriverName = "libsql"
)

// Topology names a kind of database.
type Topology string

const (
	TopologyLocal         Topology = "local"
	TopologyLocalReplica  Topology = "local_replica"
	TopologyRemote        Topology = "remote"
	TopologyRemoteReplica Topology = "remote_replica"
	TopologySynced        Topology = "synced"
)

// Database describes where connections come from. It is one of *Local,
// *LocalReplica, *Remote, *RemoteReplica or *SyncedDatabase.
type Database interface {
	Topology() Topology
	Validate() error
	open(ctx context.Context) (*sql.DB, error)
}

// Connector opens a database for a topology the built-in drivers cannot
// serve, such as embedded replicas.
type Connector func(ctx context.Context, db Database) (*sql.DB, error)

var (
	connectorsMu sync.RWMutex
	connectors   = make(map[Topology]Connector)
)

// RegisterConnector makes c responsible for opening databases of topology t.
// A registered connector takes precedence over the built-in drivers.
func RegisterConnector(t Topology, c Connector) {
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	if c == nil {
		delete(connectors, t)
		return
	}
	connectors[t] = c
}

func connectorFor(t Topology) Connector {
	connectorsMu.RLock()
	defer connectorsMu.RUnlock()
	return connectors[t]
}

// Open opens db using a registered connector or the built-in driver for its
// topology. No connection is established until one is requested.
func Open(ctx context.Context, db Database) (*sql.DB, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database is required", ErrInvalidConfig)
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}
	if c := connectorFor(db.Topology()); c != nil {
		return c(ctx, db)
	}
	return db.open(ctx)
}

// Config configures a pool of libSQL connections.
type Config struct {
	Database Database
	Pool     pool.Config
}

// NewConfig returns a Config for db with the default pool settings.
func NewConfig(db Database) Config {
	cfg := pool.DefaultConfig()
	cfg.Name = "libsql"
	return Config{Database: db, Pool: cfg}
}

// CreatePool opens the database and creates a pool on top of it. Closing the
// pool closes the database.
func (c Config) CreatePool(ctx context.Context, logger *slog.Logger) (*pool.Pool[*sql.Conn], error) {
	m, err := NewManagerFromConfig(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	p, err := pool.New[*sql.Conn](m, c.Pool)
	if err != nil {
		m.Close()
		return nil, err
	}
	return p, nil
}

// OpenFlags controls how a local database file is opened.
type OpenFlags struct {
	ReadOnly  bool `mapstructure:"read_only"`
	ReadWrite bool `mapstructure:"read_write"`
	Create    bool `mapstructure:"create"`
}

// Validate checks the flags for contradictions.
func (f OpenFlags) Validate() error {
	if f.ReadOnly && (f.ReadWrite || f.Create) {
		return fmt.Errorf("%w: read_only excludes read_write and create", ErrInvalidConfig)
	}
	if !f.ReadOnly && !f.ReadWrite && !f.Create {
		return fmt.Errorf("%w: open flags select no access mode", ErrInvalidConfig)
	}
	return nil
}

// mode returns the SQLite URI mode parameter for the flags.
func (f OpenFlags) mode() string {
	switch {
	case f.ReadOnly:
		return "ro"
	case f.Create:
		return "rwc"
	default:
		return "rw"
	}
}

// Cipher is an encryption-at-rest algorithm.
type Cipher string

// CipherAES256CBC is AES 256 bit CBC without HMAC.
const CipherAES256CBC Cipher = "aes256cbc"

// EncryptionConfig enables encryption at rest for a database file.
type EncryptionConfig struct {
	Cipher        Cipher `mapstructure:"cipher"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// Validate checks the cipher and key.
func (e *EncryptionConfig) Validate() error {
	if e.Cipher != "" && e.Cipher != CipherAES256CBC {
		return fmt.Errorf("%w: unknown cipher %q", ErrInvalidConfig, e.Cipher)
	}
	if e.EncryptionKey == "" {
		return fmt.Errorf("%w: encryption_key is required", ErrInvalidConfig)
	}
	return nil
}

// EncryptionKey is the key a remote server uses to encrypt the database.
// Exactly one of the fields is set.
type EncryptionKey struct {
	Base64Encoded string `mapstructure:"base64_encoded"`
	Bytes         []byte `mapstructure:"bytes"`
}

// Decode returns the raw key.
func (k EncryptionKey) Decode() ([]byte, error) {
	switch {
	case k.Base64Encoded != "" && len(k.Bytes) > 0:
		return nil, fmt.Errorf("%w: encryption key set twice", ErrInvalidConfig)
	case len(k.Bytes) > 0:
		return k.Bytes, nil
	case k.Base64Encoded != "":
		key, err := base64.StdEncoding.DecodeString(k.Base64Encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding encryption key: %v", ErrInvalidConfig, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: encryption key is empty", ErrInvalidConfig)
	}
}

// EncryptionContext carries the key sent with every remote request.
type EncryptionContext struct {
	Key EncryptionKey `mapstructure:"key"`
}

// SyncProtocol selects the replication protocol.
type SyncProtocol string

const (
	SyncProtocolV1 SyncProtocol = "v1"
	SyncProtocolV2 SyncProtocol = "v2"
)

// Local is a database file opened directly.
type Local struct {
	Path             string            `mapstructure:"path"`
	EncryptionConfig *EncryptionConfig `mapstructure:"encryption_config"`
	Flags            *OpenFlags        `mapstructure:"flags"`
}

func (l *Local) Topology() Topology { return TopologyLocal }

func (l *Local) Validate() error {
	return validateFile(l.Path, l.EncryptionConfig, l.Flags)
}

func (l *Local) open(ctx context.Context) (*sql.DB, error) {
	return openFile(l.Path, l.EncryptionConfig, l.Flags)
}

// LocalReplica is a local replica file kept up to date by an external
// process.
type LocalReplica struct {
	Path             string            `mapstructure:"path"`
	EncryptionConfig *EncryptionConfig `mapstructure:"encryption_config"`
	Flags            *OpenFlags        `mapstructure:"flags"`
}

func (l *LocalReplica) Topology() Topology { return TopologyLocalReplica }

func (l *LocalReplica) Validate() error {
	return validateFile(l.Path, l.EncryptionConfig, l.Flags)
}

func (l *LocalReplica) open(ctx context.Context) (*sql.DB, error) {
	return openFile(l.Path, l.EncryptionConfig, l.Flags)
}

// Remote is a database served by a libSQL server.
type Remote struct {
	URL              string             `mapstructure:"url"`
	AuthToken        string             `mapstructure:"auth_token"`
	Namespace        string             `mapstructure:"namespace"`
	RemoteEncryption *EncryptionContext `mapstructure:"remote_encryption"`
}

func (r *Remote) Topology() Topology { return TopologyRemote }

func (r *Remote) Validate() error {
	if err := validateURL(r.URL); err != nil {
		return err
	}
	if r.RemoteEncryption != nil {
		if _, err := r.RemoteEncryption.Key.Decode(); err != nil {
			return err
		}
	}
	return nil
}

// DSN returns the data source name for the remote driver.
func (r *Remote) DSN() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("%w: parsing url: %v", ErrInvalidConfig, err)
	}
	if r.AuthToken != "" {
		q := u.Query()
		q.Set("authToken", r.AuthToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r *Remote) open(ctx context.Context) (*sql.DB, error) {
	if r.Namespace != "" || r.RemoteEncryption != nil {
		return nil, fmt.Errorf("%w: namespaces and remote encryption need a registered connector", ErrUnsupportedTopology)
	}
	if !slices.Contains(sql.Drivers(), RemoteDriverName) {
		return nil, fmt.Errorf("%w: database/sql driver %q is not registered", ErrUnsupportedTopology, RemoteDriverName)
	}
	dsn, err := r.DSN()
	if err != nil {
		return nil, err
	}
	return sql.Open(RemoteDriverName, dsn)
}

// RemoteReplica is a local file replicating a remote database.
type RemoteReplica struct {
	Path             string             `mapstructure:"path"`
	URL              string             `mapstructure:"url"`
	AuthToken        string             `mapstructure:"auth_token"`
	EncryptionConfig *EncryptionConfig  `mapstructure:"encryption_config"`
	Namespace        string             `mapstructure:"namespace"`
	ReadYourWrites   *bool              `mapstructure:"read_your_writes"`
	RemoteEncryption *EncryptionContext `mapstructure:"remote_encryption"`
	SyncInterval     time.Duration      `mapstructure:"sync_interval"`
	SyncProtocol     SyncProtocol       `mapstructure:"sync_protocol"`
}

func (r *RemoteReplica) Topology() Topology { return TopologyRemoteReplica }

func (r *RemoteReplica) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if err := validateURL(r.URL); err != nil {
		return err
	}
	if r.EncryptionConfig != nil {
		if err := r.EncryptionConfig.Validate(); err != nil {
			return err
		}
	}
	if r.RemoteEncryption != nil {
		if _, err := r.RemoteEncryption.Key.Decode(); err != nil {
			return err
		}
	}
	if r.SyncInterval < 0 {
		return fmt.Errorf("%w: sync_interval must not be negative", ErrInvalidConfig)
	}
	return validateSyncProtocol(r.SyncProtocol)
}

func (r *RemoteReplica) open(ctx context.Context) (*sql.DB, error) {
	return nil, fmt.Errorf("%w: %s needs a registered connector", ErrUnsupportedTopology, TopologyRemoteReplica)
}

// SyncedDatabase is a local file synchronized with a remote database on
// demand.
type SyncedDatabase struct {
	Path           string        `mapstructure:"path"`
	URL            string        `mapstructure:"url"`
	AuthToken      string        `mapstructure:"auth_token"`
	ReadYourWrites *bool         `mapstructure:"read_your_writes"`
	RemoteWrites   *bool         `mapstructure:"remote_writes"`
	PushBatchSize  uint32        `mapstructure:"push_batch_size"`
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
}

func (s *SyncedDatabase) Topology() Topology { return TopologySynced }

func (s *SyncedDatabase) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if err := validateURL(s.URL); err != nil {
		return err
	}
	if s.SyncInterval < 0 {
		return fmt.Errorf("%w: sync_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (s *SyncedDatabase) open(ctx context.Context) (*sql.DB, error) {
	return nil, fmt.Errorf("%w: %s needs a registered connector", ErrUnsupportedTopology, TopologySynced)
}

func validateFile(path string, enc *EncryptionConfig, flags *OpenFlags) error {
	if path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if enc != nil {
		if err := enc.Validate(); err != nil {
			return err
		}
	}
	if flags != nil {
		return flags.Validate()
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: parsing url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: url %q needs a scheme and host", ErrInvalidConfig, raw)
	}
	return nil
}

func validateSyncProtocol(p SyncProtocol) error {
	switch p {
	case "", SyncProtocolV1, SyncProtocolV2:
		return nil
	default:
		return fmt.Errorf("%w: unknown sync_protocol %q", ErrInvalidConfig, p)
	}
}

// openFile opens a SQLite file. Encryption at rest needs the native libSQL
// driver and is left to a registered connector.
func openFile(path string, enc *EncryptionConfig, flags *OpenFlags) (*sql.DB, error) {
	if enc != nil {
		return nil, fmt.Errorf("%w: encryption at rest needs a registered connector", ErrUnsupportedTopology)
	}
	mode := "rwc"
	if flags != nil {
		mode = flags.mode()
	}
	return sql.Open(LocalDriverName, fileDSN(path, mode))
}

// uriEscaper escapes the characters that end or escape the path part of a
// SQLite URI filename.
var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// fileDSN builds the URI filename for path opened with mode.
func fileDSN(path, mode string) string {
	return "file:" + uriEscaper.Replace(path) + "?mode=" + mode
}
