package libsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/go-i2p/respool/lib/pool"
)

// Manager creates and recycles dedicated database connections.
//
// Connections are established lazily by the drivers, so a test query is the
// only proof that a new connection works. The same query validates idle
// connections before reuse.
type Manager struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger

	testQueryCount atomic.Uint64
}

// NewManager creates a Manager for an already opened database. The caller
// keeps ownership of db.
func NewManager(db *sql.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:     db,
		logger: logger.With("component", "libsql"),
	}
}

// NewManagerFromConfig opens the configured database and creates a Manager
// owning it. Opening does not connect: an unreachable database is reported
// by the first Create.
func NewManagerFromConfig(ctx context.Context, cfg Config, logger *slog.Logger) (*Manager, error) {
	db, err := Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	// The pool keeps idle connections itself.
	db.SetMaxIdleConns(0)

	m := NewManager(db, logger)
	m.owned = true
	m.logger.Debug("database opened", "topology", cfg.Database.Topology())
	return m, nil
}

// DB returns the underlying database handle.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Create takes a dedicated connection and checks it with the test query.
func (m *Manager) Create(ctx context.Context) (*sql.Conn, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	if err := m.runTestQuery(ctx, conn); err != nil {
		m.Destroy(conn)
		return nil, err
	}
	return conn, nil
}

// Recycle runs the test query on an idle connection.
func (m *Manager) Recycle(ctx context.Context, conn *sql.Conn, _ pool.Metrics) error {
	return m.runTestQuery(ctx, conn)
}

// Destroy closes the physical connection instead of handing it back to the
// database/sql pool.
func (m *Manager) Destroy(conn *sql.Conn) {
	err := conn.Raw(func(any) error { return driver.ErrBadConn })
	if err != nil && !errors.Is(err, driver.ErrBadConn) && !errors.Is(err, sql.ErrConnDone) {
		m.logger.Debug("closing connection failed", "error", err)
	}
}

// Close closes the database if the Manager opened it.
func (m *Manager) Close() error {
	if !m.owned {
		return nil
	}
	m.logger.Debug("closing database")
	return m.db.Close()
}

// runTestQuery asks the database to echo a fresh counter value.
func (m *Manager) runTestQuery(ctx context.Context, conn *sql.Conn) error {
	want := int64(m.testQueryCount.Add(1) - 1)

	var got int64
	err := conn.QueryRowContext(ctx, "SELECT ?", want).Scan(&got)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &TestQueryError{Reason: "no rows returned from database for test query"}
	case err != nil:
		return &ConnectionError{Err: err}
	case got != want:
		return &TestQueryError{Reason: "unexpected value returned for test query"}
	}
	return nil
}
