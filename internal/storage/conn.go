package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ConnManager owns one physical database handle for one execution context.
//
// The handle is established lazily on first use and re-established
// transparently when it goes stale: if the liveness check fails, the old
// handle is discarded and the connect factory is invoked again. A factory
// failure surfaces as *ConnectionError and is fatal to the calling
// operation.
//
// Writes run inside a lazily-begun transaction (Tx); reads run directly on
// the handle (DB). Commit and Rollback are idempotent no-ops returning false
// when no transaction is open.
//
// A ConnManager must not be shared across execution contexts. The historian
// gives its query context and its publish context separate instances.
type ConnManager struct {
	name    string
	connect func() (*sql.DB, error)
	logger  *slog.Logger

	db *sql.DB
	tx *sql.Tx
}

// NewConnManager creates a manager that obtains connections from the given
// factory. name labels the owning execution context in logs.
func NewConnManager(name string, connect func() (*sql.DB, error)) *ConnManager {
	return &ConnManager{
		name:    name,
		connect: connect,
		logger:  slog.Default().With("conn", name),
	}
}

// DB returns the live connection handle, establishing or re-establishing it
// as needed. Used for reads, which execute outside any transaction.
func (m *ConnManager) DB(ctx context.Context) (*sql.DB, error) {
	if m.db != nil {
		if err := m.db.PingContext(ctx); err == nil {
			return m.db, nil
		}
		m.logger.Warn("connection went stale, reconnecting")
		m.discard()
	}
	db, err := m.connect()
	if err != nil {
		m.logger.Error("could not connect to database", "error", err)
		return nil, &ConnectionError{Cause: err}
	}
	if db == nil {
		return nil, &ConnectionError{Cause: errors.New("connect factory returned nil handle")}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		m.logger.Error("could not connect to database", "error", err)
		return nil, &ConnectionError{Cause: err}
	}
	m.db = db
	return m.db, nil
}

// Tx returns the current transaction, beginning one if none is open. All
// statements of one publish batch execute against the same transaction. If
// beginning a transaction on a live handle fails, the handle is discarded
// once and the connection re-established before giving up.
func (m *ConnManager) Tx(ctx context.Context) (*sql.Tx, error) {
	if m.tx != nil {
		return m.tx, nil
	}
	db, err := m.DB(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		m.logger.Warn("could not begin transaction, reconnecting", "error", err)
		m.discard()
		if db, err = m.DB(ctx); err != nil {
			return nil, err
		}
		if tx, err = db.BeginTx(ctx, nil); err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
	}
	m.tx = tx
	return m.tx, nil
}

// InTx reports whether a transaction is currently open.
func (m *ConnManager) InTx() bool {
	return m.tx != nil
}

// Commit commits the open transaction. With no open transaction it logs a
// warning and returns (false, nil). The error, if any, is returned raw; the
// Store layer classifies lock contention.
func (m *ConnManager) Commit() (bool, error) {
	if m.tx == nil {
		m.logger.Warn("no open transaction during commit phase")
		return false, nil
	}
	err := m.tx.Commit()
	m.tx = nil
	if err != nil {
		return false, err
	}
	return true, nil
}

// Rollback rolls back the open transaction. With no open transaction it logs
// a warning and returns (false, nil).
func (m *ConnManager) Rollback() (bool, error) {
	if m.tx == nil {
		m.logger.Warn("no open transaction during rollback phase")
		return false, nil
	}
	err := m.tx.Rollback()
	m.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return false, fmt.Errorf("rollback: %w", err)
	}
	return true, nil
}

// Close rolls back any open transaction and releases the physical
// connection.
func (m *ConnManager) Close() error {
	if m.tx != nil {
		if err := m.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.logger.Warn("rollback during close failed", "error", err)
		}
		m.tx = nil
	}
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// discard drops the handle without the close-error ceremony; used when the
// connection is already known to be unusable.
func (m *ConnManager) discard() {
	if m.tx != nil {
		_ = m.tx.Rollback()
		m.tx = nil
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Debug("closing stale connection", "error", err)
		}
		m.db = nil
	}
}
