package database

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultPoolSize        = 5
	defaultCheckoutTimeout = 5 * time.Second
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	DatabasePath    string
	PoolSize        int
	CheckoutTimeout time.Duration
	Optimizer       OptimizerOptions
	Logger          *slog.Logger
}

// Manager ties the connection pool and query optimizer together and offers
// checkout/return and transaction helpers so service code never handles raw
// pool bookkeeping. Reads go through the optimizer's cache; writes run in
// transactions and leave cache invalidation to the caller.
type Manager struct {
	pool            *ConnectionPool
	optimizer       *QueryOptimizer
	logger          *slog.Logger
	checkoutTimeout time.Duration
}

// NewManager opens the pool and constructs the shared optimizer.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.CheckoutTimeout <= 0 {
		opts.CheckoutTimeout = defaultCheckoutTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Optimizer.Logger == nil {
		opts.Optimizer.Logger = opts.Logger
	}

	pool, err := NewConnectionPool(opts.DatabasePath, opts.PoolSize, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		pool:            pool,
		optimizer:       NewQueryOptimizer(opts.Optimizer),
		logger:          opts.Logger,
		checkoutTimeout: opts.CheckoutTimeout,
	}, nil
}

// Pool returns the underlying connection pool.
func (m *Manager) Pool() *ConnectionPool { return m.pool }

// Optimizer returns the shared query optimizer.
func (m *Manager) Optimizer() *QueryOptimizer { return m.optimizer }

// WithConnection checks out a connection, runs fn, and returns the
// connection to the pool.
func (m *Manager) WithConnection(fn func(*Conn) error) error {
	conn, err := m.pool.Get(m.checkoutTimeout)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)
	return fn(conn)
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error.
func (m *Manager) WithTransaction(fn func(*Conn) error) error {
	conn, err := m.pool.Get(m.checkoutTimeout)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	if err := conn.Begin(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(conn); err != nil {
		if rbErr := conn.Rollback(); rbErr != nil {
			m.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	return conn.Commit()
}

// Query executes a read through the optimizer's cache.
func (m *Manager) Query(query string, params ...any) ([]Row, error) {
	var results []Row
	err := m.WithConnection(func(conn *Conn) error {
		var qerr error
		results, qerr = m.optimizer.ExecuteCachedQuery(conn, query, params...)
		return qerr
	})
	return results, err
}

// QueryUncached executes a read without consulting or populating the cache.
func (m *Manager) QueryUncached(query string, params ...any) ([]Row, error) {
	var results []Row
	err := m.WithConnection(func(conn *Conn) error {
		var qerr error
		results, qerr = m.optimizer.queryDirect(conn, query, params...)
		return qerr
	})
	return results, err
}

// QueryPrepared executes a named statement from the catalog.
func (m *Manager) QueryPrepared(name string, useCache bool, params ...any) ([]Row, error) {
	var results []Row
	err := m.WithConnection(func(conn *Conn) error {
		var qerr error
		results, qerr = m.optimizer.ExecutePreparedQuery(conn, name, useCache, params...)
		return qerr
	})
	return results, err
}

// Exec runs a mutating statement in its own transaction and returns the
// number of affected rows. The caller invalidates the cache afterwards for
// any key space the write could touch.
func (m *Manager) Exec(query string, params ...any) (int64, error) {
	var affected int64
	err := m.WithTransaction(func(conn *Conn) error {
		res, err := conn.Exec(query, params...)
		if err != nil {
			return &QueryExecutionError{Query: query, Err: err}
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// Insert runs an INSERT in its own transaction and returns the last insert
// id.
func (m *Manager) Insert(query string, params ...any) (int64, error) {
	var lastID int64
	err := m.WithTransaction(func(conn *Conn) error {
		res, err := conn.Exec(query, params...)
		if err != nil {
			return &QueryExecutionError{Query: query, Err: err}
		}
		lastID, err = res.LastInsertId()
		return err
	})
	return lastID, err
}

// ExecMany runs one statement repeatedly with different parameter sets in a
// single transaction and returns the total affected rows.
func (m *Manager) ExecMany(query string, paramSets [][]any) (int64, error) {
	var total int64
	err := m.WithTransaction(func(conn *Conn) error {
		for _, params := range paramSets {
			res, err := conn.Exec(query, params...)
			if err != nil {
				return &QueryExecutionError{Query: query, Err: err}
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += affected
		}
		return nil
	})
	return total, err
}

// InvalidateCache removes cached results matching pattern; empty clears all.
func (m *Manager) InvalidateCache(pattern string) {
	m.optimizer.InvalidateCache(pattern)
}

// Close shuts the pool down. Idempotent.
func (m *Manager) Close() {
	m.pool.CloseAll()
}
