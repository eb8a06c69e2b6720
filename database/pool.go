package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Connection pragmas applied once per connection at creation time. The
// journal mode, foreign key enforcement, busy timeout and synchronous level
// are set through the DSN so every connection the driver hands out is
// configured identically.
const dsnOptions = "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

var creationPragmas = []string{
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
}

// Conn is a pooled connection to the embedded store. It is owned exclusively
// by the pool while idle and by exactly one caller while checked out.
// Statements route through the open transaction when one exists.
type Conn struct {
	id  string
	raw *sql.Conn
	tx  *sql.Tx
}

// ID returns the connection's identifier, used for log correlation.
func (c *Conn) ID() string { return c.id }

// Exec executes a statement that returns no rows.
func (c *Conn) Exec(query string, args ...any) (sql.Result, error) {
	if c.tx != nil {
		return c.tx.Exec(query, args...)
	}
	return c.raw.ExecContext(context.Background(), query, args...)
}

// Query executes a statement that returns rows.
func (c *Conn) Query(query string, args ...any) (*sql.Rows, error) {
	if c.tx != nil {
		return c.tx.Query(query, args...)
	}
	return c.raw.QueryContext(context.Background(), query, args...)
}

// QueryRow executes a statement expected to return at most one row.
func (c *Conn) QueryRow(query string, args ...any) *sql.Row {
	if c.tx != nil {
		return c.tx.QueryRow(query, args...)
	}
	return c.raw.QueryRowContext(context.Background(), query, args...)
}

// Begin starts a transaction on this connection. Only one transaction may be
// open at a time.
func (c *Conn) Begin() error {
	if c.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := c.raw.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit commits the open transaction.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return errors.New("no open transaction")
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback aborts the open transaction. Calling it without an open
// transaction is a no-op so it is safe to defer.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

func (c *Conn) close() {
	_ = c.Rollback()
	_ = c.raw.Close()
}

// ConnectionPool maintains a bounded set of live connections to the store.
// Checkout blocks up to a timeout instead of growing the pool; broken
// connections are healed transparently and never handed to a caller.
type ConnectionPool struct {
	db     *sql.DB
	path   string
	size   int
	free   chan *Conn
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewConnectionPool opens the store at path and eagerly creates size
// configured connections.
func NewConnectionPool(path string, size int, logger *slog.Logger) (*ConnectionPool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(size + 1)
	db.SetMaxIdleConns(size + 1)

	p := &ConnectionPool{
		db:     db,
		path:   path,
		size:   size,
		free:   make(chan *Conn, size),
		logger: logger,
	}

	for i := 0; i < size; i++ {
		conn, err := p.newConn()
		if err != nil {
			p.CloseAll()
			return nil, fmt.Errorf("failed to initialize pool: %w", err)
		}
		p.free <- conn
	}

	logger.Info("connection pool initialized", "path", path, "size", size)
	return p, nil
}

func (p *ConnectionPool) newConn() (*Conn, error) {
	raw, err := p.db.Conn(context.Background())
	if err != nil {
		return nil, err
	}

	for _, pragma := range creationPragmas {
		if _, err := raw.ExecContext(context.Background(), pragma); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("failed to configure connection: %w", err)
		}
	}

	return &Conn{id: uuid.NewString(), raw: raw}, nil
}

// Get checks out a connection, blocking up to timeout for one to become
// free. Liveness is verified with a trivial probe; a broken connection is
// discarded and replaced before being handed out. Returns
// ErrConnectionExhausted if the wait times out.
func (p *ConnectionPool) Get(timeout time.Duration) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case conn := <-p.free:
		var one int
		if err := conn.QueryRow("SELECT 1").Scan(&one); err != nil {
			p.logger.Warn("discarding broken connection", "conn_id", conn.id, "error", err)
			conn.close()
			replacement, err := p.newConn()
			if err != nil {
				return nil, fmt.Errorf("failed to replace broken connection: %w", err)
			}
			return replacement, nil
		}
		return conn, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w within %s", ErrConnectionExhausted, timeout)
	}
}

// Put returns a connection to the pool. Any pending transaction is rolled
// back first. If the free set is already full or the pool is closed the
// connection is closed instead of queued.
func (p *ConnectionPool) Put(conn *Conn) {
	if conn == nil {
		return
	}

	if err := conn.Rollback(); err != nil {
		p.logger.Warn("rollback on return failed, closing connection", "conn_id", conn.id, "error", err)
		conn.close()
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		conn.close()
		return
	}

	select {
	case p.free <- conn:
	default:
		conn.close()
	}
}

// CloseAll drains and closes every idle connection and the underlying store
// handle. Idempotent; connections still checked out are closed on return.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.free:
			conn.close()
		default:
			_ = p.db.Close()
			p.logger.Info("connection pool closed", "path", p.path)
			return
		}
	}
}

// Size returns the configured pool size.
func (p *ConnectionPool) Size() int { return p.size }
