package database

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestPool(t *testing.T, size int) (*ConnectionPool, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "pool-test-*")
	require.NoError(t, err)

	pool, err := NewConnectionPool(filepath.Join(tmpDir, "test.db"), size, testLogger())
	require.NoError(t, err)

	cleanup := func() {
		pool.CloseAll()
		os.RemoveAll(tmpDir)
	}
	return pool, cleanup
}

func TestConnectionPool_CheckoutAndReturn(t *testing.T) {
	pool, cleanup := setupTestPool(t, 2)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.NotEmpty(t, conn.ID())

	_, err = conn.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO t (v) VALUES (?)", "hello")
	require.NoError(t, err)

	pool.Put(conn)

	// The write is visible from another checkout.
	conn2, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn2)

	var v string
	require.NoError(t, conn2.QueryRow("SELECT v FROM t").Scan(&v))
	assert.Equal(t, "hello", v)
}

func TestConnectionPool_ForeignKeysEnforced(t *testing.T) {
	pool, cleanup := setupTestPool(t, 1)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	var enabled int
	require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

func TestConnectionPool_ExhaustionTimesOut(t *testing.T) {
	pool, cleanup := setupTestPool(t, 1)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	start := time.Now()
	_, err = pool.Get(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrConnectionExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

// Three callers against a pool of two: the third blocks until one of the
// first two returns its connection, then succeeds within the timeout.
func TestConnectionPool_BlockedCheckoutSucceedsOnReturn(t *testing.T) {
	pool, cleanup := setupTestPool(t, 2)
	defer cleanup()

	first, err := pool.Get(time.Second)
	require.NoError(t, err)
	second, err := pool.Get(time.Second)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		conn, err := pool.Get(time.Second)
		if err == nil {
			pool.Put(conn)
		}
		got <- err
	}()

	// Give the third caller time to block, then free a connection.
	time.Sleep(100 * time.Millisecond)
	pool.Put(first)

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked checkout never completed")
	}

	pool.Put(second)
}

func TestConnectionPool_NeverExceedsSize(t *testing.T) {
	const size = 3
	pool, cleanup := setupTestPool(t, size)
	defer cleanup()

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := pool.Get(2 * time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			pool.Put(conn)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(size))
}

func TestConnectionPool_ReturnRollsBackOpenTransaction(t *testing.T) {
	pool, cleanup := setupTestPool(t, 1)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	_, err = conn.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	pool.Put(conn)

	conn, err = pool.Get(time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Begin())
	_, err = conn.Exec("INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)

	// Returned without commit: the insert must be rolled back.
	pool.Put(conn)

	conn, err = pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestConnectionPool_CloseAllIdempotent(t *testing.T) {
	pool, cleanup := setupTestPool(t, 2)
	defer cleanup()

	pool.CloseAll()
	pool.CloseAll()

	_, err := pool.Get(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestConnectionPool_RejectsInvalidSize(t *testing.T) {
	_, err := NewConnectionPool(filepath.Join(t.TempDir(), "x.db"), 0, testLogger())
	assert.Error(t, err)
}

func TestConn_TransactionLifecycle(t *testing.T) {
	pool, cleanup := setupTestPool(t, 1)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	_, err = conn.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, conn.Begin())
	assert.Error(t, conn.Begin(), "nested transactions are not supported")

	_, err = conn.Exec("INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, conn.Commit())

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)

	// Rollback without an open transaction is a no-op.
	assert.NoError(t, conn.Rollback())
	assert.Error(t, conn.Commit(), "commit without an open transaction")
}
