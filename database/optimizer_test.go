package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestOptimizer(t *testing.T) (*QueryOptimizer, *ConnectionPool, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "optimizer-test-*")
	require.NoError(t, err)

	pool, err := NewConnectionPool(filepath.Join(tmpDir, "test.db"), 2, testLogger())
	require.NoError(t, err)

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	_, err = conn.Exec(`
		CREATE TABLE trips (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ma_chuyen TEXT UNIQUE NOT NULL,
			khach_hang TEXT NOT NULL,
			gia_ca INTEGER NOT NULL
		)`)
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO trips (ma_chuyen, khach_hang, gia_ca) VALUES ('C001', 'Alpha Logistics', 5000000)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO trips (ma_chuyen, khach_hang, gia_ca) VALUES ('C002', 'Beta Freight', 7500000)")
	require.NoError(t, err)
	pool.Put(conn)

	optimizer := NewQueryOptimizer(OptimizerOptions{
		CacheSize:    50,
		CacheEnabled: true,
		Logger:       testLogger(),
	})

	cleanup := func() {
		pool.CloseAll()
		os.RemoveAll(tmpDir)
	}
	return optimizer, pool, cleanup
}

func TestExecuteCachedQuery_SecondCallServedFromCache(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	query := "SELECT id, ma_chuyen, khach_hang FROM trips ORDER BY id"

	first, err := optimizer.ExecuteCachedQuery(conn, query)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := optimizer.ExecuteCachedQuery(conn, query)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The second call must not have touched the store: one tracked
	// execution, one cache hit.
	stats := optimizer.QueryStats()
	require.Len(t, stats, 1)
	for _, stat := range stats {
		assert.Equal(t, int64(1), stat.Count)
		assert.Equal(t, int64(2), stat.TotalRows)
	}
	assert.Equal(t, uint64(1), optimizer.CacheStats().Hits)
}

func TestExecuteCachedQuery_DistinctParamsAreDistinctEntries(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	query := "SELECT khach_hang FROM trips WHERE id = ?"

	rows, err := optimizer.ExecuteCachedQuery(conn, query, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	customer, ok := rows[0].String("khach_hang")
	require.True(t, ok)
	assert.Equal(t, "Alpha Logistics", customer)

	rows, err = optimizer.ExecuteCachedQuery(conn, query, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	customer, _ = rows[0].String("khach_hang")
	assert.Equal(t, "Beta Freight", customer)

	assert.Equal(t, 2, optimizer.CacheStats().Size)
}

func TestExecuteCachedQuery_FailureIsNotCached(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	_, err = optimizer.ExecuteCachedQuery(conn, "SELECT * FROM no_such_table")
	require.Error(t, err)

	var qerr *QueryExecutionError
	require.ErrorAs(t, err, &qerr)
	assert.Contains(t, qerr.Query, "no_such_table")

	assert.Equal(t, 0, optimizer.CacheStats().Size)
	assert.Empty(t, optimizer.QueryStats())
}

func TestExecuteCachedQuery_DisabledCacheAlwaysExecutes(t *testing.T) {
	_, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	optimizer := NewQueryOptimizer(OptimizerOptions{
		CacheSize:    50,
		CacheEnabled: false,
		Logger:       testLogger(),
	})

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	query := "SELECT id FROM trips"
	_, err = optimizer.ExecuteCachedQuery(conn, query)
	require.NoError(t, err)
	_, err = optimizer.ExecuteCachedQuery(conn, query)
	require.NoError(t, err)

	for _, stat := range optimizer.QueryStats() {
		assert.Equal(t, int64(2), stat.Count)
	}
	assert.Equal(t, 0, optimizer.CacheStats().Size)
}

func TestExecutePreparedQuery_StatementNotFound(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	_, err = optimizer.ExecutePreparedQuery(conn, "no_such_statement", true, 5)
	assert.ErrorIs(t, err, ErrStatementNotFound)
}

func TestExecutePreparedQuery_ResolvesFromCatalog(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	rows, err := optimizer.ExecutePreparedQuery(conn, "get_trip_by_id", true, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	code, ok := rows[0].String("ma_chuyen")
	require.True(t, ok)
	assert.Equal(t, "C001", code)

	price, ok := rows[0].Int("gia_ca")
	require.True(t, ok)
	assert.Equal(t, int64(5000000), price)
}

func TestExecutePreparedQuery_UncachedBypassesCache(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	_, err = optimizer.ExecutePreparedQuery(conn, "get_trip_by_id", false, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, optimizer.CacheStats().Size)
}

func TestInvalidateCache(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	_, err = optimizer.ExecuteCachedQuery(conn, "SELECT * FROM trips")
	require.NoError(t, err)
	require.Equal(t, 1, optimizer.CacheStats().Size)

	t.Run("pattern misses leave entries alone", func(t *testing.T) {
		optimizer.InvalidateCache("departments")
		assert.Equal(t, 1, optimizer.CacheStats().Size)
	})

	t.Run("pattern removes matching table", func(t *testing.T) {
		optimizer.InvalidateCache("trips")
		assert.Equal(t, 0, optimizer.CacheStats().Size)
	})

	t.Run("no pattern empties the cache", func(t *testing.T) {
		_, err = optimizer.ExecuteCachedQuery(conn, "SELECT * FROM trips")
		require.NoError(t, err)
		optimizer.InvalidateCache("")
		assert.Equal(t, 0, optimizer.CacheStats().Size)
	})
}

func TestSlowQueries_SortedByAverageDescending(t *testing.T) {
	optimizer := NewQueryOptimizer(OptimizerOptions{CacheSize: 10, Logger: testLogger()})

	optimizer.trackStats("SELECT * FROM trips WHERE khach_hang LIKE ?", 200*time.Millisecond, 10)
	optimizer.trackStats("SELECT * FROM departments", 400*time.Millisecond, 5)
	optimizer.trackStats("SELECT 1", time.Millisecond, 1)

	slow := optimizer.SlowQueries(100 * time.Millisecond)
	require.Len(t, slow, 2)
	assert.Equal(t, "SELECT * FROM departments", slow[0].Query)
	assert.Equal(t, "SELECT * FROM trips WHERE khach_hang LIKE ?", slow[1].Query)
	assert.Greater(t, slow[0].Stats.AvgTime, slow[1].Stats.AvgTime)
}

func TestSuggestIndexes_FlagsSlowFilteredQueries(t *testing.T) {
	optimizer := NewQueryOptimizer(OptimizerOptions{CacheSize: 10, Logger: testLogger()})

	optimizer.trackStats("SELECT * FROM trips WHERE khach_hang LIKE ?", 300*time.Millisecond, 10)
	optimizer.trackStats("SELECT * FROM departments", 300*time.Millisecond, 5)

	suggestions := optimizer.SuggestIndexes(100 * time.Millisecond)
	require.Len(t, suggestions, 1)
	assert.Contains(t, suggestions[0], "khach_hang")
}

func TestTrackStats_Aggregation(t *testing.T) {
	optimizer := NewQueryOptimizer(OptimizerOptions{CacheSize: 10, Logger: testLogger()})

	query := "SELECT * FROM trips"
	optimizer.trackStats(query, 10*time.Millisecond, 3)
	optimizer.trackStats(query, 30*time.Millisecond, 5)

	stats := optimizer.QueryStats()
	stat, ok := stats[query]
	require.True(t, ok)
	assert.Equal(t, int64(2), stat.Count)
	assert.Equal(t, 40*time.Millisecond, stat.TotalTime)
	assert.Equal(t, 20*time.Millisecond, stat.AvgTime)
	assert.Equal(t, 10*time.Millisecond, stat.MinTime)
	assert.Equal(t, 30*time.Millisecond, stat.MaxTime)
	assert.Equal(t, int64(8), stat.TotalRows)
}

func TestAnalyzeTable(t *testing.T) {
	optimizer, pool, cleanup := setupTestOptimizer(t)
	defer cleanup()

	conn, err := pool.Get(time.Second)
	require.NoError(t, err)
	defer pool.Put(conn)

	stats, err := optimizer.AnalyzeTable(conn, "trips")
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.RowCount)
	assert.Contains(t, stats.Columns, "ma_chuyen")
	assert.Contains(t, stats.Columns, "khach_hang")
	assert.NotEmpty(t, stats.Indexes, "the unique constraint creates an index")
}

func TestRow_TypedAccessors(t *testing.T) {
	row := Row{
		"name":  "Alpha",
		"total": int64(42),
		"rate":  1.5,
		"note":  nil,
	}

	name, ok := row.String("name")
	assert.True(t, ok)
	assert.Equal(t, "Alpha", name)

	total, ok := row.Int("total")
	assert.True(t, ok)
	assert.Equal(t, int64(42), total)

	rate, ok := row.Float("rate")
	assert.True(t, ok)
	assert.Equal(t, 1.5, rate)

	assert.True(t, row.IsNull("note"))
	assert.False(t, row.IsNull("name"))
	assert.False(t, row.IsNull("absent"))

	_, ok = row.String("absent")
	assert.False(t, ok)
}
