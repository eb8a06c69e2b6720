package database

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const statKeyLength = 100

// QueryStat aggregates execution metrics for one query shape.
type QueryStat struct {
	Count     int64
	TotalTime time.Duration
	AvgTime   time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	TotalRows int64
}

// SlowQuery pairs a query shape with its aggregated statistics.
type SlowQuery struct {
	Query string
	Stats QueryStat
}

// OptimizerOptions configures a QueryOptimizer.
type OptimizerOptions struct {
	CacheSize    int
	CacheEnabled bool
	CacheTTL     time.Duration // 0 disables time-based expiry
	Logger       *slog.Logger
}

// QueryOptimizer serves reads from an LRU result cache, resolves named
// prepared statements, and tracks per-query-shape execution statistics.
// Writes bypass this layer entirely; callers must invalidate the cache after
// any mutating statement that could affect previously cached reads.
//
// One instance is shared per process by injecting it into every consuming
// service. Tests construct their own.
type QueryOptimizer struct {
	cache        *LRUCache[[]Row]
	statements   *StatementCatalog
	cacheEnabled bool
	logger       *slog.Logger

	mu    sync.Mutex
	stats map[string]*QueryStat
}

// NewQueryOptimizer creates an optimizer with its own cache and a catalog
// seeded with the common application queries.
func NewQueryOptimizer(opts OptimizerOptions) *QueryOptimizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &QueryOptimizer{
		cache:        NewLRUCache[[]Row](opts.CacheSize, opts.CacheTTL),
		statements:   NewStatementCatalog(),
		cacheEnabled: opts.CacheEnabled,
		logger:       opts.Logger,
		stats:        make(map[string]*QueryStat),
	}
}

// Statements returns the prepared-statement catalog for registration of
// additional templates.
func (o *QueryOptimizer) Statements() *StatementCatalog { return o.statements }

// cacheKey combines the normalized query text with a digest of the query and
// its parameters. Keeping the query text in the key lets Invalidate match on
// table names.
func cacheKey(query string, params []any) string {
	normalized := normalizeQuery(query)
	h := fnv.New64a()
	h.Write([]byte(normalized))
	fmt.Fprintf(h, "%v", params)
	return fmt.Sprintf("%s|%016x", normalized, h.Sum64())
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// ExecuteCachedQuery runs a read query, serving from the cache when enabled.
// Results are cached only after a successful execution; failures propagate
// without caching anything.
func (o *QueryOptimizer) ExecuteCachedQuery(conn *Conn, query string, params ...any) ([]Row, error) {
	key := cacheKey(query, params)

	if o.cacheEnabled {
		if cached, ok := o.cache.Get(key); ok {
			o.logger.Debug("query cache hit", "query", truncateQuery(normalizeQuery(query), 50))
			return cached, nil
		}
	}

	start := time.Now()
	rows, err := conn.Query(query, params...)
	if err != nil {
		o.logger.Error("query execution failed", "error", err, "query", truncateQuery(query, 80))
		return nil, &QueryExecutionError{Query: query, Err: err}
	}

	results, err := collectRows(rows)
	if err != nil {
		o.logger.Error("result materialization failed", "error", err, "query", truncateQuery(query, 80))
		return nil, &QueryExecutionError{Query: query, Err: err}
	}
	elapsed := time.Since(start)

	if o.cacheEnabled {
		o.cache.Put(key, results)
	}
	o.trackStats(query, elapsed, len(results))

	return results, nil
}

// ExecutePreparedQuery resolves a named statement from the catalog and
// executes it, through the cache when useCache is true. Returns
// ErrStatementNotFound when the name is not registered.
func (o *QueryOptimizer) ExecutePreparedQuery(conn *Conn, name string, useCache bool, params ...any) ([]Row, error) {
	query, ok := o.statements.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStatementNotFound, name)
	}

	if useCache {
		return o.ExecuteCachedQuery(conn, query, params...)
	}
	return o.queryDirect(conn, query, params...)
}

// queryDirect executes a query without consulting or populating the cache
// and without touching statistics.
func (o *QueryOptimizer) queryDirect(conn *Conn, query string, params ...any) ([]Row, error) {
	rows, err := conn.Query(query, params...)
	if err != nil {
		o.logger.Error("query execution failed", "error", err, "query", truncateQuery(query, 80))
		return nil, &QueryExecutionError{Query: query, Err: err}
	}
	results, err := collectRows(rows)
	if err != nil {
		return nil, &QueryExecutionError{Query: query, Err: err}
	}
	return results, nil
}

func (o *QueryOptimizer) trackStats(query string, elapsed time.Duration, rowCount int) {
	key := normalizeQuery(query)
	if len(key) > statKeyLength {
		key = key[:statKeyLength]
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	stat, ok := o.stats[key]
	if !ok {
		stat = &QueryStat{MinTime: elapsed}
		o.stats[key] = stat
	}
	stat.Count++
	stat.TotalTime += elapsed
	stat.AvgTime = stat.TotalTime / time.Duration(stat.Count)
	if elapsed > stat.MaxTime {
		stat.MaxTime = elapsed
	}
	if elapsed < stat.MinTime {
		stat.MinTime = elapsed
	}
	stat.TotalRows += int64(rowCount)
}

// InvalidateCache removes cached results whose key contains pattern; an
// empty pattern clears the cache. Callers invoke this after writes that
// could affect cached reads; there is no automatic dependency tracking.
func (o *QueryOptimizer) InvalidateCache(pattern string) {
	removed := o.cache.Invalidate(pattern)
	target := pattern
	if target == "" {
		target = "all"
	}
	o.logger.Info("query cache invalidated", "pattern", target, "removed", removed)
}

// CacheStats returns a snapshot of the result cache counters.
func (o *QueryOptimizer) CacheStats() CacheStats {
	return o.cache.Stats()
}

// QueryStats returns a copy of the per-query-shape statistics.
func (o *QueryOptimizer) QueryStats() map[string]QueryStat {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]QueryStat, len(o.stats))
	for k, v := range o.stats {
		out[k] = *v
	}
	return out
}

// SlowQueries returns tracked query shapes whose average latency exceeds
// threshold, sorted descending by average latency.
func (o *QueryOptimizer) SlowQueries(threshold time.Duration) []SlowQuery {
	o.mu.Lock()
	slow := make([]SlowQuery, 0)
	for query, stat := range o.stats {
		if stat.AvgTime > threshold {
			slow = append(slow, SlowQuery{Query: query, Stats: *stat})
		}
	}
	o.mu.Unlock()

	sort.Slice(slow, func(i, j int) bool {
		return slow[i].Stats.AvgTime > slow[j].Stats.AvgTime
	})
	return slow
}

// SuggestIndexes flags slow queries with a WHERE-style filter as index
// candidates. Advisory only: no DDL is ever issued.
func (o *QueryOptimizer) SuggestIndexes(threshold time.Duration) []string {
	suggestions := make([]string, 0)
	for _, sq := range o.SlowQueries(threshold) {
		if strings.Contains(strings.ToUpper(sq.Query), "WHERE") {
			suggestions = append(suggestions,
				fmt.Sprintf("-- Consider adding an index for: %s", truncateQuery(sq.Query, 80)))
		}
	}
	return suggestions
}

// TableStats describes a table's shape for diagnostics.
type TableStats struct {
	RowCount int64
	Columns  []string
	Indexes  []string
}

// AnalyzeTable reports row count, columns and indexes for a table.
func (o *QueryOptimizer) AnalyzeTable(conn *Conn, table string) (TableStats, error) {
	var stats TableStats

	if err := conn.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&stats.RowCount); err != nil {
		return stats, &QueryExecutionError{Query: "SELECT COUNT(*) FROM " + table, Err: err}
	}

	rows, err := o.queryDirect(conn, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return stats, err
	}
	for _, row := range rows {
		if name, ok := row.String("name"); ok {
			stats.Columns = append(stats.Columns, name)
		}
	}

	rows, err = o.queryDirect(conn, fmt.Sprintf("PRAGMA index_list(%s)", table))
	if err != nil {
		return stats, err
	}
	for _, row := range rows {
		if name, ok := row.String("name"); ok {
			stats.Indexes = append(stats.Indexes, name)
		}
	}

	return stats, nil
}
