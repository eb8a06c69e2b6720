package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is a versioned, named schema-change unit with an optional
// reverse script. Versions are monotonic integers; migrations apply in
// strictly ascending order.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a persisted bookkeeping row for an applied migration.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// MigrationStatus summarizes where the schema stands relative to the
// registered catalog.
type MigrationStatus struct {
	CurrentVersion int
	Total          int
	AppliedCount   int
	PendingCount   int
	Pending        []Migration
}

// migrationFilePattern matches V<version>__<name>.sql. Down scripts use
// V<version>__down__<name>.sql and are discovered through their up file.
var migrationFilePattern = regexp.MustCompile(`^V(\d+)__(.+)\.sql$`)

// MigrationRunner applies and rolls back versioned schema changes, tracked
// in the schema_migrations bookkeeping table. It operates on a raw store
// handle, independent of the connection pool, and is expected to run to
// completion before the pool serves general traffic. Concurrent runs are
// not supported; the host serializes them.
type MigrationRunner struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationRunner creates a runner and ensures the bookkeeping table
// exists.
func NewMigrationRunner(db *sql.DB, logger *slog.Logger) (*MigrationRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	return &MigrationRunner{db: db, logger: logger}, nil
}

// Register adds a migration to the in-memory catalog, kept sorted ascending
// by version. Registering a version twice is an error.
func (r *MigrationRunner) Register(m Migration) error {
	for _, existing := range r.migrations {
		if existing.Version == m.Version {
			return fmt.Errorf("%w: %d (%q and %q)", ErrDuplicateVersion, m.Version, existing.Name, m.Name)
		}
	}
	r.migrations = append(r.migrations, m)
	sort.Slice(r.migrations, func(i, j int) bool {
		return r.migrations[i].Version < r.migrations[j].Version
	})
	return nil
}

// CurrentVersion returns max(version) among applied records, 0 on a fresh
// store.
func (r *MigrationRunner) CurrentVersion() (int, error) {
	var version sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// AppliedMigrations returns the bookkeeping rows in ascending version order.
func (r *MigrationRunner) AppliedMigrations() ([]MigrationRecord, error) {
	rows, err := r.db.Query("SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	records := make([]MigrationRecord, 0)
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PendingMigrations returns catalog entries with version greater than the
// current one, ascending, capped at target when target > 0.
func (r *MigrationRunner) PendingMigrations(target int) ([]Migration, error) {
	current, err := r.CurrentVersion()
	if err != nil {
		return nil, err
	}

	pending := make([]Migration, 0)
	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if target > 0 && m.Version > target {
			continue
		}
		pending = append(pending, m)
	}
	return pending, nil
}

// MigrateUp applies each pending migration in ascending order, one per
// transaction, up to target (0 applies everything). A failure rolls back
// that single migration and halts: earlier migrations in the same call stay
// committed and the schema is left at the last fully-applied version.
func (r *MigrationRunner) MigrateUp(target int) error {
	pending, err := r.PendingMigrations(target)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.logger.Info("no pending migrations")
		return nil
	}

	current, err := r.CurrentVersion()
	if err != nil {
		return err
	}
	r.logger.Info("applying migrations", "count", len(pending), "from_version", current)

	for _, m := range pending {
		if err := r.apply(m); err != nil {
			return err
		}
	}

	final, err := r.CurrentVersion()
	if err != nil {
		return err
	}
	r.logger.Info("migrations complete", "version", final)
	return nil
}

func (r *MigrationRunner) apply(m Migration) error {
	r.logger.Info("applying migration", "version", m.Version, "name", m.Name)

	tx, err := r.db.Begin()
	if err != nil {
		return &MigrationApplyError{Version: m.Version, Name: m.Name, Err: err}
	}

	if _, err := tx.Exec(m.UpSQL); err != nil {
		_ = tx.Rollback()
		r.logger.Error("migration failed", "version", m.Version, "name", m.Name, "error", err)
		return &MigrationApplyError{Version: m.Version, Name: m.Name, Err: err}
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		_ = tx.Rollback()
		r.logger.Error("migration bookkeeping failed", "version", m.Version, "name", m.Name, "error", err)
		return &MigrationApplyError{Version: m.Version, Name: m.Name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &MigrationApplyError{Version: m.Version, Name: m.Name, Err: err}
	}
	return nil
}

// MigrateDown rolls back migrations with target < version <= current, in
// descending order. The whole run is validated up front: every migration
// being undone must be registered and carry a non-empty down-script, so a
// doomed rollback never alters the current version. Each rollback runs the
// down-script and deletes the bookkeeping row in one transaction.
func (r *MigrationRunner) MigrateDown(target int) error {
	current, err := r.CurrentVersion()
	if err != nil {
		return err
	}
	if target >= current {
		r.logger.Info("nothing to roll back", "current_version", current, "target", target)
		return nil
	}

	toRollback := make([]Migration, 0)
	for i := len(r.migrations) - 1; i >= 0; i-- {
		m := r.migrations[i]
		if m.Version > target && m.Version <= current {
			toRollback = append(toRollback, m)
		}
	}
	if len(toRollback) == 0 {
		return fmt.Errorf("no registered migrations between version %d and %d", target, current)
	}

	for _, m := range toRollback {
		if m.DownSQL == "" {
			return &MigrationRollbackError{Version: m.Version, Name: m.Name,
				Err: fmt.Errorf("no down script")}
		}
	}

	r.logger.Info("rolling back migrations", "count", len(toRollback), "target", target)
	for _, m := range toRollback {
		if err := r.rollback(m); err != nil {
			return err
		}
	}

	final, err := r.CurrentVersion()
	if err != nil {
		return err
	}
	r.logger.Info("rollback complete", "version", final)
	return nil
}

func (r *MigrationRunner) rollback(m Migration) error {
	r.logger.Info("rolling back migration", "version", m.Version, "name", m.Name)

	tx, err := r.db.Begin()
	if err != nil {
		return &MigrationRollbackError{Version: m.Version, Name: m.Name, Err: err}
	}

	if _, err := tx.Exec(m.DownSQL); err != nil {
		_ = tx.Rollback()
		r.logger.Error("rollback failed", "version", m.Version, "name", m.Name, "error", err)
		return &MigrationRollbackError{Version: m.Version, Name: m.Name, Err: err}
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
		_ = tx.Rollback()
		return &MigrationRollbackError{Version: m.Version, Name: m.Name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &MigrationRollbackError{Version: m.Version, Name: m.Name, Err: err}
	}
	return nil
}

// LoadDirectory discovers migration files named V<version>__<name>.sql and
// their optional V<version>__down__<name>.sql pair. A .sql file that does
// not match the convention is an error rather than a skipped warning: a
// silently ignored migration is a schema-drift risk.
func (r *MigrationRunner) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if strings.Contains(name, "__down__") {
			continue // discovered through its up file
		}

		matches := migrationFilePattern.FindStringSubmatch(name)
		if matches == nil {
			return fmt.Errorf("migration filename %q does not match V<version>__<name>.sql", name)
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return fmt.Errorf("migration filename %q has invalid version: %w", name, err)
		}

		upSQL, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration %q: %w", name, err)
		}

		var downSQL []byte
		downName := fmt.Sprintf("V%s__down__%s.sql", matches[1], matches[2])
		if data, err := os.ReadFile(filepath.Join(dir, downName)); err == nil {
			downSQL = data
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read down migration %q: %w", downName, err)
		}

		m := Migration{
			Version: version,
			Name:    strings.ReplaceAll(matches[2], "_", " "),
			UpSQL:   string(upSQL),
			DownSQL: string(downSQL),
		}
		if err := r.Register(m); err != nil {
			return err
		}
		loaded++
	}

	r.logger.Info("loaded migrations", "count", loaded, "dir", dir)
	return nil
}

// Status reports the current version and applied/pending counts.
func (r *MigrationRunner) Status() (MigrationStatus, error) {
	current, err := r.CurrentVersion()
	if err != nil {
		return MigrationStatus{}, err
	}
	applied, err := r.AppliedMigrations()
	if err != nil {
		return MigrationStatus{}, err
	}
	pending, err := r.PendingMigrations(0)
	if err != nil {
		return MigrationStatus{}, err
	}

	return MigrationStatus{
		CurrentVersion: current,
		Total:          len(r.migrations),
		AppliedCount:   len(applied),
		PendingCount:   len(pending),
		Pending:        pending,
	}, nil
}
