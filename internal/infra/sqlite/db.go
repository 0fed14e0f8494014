// Package sqlite provides SQLite-based persistent history for vpcsim.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// FileName is the database file inside the data directory.
const FileName = "state.db"

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, FileName)
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Tasks removed from the survivor set: kill, deadlocked, evicted.
		`CREATE TABLE IF NOT EXISTS resolved_tasks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id    TEXT NOT NULL,
			resolved_at INTEGER NOT NULL,
			pid         INTEGER NOT NULL,
			name        TEXT NOT NULL,
			v_cpu_alloc REAL NOT NULL,
			v_ram_alloc REAL NOT NULL,
			score       REAL NOT NULL,
			action      TEXT NOT NULL,
			reason      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolved_at ON resolved_tasks(resolved_at)`,
		`CREATE INDEX IF NOT EXISTS idx_resolved_action ON resolved_tasks(action)`,

		// Rolling per-cycle summary log, trimmed to CycleLogLimit rows.
		`CREATE TABLE IF NOT EXISTS cycle_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id  TEXT NOT NULL,
			logged_at INTEGER NOT NULL,
			status    TEXT NOT NULL,
			total_ram REAL NOT NULL,
			total_cpu REAL NOT NULL,
			line      TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Meta ───────────────────────────────────────────────────────────────────

// SetMeta stores a key-value pair.
func (d *DB) SetMeta(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetMeta retrieves a value; a missing key returns "".
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Reset deletes all recorded history and metadata.
func (d *DB) Reset() error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	for _, table := range []string{"resolved_tasks", "cycle_log", "meta"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
