package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Single connection avoids SQLITE_BUSY between the snapshot writer and API reads.
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// PruneSnapshots removes snapshots taken before now-olderThan and reports how many went.
func (d *DB) PruneSnapshots(now time.Time, olderThan time.Duration) (int64, error) {
	deadline := now.Add(-olderThan).UnixMilli()
	res, err := d.Exec("DELETE FROM state_snapshots WHERE taken_at < ?", deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneCache removes cache entries older than the specified duration.
func (d *DB) PruneCache(now time.Time, olderThan time.Duration) (int64, error) {
	deadline := now.Add(-olderThan).UnixMilli()
	res, err := d.Exec("DELETE FROM cache WHERE created_at < ?", deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS state_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at INTEGER NOT NULL,
			revision INTEGER NOT NULL,
			status TEXT NOT NULL,
			layer_count INTEGER,
			aircraft_count INTEGER,
			has_airspace_data BOOLEAN DEFAULT 0,
			airspace_feature_count INTEGER,
			loading BOOLEAN DEFAULT 0,
			has_error BOOLEAN DEFAULT 0,
			visible_layers TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_state_snapshots_taken_at ON state_snapshots (taken_at);`,
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB,
			created_at INTEGER NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	// Older databases lack the error text column.
	var colCount int
	err := d.QueryRow("SELECT count(*) FROM pragma_table_info('state_snapshots') WHERE name='error'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE state_snapshots ADD COLUMN error TEXT DEFAULT ''"); err != nil {
			return fmt.Errorf("failed to add error column: %w", err)
		}
	}

	return nil
}
