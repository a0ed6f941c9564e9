package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"modbusmgr/internal/domain"
)

var errPendingPeripheral = errors.New("peripheral has no confirmed remote record")

// Repository implements repository.Store using SQLite
type Repository struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath.
// ":memory:" gives a private in-memory database.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: a second one would see a different :memory: database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS peripherals (
		identity_key TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		unit_id TEXT,
		remote_id TEXT NOT NULL,
		metadata JSON,
		metadata_hash TEXT,
		last_seen_at TEXT NOT NULL,
		missed_cycles INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_peripherals_remote ON peripherals(remote_id);
	`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return r.addColumnIfNotExists(ctx, "peripherals", "metadata_hash", "TEXT")
}

// addColumnIfNotExists adds a column to an existing table from an older schema
func (r *Repository) addColumnIfNotExists(ctx context.Context, table, column, colType string) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("read table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = r.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, colType))
	return err
}

// Load returns all stored peripherals ordered by identity key
func (r *Repository) Load(ctx context.Context) ([]domain.KnownPeripheral, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+peripheralColumns+` FROM peripherals ORDER BY identity_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query peripherals: %w", err)
	}
	defer rows.Close()

	var out []domain.KnownPeripheral
	for rows.Next() {
		var row peripheralRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan peripheral: %w", err)
		}
		p, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("peripheral %s: %w", row.IdentityKey, err)
		}
		out = append(out, p)
	}

	return out, rows.Err()
}

// Save upserts a confirmed peripheral
func (r *Repository) Save(ctx context.Context, p domain.KnownPeripheral) error {
	if !p.Registered() {
		return fmt.Errorf("save %s: %w", p.Identity, errPendingPeripheral)
	}

	args, err := peripheralInsertArgs(p, time.Now())
	if err != nil {
		return fmt.Errorf("save %s: %w", p.Identity, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO peripherals (identity_key, host, port, unit_id, remote_id, metadata,
			metadata_hash, last_seen_at, missed_cycles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			remote_id = excluded.remote_id,
			metadata = excluded.metadata,
			metadata_hash = excluded.metadata_hash,
			last_seen_at = excluded.last_seen_at,
			missed_cycles = excluded.missed_cycles,
			updated_at = excluded.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to save peripheral %s: %w", p.Identity, err)
	}
	return nil
}

// Delete removes a peripheral by identity
func (r *Repository) Delete(ctx context.Context, id domain.Identity) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM peripherals WHERE identity_key = ?`, id.Key()); err != nil {
		return fmt.Errorf("failed to delete peripheral %s: %w", id, err)
	}
	return nil
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}
