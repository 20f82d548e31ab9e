package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/magnus-im/CertificateManager/internal/config"
	"github.com/magnus-im/CertificateManager/internal/db"
	"github.com/magnus-im/CertificateManager/internal/logging"
)

const migratorLockID = 7462839

var errChecksumMismatch = errors.New("checksum mismatch")

func main() {
	dir := flag.String("dir", "migrations", "directory holding NNN_description.sql files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Fatalf("[CONFIG] %v", err)
	}
	log := logging.New(cfg.LogLevel, "text")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}
	defer pool.Close()
	log.Info("[CONNECT] success")

	if err := run(ctx, pool, *dir, log); err != nil {
		pool.Close()
		log.Fatalf("[ERROR] %v", err)
	}
	log.Info("[DONE] All migrations processed.")
}

func run(ctx context.Context, pool *pgxpool.Pool, dir string, log logrus.FieldLogger) error {
	conn, err := acquireLock(ctx, pool)
	if err != nil {
		return err
	}
	defer conn.Release()
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migratorLockID)
	log.Info("[LOCK] success")

	if err := setupSchemaMigrations(ctx, pool); err != nil {
		return err
	}

	migrations, err := discoverMigrations(dir)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		applied, err := applyMigration(ctx, pool, m)
		if err != nil {
			return err
		}
		if applied {
			log.Infof("[APPLY] %s", m.Filename)
		} else {
			log.Infof("[SKIP] %s", m.Filename)
		}
	}
	return nil
}

func acquireLock(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("[LOCK] failed to acquire connection for lock: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migratorLockID).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("[LOCK] failed to query advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, errors.New("[LOCK] another migrator is currently running")
	}
	return conn, nil
}

func setupSchemaMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// migration is one discovered SQL file with its content checksum.
type migration struct {
	Version  string
	Filename string
	SQL      string
	Checksum string
}

// discoverMigrations returns the .sql files of dir in filename order. Versions
// (the prefix before the first underscore) must be unique.
func discoverMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("[DISCOVER] failed to read migrations directory: %w", err)
	}

	var names []string
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := extractVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		if seen[version] {
			return nil, fmt.Errorf("[DISCOVER] duplicate version found: %s", version)
		}
		seen[version] = true
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		version, _ := extractVersion(name)
		out = append(out, migration{Version: version, Filename: name, SQL: string(body), Checksum: checksum(body)})
	}
	return out, nil
}

func extractVersion(filename string) (string, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("[DISCOVER] invalid migration filename format: %s. Expected format NNN_description.sql", filename)
	}
	return parts[0], nil
}

func checksum(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// applyMigration runs m in its own transaction unless its version is already
// recorded. A recorded version with a different checksum is an error.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) (bool, error) {
	var existing string
	err := pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", m.Version).Scan(&existing)
	switch {
	case err == nil:
		if existing != m.Checksum {
			return false, fmt.Errorf("%s: %w (recorded %s, file %s)", m.Filename, errChecksumMismatch, existing, m.Checksum)
		}
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("failed to query schema_migrations for %s: %w", m.Filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for %s: %w", m.Filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return false, fmt.Errorf("failed to execute migration %s: %w", m.Filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.Version, m.Filename, m.Checksum,
	); err != nil {
		return false, fmt.Errorf("failed to insert migration record for %s: %w", m.Filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction for %s: %w", m.Filename, err)
	}
	return true, nil
}
