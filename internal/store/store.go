// Package store implements the transactional relational persistence layer:
// a sqlite-backed database opened with WAL and foreign-key pragmas, goose
// migrations applied in version order inside a transaction, and a
// pre-migration backup when a backup directory is configured.
package store

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/aegis-run/aegis/core"
)

// Config configures the on-disk store.
type Config struct {
	Path          string // sqlite file path
	BackupDir     string // empty disables pre-migration backups
	MigrationsFS  fs.FS
	MigrationsDir string
}

// Store wraps a sqlx.DB opened against a single sqlite file with
// WAL + foreign_keys pragmas, as described for the persistence seam.
type Store struct {
	DB     *sqlx.DB
	logger core.Logger
}

// Open connects to the sqlite file at cfg.Path, enabling WAL mode and
// foreign key enforcement.
func Open(cfg Config, logger core.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, avoid "database is locked"

	return &Store{DB: db, logger: logger}, nil
}

// Migrate backs up the current database file (if cfg.BackupDir is set)
// then applies every pending goose migration inside its own transaction,
// in version order. A migration failure is fatal: the caller should exit
// non-zero (exit code 2 per the lifecycle surface).
func (s *Store) Migrate(cfg Config) error {
	if cfg.BackupDir != "" {
		if err := s.backup(cfg.Path, cfg.BackupDir); err != nil {
			return fmt.Errorf("store: pre-migration backup: %w", err)
		}
	}

	goose.SetBaseFS(cfg.MigrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	dir := cfg.MigrationsDir
	if dir == "" {
		dir = "migrations"
	}
	if err := goose.Up(s.DB.DB, dir); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Store) backup(dbPath, backupDir string) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil // nothing to back up yet
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(backupDir, fmt.Sprintf("pre-migration-%s.db", time.Now().UTC().Format("20060102T150405Z")))
	src, err := os.Open(dbPath)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.DB.Close()
}
