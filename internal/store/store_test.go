package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{}, noopLogger{})
	require.Error(t, err)
}

func TestMigrateBacksUpExistingDatabaseBeforeMigrating(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aegis.db")
	backupDir := filepath.Join(dir, "backups")

	cfg := Config{Path: dbPath, MigrationsFS: MigrationsFS, MigrationsDir: MigrationsDir}
	s, err := Open(cfg, noopLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(cfg))
	require.NoError(t, s.Close())

	cfg.BackupDir = backupDir
	s2, err := Open(cfg, noopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	require.NoError(t, s2.Migrate(cfg))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMigrateSkipsBackupWhenDatabaseDoesNotExistYet(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Path:          filepath.Join(dir, "aegis.db"),
		BackupDir:     filepath.Join(dir, "backups"),
		MigrationsFS:  MigrationsFS,
		MigrationsDir: MigrationsDir,
	}
	s, err := Open(cfg, noopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(cfg))

	_, err = os.Stat(cfg.BackupDir)
	require.True(t, os.IsNotExist(err))
}

func TestCloseIsSafeAfterOpen(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
}
