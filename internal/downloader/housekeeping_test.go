package downloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chzzkrecd/internal/config"
)

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestRunHousekeeping_KeepIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.ts")

	cfg := config.Default()
	cfg.OnStartPrevious = config.PolicyKeep

	require.NoError(t, runHousekeeping(cfg, dir, "chan"))

	_, err := os.Stat(filepath.Join(dir, "old.ts"))
	assert.NoError(t, err)
}

func TestRunHousekeeping_DeleteRemovesNonDotfiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.ts")
	writeFile(t, dir, ".keepme")

	cfg := config.Default()
	cfg.OnStartPrevious = config.PolicyDelete

	require.NoError(t, runHousekeeping(cfg, dir, "chan"))

	_, err := os.Stat(filepath.Join(dir, "old.ts"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, ".keepme"))
	assert.NoError(t, err)
}

func TestRunHousekeeping_ArchiveMovesFiles(t *testing.T) {
	dir := t.TempDir()
	archiveRoot := t.TempDir()
	writeFile(t, dir, "old.ts")

	cfg := config.Default()
	cfg.OnStartPrevious = config.PolicyArchive
	cfg.ArchiveDir = archiveRoot

	require.NoError(t, runHousekeeping(cfg, dir, "chan"))

	_, err := os.Stat(filepath.Join(dir, "old.ts"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Join(archiveRoot, "chan"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRunHousekeeping_MissingDirIsNotAnError(t *testing.T) {
	cfg := config.Default()
	cfg.OnStartPrevious = config.PolicyDelete

	require.NoError(t, runHousekeeping(cfg, filepath.Join(t.TempDir(), "nope"), "chan"))
}
