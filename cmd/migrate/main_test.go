package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestDiscoverMigrations_OrderedAndChecksummed(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"002_lots.sql":   "CREATE TABLE b();",
		"001_schema.sql": "CREATE TABLE a();",
		"README.md":      "ignored",
	})

	got, err := discoverMigrations(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001", got[0].Version)
	assert.Equal(t, "002_lots.sql", got[1].Filename)
	assert.Equal(t, "CREATE TABLE a();", got[0].SQL)
	assert.Len(t, got[0].Checksum, 64)
	assert.NotEqual(t, got[0].Checksum, got[1].Checksum)
}

func TestDiscoverMigrations_Rejects(t *testing.T) {
	dup := writeFiles(t, map[string]string{"001_a.sql": "", "001_b.sql": ""})
	_, err := discoverMigrations(dup)
	assert.ErrorContains(t, err, "duplicate version")

	bad := writeFiles(t, map[string]string{"schema.sql": ""})
	_, err = discoverMigrations(bad)
	assert.ErrorContains(t, err, "invalid migration filename")
}

func TestRepositoryMigrationsAreDiscoverable(t *testing.T) {
	got, err := discoverMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "001", got[0].Version)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Version, got[i].Version)
	}
}
