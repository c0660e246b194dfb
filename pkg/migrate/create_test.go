package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSQLMigrationBumpsCollidingVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := createSQLMigration(dir, "Add hold index!", now)
	require.NoError(t, err)
	assert.Equal(t, "20260301120000_add_hold_index.sql", filepath.Base(first))

	second, err := createSQLMigration(dir, "backfill wallets", now)
	require.NoError(t, err)
	assert.Equal(t, "20260301120001_backfill_wallets.sql", filepath.Base(second))

	body, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), upMarker))
	require.NoError(t, ValidateDir(dir))
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	_, err := createSQLMigration(t.TempDir(), " !! ", time.Now())
	assert.Error(t, err)
	_, err = CreateSQLMigration("", "x")
	assert.Error(t, err)
}
