package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_EmptyDriverMeansNoDB(t *testing.T) {
	d, err := Open("", "")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "")
	require.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	d, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	sqlDB, err := d.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	assert.NoError(t, sqlDB.Ping())
}
