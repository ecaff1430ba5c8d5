package db

import (
	"path/filepath"
	"testing"

	"github.com/norne/arenanav/config"
	dbmysql "github.com/norne/arenanav/db/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probe struct {
	ID   int64
	Name string
}

func TestOpen_Memory(t *testing.T) {
	a, err := Open(config.DatabaseConfig{Mode: ModeMemory})
	require.NoError(t, err)
	b, err := Open(config.DatabaseConfig{Mode: ModeMemory})
	require.NoError(t, err)

	require.NoError(t, a.AutoMigrate(&probe{}))
	require.NoError(t, a.Create(&probe{Name: "x"}).Error)

	var n int64
	require.NoError(t, a.Model(&probe{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	// memory databases are private
	assert.False(t, b.Migrator().HasTable(&probe{}))
}

func TestOpen_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "nav.db")
	gdb, err := Open(config.DatabaseConfig{Mode: ModeSQLite, SQLitePath: path})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&probe{}))
	assert.FileExists(t, path)
}

func TestOpen_UnknownMode(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Mode: "embedded_xml"})
	assert.ErrorContains(t, err, "unknown mode")
}

func TestOpen_MySQLWithoutDSN(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Mode: ModeMySQL})
	assert.ErrorIs(t, err, dbmysql.ErrNoDSN)
}
