package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xammer/billops/internal/infrastructure/config"
)

func TestDatabase_Ping(t *testing.T) {
	t.Run("healthy connection", func(t *testing.T) {
		gormDB, _ := newMockDB(t)
		db := &Database{DB: gormDB}

		require.NoError(t, db.Ping())
	})

	t.Run("closed pool fails", func(t *testing.T) {
		gormDB, _ := newMockDB(t)
		db := &Database{DB: gormDB}

		require.NoError(t, db.Close())
		assert.Error(t, db.Ping())
	})
}

func TestDatabase_Stats(t *testing.T) {
	gormDB, _ := newMockDB(t)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(7)

	db := &Database{DB: gormDB}
	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 7, stats.MaxOpenConnections)
	assert.Equal(t, stats.InUse+stats.Idle, stats.OpenConnections)
	assert.Equal(t, time.Duration(0), stats.WaitDuration)
}

func TestConnectionStats_JSON(t *testing.T) {
	raw, err := json.Marshal(ConnectionStats{MaxOpenConnections: 25, InUse: 3})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"maxOpenConnections":25`)
	assert.Contains(t, string(raw), `"inUse":3`)
}

func TestDatabase_Close(t *testing.T) {
	gormDB, mock := newMockDB(t)
	db := &Database{DB: gormDB}

	mock.ExpectClose()
	require.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDatabase_Unreachable(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:         "127.0.0.1",
		Port:         1,
		User:         "billops",
		Password:     "billops",
		DBName:       "billops",
		SSLMode:      "disable",
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	}

	_, err := NewDatabase(cfg, nil)
	require.Error(t, err)
}
