package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentchat/internal/config"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 4})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	assert.Equal(t, "sqlite", db.DriverName())
}

func TestOpenRequiresDriverAndDSN(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{DSN: ":memory:"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)
}
