package testutil

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/domain/user"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/internal/platform/migrations"
)

// SeedHistory creates a user and one chat history for it.
func SeedHistory(t testing.TB, store interface {
	storage.UserStore
	storage.ChatStore
}) (user.User, chat.History) {
	t.Helper()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, user.User{FullName: "Test User", Email: "fixture@example.com", Role: user.RoleUser})
	require.NoError(t, err)
	h, err := store.CreateHistory(ctx, chat.History{UserID: u.ID, Title: "fixture"})
	require.NoError(t, err)
	return u, h
}

// SQLiteDB opens a migrated in-memory SQLite database that is closed when
// the test ends.
func SQLiteDB(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	// Each connection to :memory: would see its own empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Apply(context.Background(), db.DB, migrations.SQLite))
	return db
}
