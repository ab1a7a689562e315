package storage

import (
	"context"
	"testing"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/internal/app/domain/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	alice, err := store.CreateUser(ctx, user.User{FullName: "Alice", Email: "alice@example.com", Role: user.RoleUser, PasswordHash: "h"})
	require.NoError(t, err)
	assert.NotZero(t, alice.ID)
	assert.Nil(t, alice.UpdatedAt)

	_, err = store.CreateUser(ctx, user.User{Email: "ALICE@example.com"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	bob, err := store.CreateUser(ctx, user.User{FullName: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)

	bob.Email = "alice@example.com"
	_, err = store.UpdateUser(ctx, bob)
	assert.ErrorIs(t, err, ErrConflict)

	bob.Email = "robert@example.com"
	updated, err := store.UpdateUser(ctx, bob)
	require.NoError(t, err)
	require.NotNil(t, updated.UpdatedAt)

	list, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, alice.ID, list[0].ID)

	_, err = store.GetUser(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteUser(ctx, 999), ErrNotFound)
}

func TestMemoryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	u, err := store.CreateUser(ctx, user.User{Email: "a@b.co"})
	require.NoError(t, err)
	h1, err := store.CreateHistory(ctx, chat.History{UserID: u.ID, Title: "one"})
	require.NoError(t, err)
	h2, err := store.CreateHistory(ctx, chat.History{UserID: u.ID, Title: "two"})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, chat.Message{ChatHistoryID: h1.ID, Role: chat.RoleUser, Content: "hi"})
	require.NoError(t, err)

	// Wrong owner does not delete.
	assert.ErrorIs(t, store.DeleteHistory(ctx, u.ID+100, h1.ID), ErrNotFound)

	require.NoError(t, store.DeleteHistory(ctx, u.ID, h1.ID))
	msgs, err := store.ListMessages(ctx, h1.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, store.DeleteUser(ctx, u.ID))
	_, err = store.GetHistory(ctx, h2.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryMessagesOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	u, _ := store.CreateUser(ctx, user.User{Email: "a@b.co"})
	h, _ := store.CreateHistory(ctx, chat.History{UserID: u.ID})

	for _, content := range []string{"first", "second", "third"} {
		_, err := store.CreateMessage(ctx, chat.Message{ChatHistoryID: h.ID, Role: chat.RoleUser, Content: content})
		require.NoError(t, err)
	}
	msgs, err := store.ListMessages(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[2].Content)

	_, err = store.CreateMessage(ctx, chat.Message{ChatHistoryID: 12345, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryQuotes(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	first, err := store.UpsertQuotes(ctx, []market.Quote{
		{Symbol: "ETH", Name: "Ethereum", Price: 3000},
		{Symbol: "BTC", Name: "Bitcoin", Price: 60000},
	})
	require.NoError(t, err)

	second, err := store.UpsertQuotes(ctx, []market.Quote{{Symbol: "ETH", Name: "Ethereum", Price: 3100, Change24h: 3.3}})
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)

	quotes, err := store.ListQuotes(ctx)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "BTC", quotes[0].Symbol)
	assert.Equal(t, 3100.0, quotes[1].Price)
}
