package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("storage: conflict")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id int64) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	// DeleteUser removes the user together with the user's chat histories.
	DeleteUser(ctx context.Context, id int64) error
}

// ChatStore persists chat histories.
type ChatStore interface {
	CreateHistory(ctx context.Context, h chat.History) (chat.History, error)
	GetHistory(ctx context.Context, id int64) (chat.History, error)
	ListHistories(ctx context.Context, userID int64) ([]chat.History, error)
	UpdateHistoryTitle(ctx context.Context, id int64, title string) (chat.History, error)
	// DeleteHistory removes one history owned by userID and its messages.
	DeleteHistory(ctx context.Context, userID, id int64) error
	// DeleteHistories removes every history owned by userID and returns how many.
	DeleteHistories(ctx context.Context, userID int64) (int64, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error)
	// ListMessages returns messages oldest first.
	ListMessages(ctx context.Context, historyID int64) ([]chat.Message, error)
}

// MarketStore persists market quotes keyed by symbol.
type MarketStore interface {
	// ListQuotes returns quotes ordered by price, highest first.
	ListQuotes(ctx context.Context) ([]market.Quote, error)
	UpsertQuotes(ctx context.Context, quotes []market.Quote) ([]market.Quote, error)
}
