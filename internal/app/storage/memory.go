package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/internal/app/domain/user"
)

// Memory is a thread-safe in-memory persistence layer implementing the storage
// interfaces defined in this package. It backs tests and local runs.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	users     map[int64]user.User
	histories map[int64]chat.History
	messages  map[int64][]chat.Message
	quotes    map[string]market.Quote
	now       func() time.Time
}

var (
	_ UserStore    = (*Memory)(nil)
	_ ChatStore    = (*Memory)(nil)
	_ MessageStore = (*Memory)(nil)
	_ MarketStore  = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:    1,
		users:     make(map[int64]user.User),
		histories: make(map[int64]chat.History),
		messages:  make(map[int64][]chat.Message),
		quotes:    make(map[string]market.Quote),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) nextIDLocked() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// UserStore implementation ----------------------------------------------------

func (m *Memory) CreateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emailTakenLocked(u.Email, 0) {
		return user.User{}, ErrConflict
	}
	u.ID = m.nextIDLocked()
	u.CreatedAt = m.now()
	u.UpdatedAt = nil
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return user.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]user.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.users[u.ID]
	if !ok {
		return user.User{}, ErrNotFound
	}
	if m.emailTakenLocked(u.Email, u.ID) {
		return user.User{}, ErrConflict
	}
	u.CreatedAt = original.CreatedAt
	now := m.now()
	u.UpdatedAt = &now
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	m.deleteHistoriesLocked(id)
	return nil
}

func (m *Memory) emailTakenLocked(email string, except int64) bool {
	for id, u := range m.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// ChatStore implementation ----------------------------------------------------

func (m *Memory) CreateHistory(_ context.Context, h chat.History) (chat.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[h.UserID]; !ok {
		return chat.History{}, ErrNotFound
	}
	h.ID = m.nextIDLocked()
	h.CreatedAt = m.now()
	m.histories[h.ID] = h
	return h, nil
}

func (m *Memory) GetHistory(_ context.Context, id int64) (chat.History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.histories[id]
	if !ok {
		return chat.History{}, ErrNotFound
	}
	return h, nil
}

func (m *Memory) ListHistories(_ context.Context, userID int64) ([]chat.History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]chat.History, 0)
	for _, h := range m.histories {
		if h.UserID == userID {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) UpdateHistoryTitle(_ context.Context, id int64, title string) (chat.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histories[id]
	if !ok {
		return chat.History{}, ErrNotFound
	}
	h.Title = title
	m.histories[id] = h
	return h, nil
}

func (m *Memory) DeleteHistory(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histories[id]
	if !ok || h.UserID != userID {
		return ErrNotFound
	}
	delete(m.histories, id)
	delete(m.messages, id)
	return nil
}

func (m *Memory) DeleteHistories(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deleteHistoriesLocked(userID), nil
}

func (m *Memory) deleteHistoriesLocked(userID int64) int64 {
	var removed int64
	for id, h := range m.histories {
		if h.UserID == userID {
			delete(m.histories, id)
			delete(m.messages, id)
			removed++
		}
	}
	return removed
}

// MessageStore implementation -------------------------------------------------

func (m *Memory) CreateMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.histories[msg.ChatHistoryID]; !ok {
		return chat.Message{}, ErrNotFound
	}
	msg.ID = m.nextIDLocked()
	msg.CreatedAt = m.now()
	m.messages[msg.ChatHistoryID] = append(m.messages[msg.ChatHistoryID], msg)
	return msg, nil
}

func (m *Memory) ListMessages(_ context.Context, historyID int64) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Append order is already created_at, id.
	return append([]chat.Message{}, m.messages[historyID]...), nil
}

// MarketStore implementation --------------------------------------------------

func (m *Memory) ListQuotes(_ context.Context) ([]market.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]market.Quote, 0, len(m.quotes))
	for _, q := range m.quotes {
		result = append(result, q)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Price == result[j].Price {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].Price > result[j].Price
	})
	return result, nil
}

func (m *Memory) UpsertQuotes(_ context.Context, quotes []market.Quote) ([]market.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]market.Quote, 0, len(quotes))
	for _, q := range quotes {
		if existing, ok := m.quotes[q.Symbol]; ok {
			q.ID = existing.ID
		} else {
			q.ID = m.nextIDLocked()
		}
		q.UpdatedAt = now
		m.quotes[q.Symbol] = q
		out = append(out, q)
	}
	return out, nil
}
