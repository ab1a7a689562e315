// Package sqlstore implements the storage interfaces on top of sqlx. The same
// queries serve PostgreSQL and SQLite; placeholders are rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/internal/app/domain/user"
	"github.com/R3E-Network/agentchat/internal/app/storage"
)

// Store implements the storage interfaces backed by a SQL database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var (
	_ storage.UserStore    = (*Store)(nil)
	_ storage.ChatStore    = (*Store)(nil)
	_ storage.MessageStore = (*Store)(nil)
	_ storage.MarketStore  = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// --- UserStore --------------------------------------------------------------

const userColumns = `id, full_name, email, role, password, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	u.CreatedAt = s.now()
	u.UpdatedAt = nil

	err := s.db.GetContext(ctx, &u.ID, s.q(`
		INSERT INTO users (full_name, email, role, password, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), u.FullName, u.Email, u.Role, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER(?)`), email)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	users := []user.User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	now := s.now()
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = &now

	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users
		SET full_name = ?, email = ?, role = ?, password = ?, updated_at = ?
		WHERE id = ?
	`), u.FullName, u.Email, u.Role, u.PasswordHash, now, u.ID)
	if err != nil {
		return user.User{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM messages
			WHERE chat_history_id IN (SELECT id FROM chat_histories WHERE user_id = ?)
		`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_histories WHERE user_id = ?`), id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM users WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// --- ChatStore --------------------------------------------------------------

func (s *Store) CreateHistory(ctx context.Context, h chat.History) (chat.History, error) {
	h.CreatedAt = s.now()
	err := s.db.GetContext(ctx, &h.ID, s.q(`
		INSERT INTO chat_histories (user_id, title, created_at)
		VALUES (?, ?, ?)
		RETURNING id
	`), h.UserID, h.Title, h.CreatedAt)
	if err != nil {
		return chat.History{}, mapError(err)
	}
	return h, nil
}

func (s *Store) GetHistory(ctx context.Context, id int64) (chat.History, error) {
	var h chat.History
	err := s.db.GetContext(ctx, &h, s.q(`
		SELECT id, user_id, title, created_at FROM chat_histories WHERE id = ?
	`), id)
	if err != nil {
		return chat.History{}, mapError(err)
	}
	return h, nil
}

func (s *Store) ListHistories(ctx context.Context, userID int64) ([]chat.History, error) {
	histories := []chat.History{}
	err := s.db.SelectContext(ctx, &histories, s.q(`
		SELECT id, user_id, title, created_at
		FROM chat_histories
		WHERE user_id = ?
		ORDER BY id
	`), userID)
	if err != nil {
		return nil, err
	}
	return histories, nil
}

func (s *Store) UpdateHistoryTitle(ctx context.Context, id int64, title string) (chat.History, error) {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE chat_histories SET title = ? WHERE id = ?`), title, id)
	if err != nil {
		return chat.History{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return chat.History{}, storage.ErrNotFound
	}
	return s.GetHistory(ctx, id)
}

func (s *Store) DeleteHistory(ctx context.Context, userID, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_histories WHERE id = ? AND user_id = ?`), id, userID)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return storage.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM messages WHERE chat_history_id = ?`), id)
		return err
	})
}

func (s *Store) DeleteHistories(ctx context.Context, userID int64) (int64, error) {
	var removed int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM messages
			WHERE chat_history_id IN (SELECT id FROM chat_histories WHERE user_id = ?)
		`), userID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_histories WHERE user_id = ?`), userID)
		if err != nil {
			return err
		}
		removed, _ = result.RowsAffected()
		return nil
	})
	return removed, err
}

// --- MessageStore -----------------------------------------------------------

func (s *Store) CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	m.CreatedAt = s.now()
	err := s.db.GetContext(ctx, &m.ID, s.q(`
		INSERT INTO messages (chat_history_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), m.ChatHistoryID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return chat.Message{}, mapError(err)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, historyID int64) ([]chat.Message, error) {
	messages := []chat.Message{}
	err := s.db.SelectContext(ctx, &messages, s.q(`
		SELECT id, chat_history_id, role, content, created_at
		FROM messages
		WHERE chat_history_id = ?
		ORDER BY created_at, id
	`), historyID)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// --- MarketStore ------------------------------------------------------------

func (s *Store) ListQuotes(ctx context.Context) ([]market.Quote, error) {
	quotes := []market.Quote{}
	err := s.db.SelectContext(ctx, &quotes, `
		SELECT id, symbol, name, price, change_24h, updated_at
		FROM market_data
		ORDER BY price DESC, symbol
	`)
	if err != nil {
		return nil, err
	}
	return quotes, nil
}

func (s *Store) UpsertQuotes(ctx context.Context, quotes []market.Quote) ([]market.Quote, error) {
	now := s.now()
	out := make([]market.Quote, 0, len(quotes))
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO market_data (symbol, name, price, change_24h, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (symbol) DO UPDATE SET
				name = excluded.name,
				price = excluded.price,
				change_24h = excluded.change_24h,
				updated_at = excluded.updated_at
			RETURNING id
		`)
		for _, q := range quotes {
			q.UpdatedAt = now
			if err := tx.GetContext(ctx, &q.ID, query, q.Symbol, q.Name, q.Price, q.Change24h, q.UpdatedAt); err != nil {
				return err
			}
			out = append(out, q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- helpers ----------------------------------------------------------------

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapError converts driver errors into storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return storage.ErrConflict
		case "23503":
			return storage.ErrNotFound
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return storage.ErrConflict
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return storage.ErrNotFound
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return storage.ErrConflict
	}
	return err
}
