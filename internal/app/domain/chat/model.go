package chat

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// History is a named conversation thread owned by a user.
type History struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Message is one turn inside a history.
type Message struct {
	ID            int64     `json:"id" db:"id"`
	ChatHistoryID int64     `json:"chat_history_id" db:"chat_history_id"`
	Role          string    `json:"role" db:"role"`
	Content       string    `json:"content" db:"content"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ValidRole reports whether role may be stored on a message.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
