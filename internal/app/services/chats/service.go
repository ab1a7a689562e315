package chats

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Service manages chat histories.
type Service struct {
	users storage.UserStore
	store storage.ChatStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a chat history service.
func New(users storage.UserStore, store storage.ChatStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("chats")
	}
	return &Service{users: users, store: store, log: log, now: time.Now}
}

// Create opens a history for userID. A blank title is replaced with a
// timestamped default.
func (s *Service) Create(ctx context.Context, userID int64, title string) (chat.History, error) {
	if userID <= 0 {
		return chat.History{}, errors.InvalidInput("user_id is required")
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return chat.History{}, errors.NotFound("User not found")
		}
		return chat.History{}, errors.Internal("Failed to create chat history", err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Chat history " + s.now().UTC().Format(time.RFC3339)
	}

	h, err := s.store.CreateHistory(ctx, chat.History{UserID: userID, Title: title})
	if err != nil {
		return chat.History{}, translate(err, "Failed to create chat history")
	}
	s.log.WithContext(ctx).
		WithField("chat_history_id", h.ID).
		WithField("user_id", userID).
		Info("chat history created")
	return h, nil
}

// List returns the histories owned by userID.
func (s *Service) List(ctx context.Context, userID int64) ([]chat.History, error) {
	histories, err := s.store.ListHistories(ctx, userID)
	if err != nil {
		return nil, errors.Internal("Failed to fetch chat histories", err)
	}
	return histories, nil
}

// Get returns a single history.
func (s *Service) Get(ctx context.Context, id int64) (chat.History, error) {
	h, err := s.store.GetHistory(ctx, id)
	if err != nil {
		return chat.History{}, translate(err, "Failed to fetch chat history")
	}
	return h, nil
}

// Rename changes the title of a history.
func (s *Service) Rename(ctx context.Context, id int64, title string) (chat.History, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.History{}, errors.InvalidInput("Title is required")
	}
	h, err := s.store.UpdateHistoryTitle(ctx, id, title)
	if err != nil {
		return chat.History{}, translate(err, "Failed to update chat history")
	}
	return h, nil
}

// Delete removes one history owned by userID together with its messages.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if err := s.store.DeleteHistory(ctx, userID, id); err != nil {
		return translate(err, "Failed to delete chat history")
	}
	s.log.WithContext(ctx).
		WithField("chat_history_id", id).
		WithField("user_id", userID).
		Info("chat history deleted")
	return nil
}

// DeleteAll removes every history owned by userID and reports how many.
func (s *Service) DeleteAll(ctx context.Context, userID int64) (int64, error) {
	removed, err := s.store.DeleteHistories(ctx, userID)
	if err != nil {
		return 0, errors.Internal("Failed to delete chat histories", err)
	}
	s.log.WithContext(ctx).
		WithField("user_id", userID).
		WithField("removed", removed).
		Info("chat histories cleared")
	return removed, nil
}

func translate(err error, message string) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("Chat history not found")
	}
	return errors.Internal(message, err)
}
