package messages

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/inference"
	"github.com/R3E-Network/agentchat/internal/app/relay"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Options tune the context sent to the provider.
type Options struct {
	// SystemPrompt, when set, is sent ahead of the conversation.
	SystemPrompt string
	// HistoryLimit caps the number of stored turns sent. Zero sends all.
	HistoryLimit int
}

// Service reads conversations and prepares completion requests.
type Service struct {
	chats    storage.ChatStore
	messages storage.MessageStore
	opts     Options
	log      *logger.Logger
}

// New constructs a message service.
func New(chats storage.ChatStore, messages storage.MessageStore, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("messages")
	}
	return &Service{chats: chats, messages: messages, opts: opts, log: log}
}

// History returns the messages of a history, oldest first.
func (s *Service) History(ctx context.Context, historyID int64) ([]chat.Message, error) {
	if _, err := s.history(ctx, historyID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, historyID)
	if err != nil {
		return nil, errors.Internal("Failed to fetch messages", err)
	}
	return msgs, nil
}

// Prepare validates the request, stores the user's message and assembles the
// conversation for the provider. Nothing has been sent to the client yet, so
// every error here is an ordinary API error.
func (s *Service) Prepare(ctx context.Context, content string, historyID int64) (relay.Request, chat.History, error) {
	if strings.TrimSpace(content) == "" || historyID <= 0 {
		return relay.Request{}, chat.History{}, errors.InvalidInput("Content and chat_history_id are required")
	}
	h, err := s.history(ctx, historyID)
	if err != nil {
		return relay.Request{}, chat.History{}, err
	}

	userMsg, err := s.messages.CreateMessage(ctx, chat.Message{
		ChatHistoryID: historyID,
		Role:          chat.RoleUser,
		Content:       content,
	})
	if err != nil {
		return relay.Request{}, chat.History{}, errors.Internal("Failed to save message", err)
	}

	stored, err := s.messages.ListMessages(ctx, historyID)
	if err != nil {
		return relay.Request{}, chat.History{}, errors.Internal("Failed to load conversation", err)
	}

	s.log.WithContext(ctx).
		WithField("chat_history_id", historyID).
		WithField("message_id", userMsg.ID).
		Debug("user message stored")

	return relay.Request{
		HistoryID:   historyID,
		UserMessage: userMsg,
		Messages:    s.conversation(stored),
	}, h, nil
}

func (s *Service) conversation(stored []chat.Message) []inference.Message {
	if limit := s.opts.HistoryLimit; limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	out := make([]inference.Message, 0, len(stored)+1)
	if prompt := strings.TrimSpace(s.opts.SystemPrompt); prompt != "" {
		out = append(out, inference.Message{Role: chat.RoleSystem, Content: prompt})
	}
	for _, m := range stored {
		out = append(out, inference.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *Service) history(ctx context.Context, id int64) (chat.History, error) {
	h, err := s.chats.GetHistory(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return chat.History{}, errors.NotFound("Chat history not found")
		}
		return chat.History{}, errors.Internal("Failed to fetch chat history", err)
	}
	return h, nil
}
