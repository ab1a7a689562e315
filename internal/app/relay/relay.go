// Package relay forwards a provider token stream to the client and stores the
// finished assistant reply.
package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/inference"
	"github.com/R3E-Network/agentchat/internal/app/metrics"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/internal/app/streaming"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Stream outcomes, also used as metric labels.
const (
	OutcomeCompleted     = "completed"
	OutcomeProviderError = "provider_error"
	OutcomeClientGone    = "client_gone"
	OutcomePersistError  = "persist_error"
)

// Request is a prepared completion: the user turn is already stored.
type Request struct {
	HistoryID   int64
	UserMessage chat.Message
	Messages    []inference.Message
}

// FrameWriter receives client frames. streaming.Encoder implements it.
type FrameWriter interface {
	Token(text string) error
	Done() error
	Error(message, details string) error
}

var _ FrameWriter = (*streaming.Encoder)(nil)

// Outcome summarises one relayed stream.
type Outcome struct {
	StreamID string
	Status   string
	Text     string
	Tokens   int
	// Reply is the stored assistant message when Status is completed.
	Reply chat.Message
	Err   error
}

// Relay owns the provider and the message store used for replies.
type Relay struct {
	provider inference.Provider
	messages storage.MessageStore
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a relay.
func New(provider inference.Provider, messages storage.MessageStore, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.NewDefault("relay")
	}
	return &Relay{provider: provider, messages: messages, log: log, now: time.Now}
}

// Provider returns the provider streams are opened against.
func (r *Relay) Provider() inference.Provider {
	return r.provider
}

// Run streams the completion for req into w. It returns after the provider
// stream is closed; it starts no goroutines. The assistant reply is stored
// only once the whole stream was consumed and the done frame was written.
func (r *Relay) Run(ctx context.Context, req Request, w FrameWriter) Outcome {
	out := Outcome{StreamID: uuid.NewString()}
	start := r.now()
	log := r.log.WithContext(ctx).
		WithField("stream_id", out.StreamID).
		WithField("chat_history_id", req.HistoryID).
		WithField("provider", r.provider.Name())

	defer func() {
		metrics.RecordRelayStream(r.provider.Name(), out.Status, out.Tokens, r.now().Sub(start))
	}()

	stream, err := r.provider.Stream(ctx, req.Messages)
	if err != nil {
		r.fail(ctx, &out, w, err)
		log.WithError(err).WithField("outcome", out.Status).Warn("provider stream not opened")
		return out
	}
	defer stream.Close()

	var text strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			out.Status, out.Err = OutcomeClientGone, err
			out.Text = text.String()
			log.WithField("tokens", out.Tokens).Info("client went away mid-stream")
			return out
		}

		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Text = text.String()
			r.fail(ctx, &out, w, err)
			log.WithError(err).WithField("tokens", out.Tokens).WithField("outcome", out.Status).Warn("provider stream failed")
			return out
		}
		if tok == "" {
			continue
		}

		text.WriteString(tok)
		out.Tokens++
		if err := w.Token(tok); err != nil {
			out.Status, out.Err = OutcomeClientGone, err
			out.Text = text.String()
			log.WithError(err).Info("client write failed")
			return out
		}
	}

	out.Text = text.String()
	if err := w.Done(); err != nil {
		out.Status, out.Err = OutcomeClientGone, err
		log.WithError(err).Info("client write failed before done")
		return out
	}

	if out.Text != "" {
		// The client has its done frame; storing the reply must not depend on
		// the request context any more.
		reply, err := r.messages.CreateMessage(context.WithoutCancel(ctx), chat.Message{
			ChatHistoryID: req.HistoryID,
			Role:          chat.RoleAssistant,
			Content:       out.Text,
		})
		if err != nil {
			out.Status, out.Err = OutcomePersistError, err
			log.WithError(err).Error("failed to store assistant reply")
			return out
		}
		out.Reply = reply
	}

	out.Status = OutcomeCompleted
	log.WithField("tokens", out.Tokens).
		WithField("duration", r.now().Sub(start).String()).
		Info("stream completed")
	return out
}

// fail classifies err and, when the client is still there, sends the single
// error frame.
func (r *Relay) fail(ctx context.Context, out *Outcome, w FrameWriter, err error) {
	out.Err = err
	if ctx.Err() != nil {
		out.Status = OutcomeClientGone
		return
	}
	out.Status = OutcomeProviderError
	if werr := w.Error(streaming.ProviderFailure, err.Error()); werr != nil {
		out.Status = OutcomeClientGone
	}
}
