package httpapi

import (
	"net/http"

	"github.com/R3E-Network/agentchat/internal/app/content"
	"github.com/R3E-Network/agentchat/internal/app/domain/chat"
	"github.com/R3E-Network/agentchat/internal/app/streaming"
	"github.com/R3E-Network/agentchat/internal/httputil"
)

// messageView is a stored message with its parsed content parts.
type messageView struct {
	chat.Message
	Parts []content.Part `json:"parts,omitempty"`
}

// streamMessage stores the user's message and streams the assistant reply.
// Everything up to Prepare fails with an ordinary JSON error; once the event
// stream headers are written, failures are reported in-band.
func (h *handler) streamMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content       string `json:"content"`
		ChatHistoryID flexID `json:"chat_history_id"`
	}
	if err := httputil.ReadJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authorizeHistory(r, int64(payload.ChatHistoryID)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, history, err := h.app.Messages.Prepare(r.Context(), payload.Content, int64(payload.ChatHistoryID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	streaming.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	out := h.app.Relay.Run(r.Context(), req, streaming.NewEncoder(w))

	h.log.WithContext(r.Context()).
		WithField("chat_history_id", history.ID).
		WithField("stream_id", out.StreamID).
		WithField("outcome", out.Status).
		WithField("tokens", out.Tokens).
		Debug("message stream finished")
}

func (h *handler) messageHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "chat_history_id")
	if err == nil {
		err = h.authorizeHistory(r, id)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	msgs, err := h.app.Messages.History(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if r.URL.Query().Get("parts") != "1" {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
		return
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{Message: m, Parts: content.Parse(m.Content)})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"messages": views})
}

// authorizeHistory checks ownership of a chat history. Unknown ids pass so
// the service can answer with its own 400/404.
func (h *handler) authorizeHistory(r *http.Request, historyID int64) error {
	if !h.authRequired || historyID <= 0 {
		return nil
	}
	history, err := h.app.Chats.Get(r.Context(), historyID)
	if err != nil {
		return nil
	}
	return h.authorize(r, history.UserID)
}
