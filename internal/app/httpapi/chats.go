package httpapi

import (
	"net/http"

	"github.com/R3E-Network/agentchat/internal/httputil"
)

func (h *handler) createHistory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID flexID `json:"user_id"`
		Title  string `json:"title"`
	}
	if err := httputil.ReadJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authorize(r, int64(payload.UserID)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.app.Chats.Create(r.Context(), int64(payload.UserID), payload.Title)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "Chat history created successfully",
		"data": map[string]any{
			"chat_history": created,
			"result":       lastRowID(created.ID),
		},
	})
}

func (h *handler) listHistories(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err == nil {
		err = h.authorize(r, userID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	list, err := h.app.Chats.List(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *handler) renameHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var payload struct {
		Title string `json:"title"`
	}
	if err := httputil.ReadJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if h.authRequired {
		existing, err := h.app.Chats.Get(r.Context(), id)
		if err == nil {
			err = h.authorize(r, existing.UserID)
		}
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	updated, err := h.app.Chats.Rename(r.Context(), id, payload.Title)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Chat history updated successfully",
		"data":    updated,
	})
}

func (h *handler) deleteHistories(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err == nil {
		err = h.authorize(r, userID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	removed, err := h.app.Chats.DeleteAll(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Chat history deleted successfully",
		"deleted": removed,
	})
}

func (h *handler) deleteHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err == nil {
		err = h.authorize(r, userID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.app.Chats.Delete(r.Context(), userID, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Chat history deleted successfully")
}
