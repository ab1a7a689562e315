package httpapi

import (
	"net/http"

	"github.com/R3E-Network/agentchat/internal/app/domain/user"
	"github.com/R3E-Network/agentchat/internal/app/services/users"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/internal/httputil"
)

func (h *handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var payload users.RegisterInput
	if err := httputil.ReadJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Only an admin may mint another admin once auth is enforced.
	if h.authRequired && payload.Role == user.RoleAdmin {
		if err := h.requireAdmin(r); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	created, err := h.app.Users.Register(r.Context(), payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"data": map[string]any{
			"user":   created,
			"result": lastRowID(created.ID),
		},
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.ReadJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, token, err := h.app.Users.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := map[string]any{"message": "Login successful", "data": u}
	if token != "" {
		resp["token"] = token
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.app.Users.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": list})
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = h.authorize(r, id)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := h.app.Users.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": u})
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = h.authorize(r, id)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var patch user.Patch
	if err := httputil.ReadJSON(r, &patch); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if patch.Role != nil {
		if err := h.requireAdmin(r); err != nil {
			httputil.WriteError(w, errors.Forbidden("Only an admin can change roles"))
			return
		}
	}

	updated, err := h.app.Users.Update(r.Context(), id, patch)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "User updated successfully",
		"data":    updated,
	})
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = h.authorize(r, id)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.app.Users.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "User deleted successfully")
}
