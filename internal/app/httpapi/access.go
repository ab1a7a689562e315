package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/agentchat/internal/app/domain/user"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/internal/middleware"
)

// flexID accepts an identifier sent either as a JSON number or as a numeric
// string; the browser client sends both.
type flexID int64

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.InvalidInput("Invalid identifier")
	}
	*id = flexID(v)
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.InvalidInput("Invalid " + name)
	}
	return v, nil
}

// authorize allows the request when auth is disabled, when the caller is the
// owner, or when the caller is an admin.
func (h *handler) authorize(r *http.Request, ownerID int64) error {
	if !h.authRequired {
		return nil
	}
	callerID, ok := middleware.GetUserID(r.Context())
	if !ok {
		return errors.Unauthorized("")
	}
	if callerID == ownerID || middleware.GetUserRole(r.Context()) == user.RoleAdmin {
		return nil
	}
	return errors.Forbidden("")
}

func (h *handler) requireAdmin(r *http.Request) error {
	if !h.authRequired {
		return nil
	}
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		return errors.Unauthorized("")
	}
	if middleware.GetUserRole(r.Context()) != user.RoleAdmin {
		return errors.Forbidden("")
	}
	return nil
}

// lastRowID mirrors the insert metadata the browser client reads after a
// create.
func lastRowID(id int64) map[string]any {
	return map[string]any{"meta": map[string]any{"last_row_id": id}}
}
