// Package httputil holds the JSON request and response helpers shared by the
// HTTP API and its middleware.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/R3E-Network/agentchat/internal/errors"
)

// maxBodyBytes bounds request bodies read by ReadJSON.
const maxBodyBytes = 1 << 20

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteMessage writes {"message": message}.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"message": message})
}

// WriteError writes {"error": message} using the status carried by err.
// Errors that are not service errors are reported as a generic 500 so
// internal details never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	message := http.StatusText(status)
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		message = svcErr.Message
	}
	WriteJSON(w, status, map[string]string{"error": message})
}

// ReadJSON decodes the request body into v. Unknown fields are ignored and an
// empty body leaves v untouched.
func ReadJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || stderrors.Is(err, io.EOF) {
		return nil
	}
	return errors.InvalidInput("Invalid JSON body")
}
