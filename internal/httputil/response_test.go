package httputil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentchat/internal/errors"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.NotFound("Chat history not found"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Chat history not found"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())
}

func TestReadJSON(t *testing.T) {
	var payload struct {
		Title string `json:"title"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"hi","extra":1}`))
	require.NoError(t, ReadJSON(req, &payload))
	assert.Equal(t, "hi", payload.Title)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.NoError(t, ReadJSON(req, &payload))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":`))
	err := ReadJSON(req, &payload)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatus(err))
}
