package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/agentchat/internal/app"
	"github.com/R3E-Network/agentchat/internal/app/auth"
	"github.com/R3E-Network/agentchat/internal/app/inference"
	"github.com/R3E-Network/agentchat/internal/app/market"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

type testServer struct {
	t       *testing.T
	app     *app.Application
	handler http.Handler
}

func newTestServer(t *testing.T, provider inference.Provider, opts Options) *testServer {
	t.Helper()
	tokens, err := auth.NewTokenIssuer("handler-secret", "agentchat", time.Hour)
	require.NoError(t, err)

	application, err := app.New(app.Stores{}, app.Options{Tokens: tokens, Provider: provider}, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	api, err := NewHandler(application, opts, logger.Discard())
	require.NoError(t, err)
	return &testServer{t: t, app: application, handler: api}
}

func (s *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) register(email string) (int64, string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/user", map[string]any{
		"email": email, "full_name": "Test User", "password": "secret1",
	}, "")
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(s.t, rec)
	data := body["data"].(map[string]any)
	id := int64(data["result"].(map[string]any)["meta"].(map[string]any)["last_row_id"].(float64))

	rec = s.do(http.MethodPost, "/user/login", map[string]any{"email": email, "password": "secret1"}, "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decode(s.t, rec)["token"].(string)
	return id, token
}

func TestUserLifecycle(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := s.do(http.MethodPost, "/user", map[string]any{"email": "bad", "full_name": "X", "password": "secret1"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid email format", decode(t, rec)["error"])

	id, token := s.register("ann@example.com")
	assert.NotEmpty(t, token)

	rec = s.do(http.MethodPost, "/user", map[string]any{"email": "ANN@example.com", "full_name": "X", "password": "secret1"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/user/login", map[string]any{"email": "ann@example.com", "password": "wrong!"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", decode(t, rec)["error"])

	rec = s.do(http.MethodGet, fmt.Sprintf("/user/%d", id), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "$2a$")

	rec = s.do(http.MethodPut, fmt.Sprintf("/user/update/%d", id), map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, fmt.Sprintf("/user/update/%d", id), map[string]any{"full_name": "Ann B"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ann B", decode(t, rec)["data"].(map[string]any)["full_name"])

	rec = s.do(http.MethodGet, "/user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["results"], 1)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/user/%d", id), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodDelete, fmt.Sprintf("/user/%d", id), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodGet, "/user/999", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatHistoryRoutes(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	userID, _ := s.register("bob@example.com")

	rec := s.do(http.MethodPost, "/chat-history", map[string]any{"user_id": 404, "title": "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decode(t, rec)["error"])

	// The browser client sometimes sends ids as strings.
	rec = s.do(http.MethodPost, "/chat-history", fmt.Sprintf(`{"user_id":"%d","title":""}`, userID), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	history := data["chat_history"].(map[string]any)
	assert.True(t, strings.HasPrefix(history["title"].(string), "Chat history "))
	historyID := int64(history["id"].(float64))

	rec = s.do(http.MethodPut, fmt.Sprintf("/chat-history/%d", historyID), map[string]any{"title": "Renamed"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", decode(t, rec)["data"].(map[string]any)["title"])

	rec = s.do(http.MethodPut, "/chat-history/999", map[string]any{"title": "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, fmt.Sprintf("/chat-history/all/%d", userID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/chat-history/%d/%d", userID+1, historyID), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/chat-history/%d/%d", userID, historyID), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Chat history deleted successfully", decode(t, rec)["message"])

	s.do(http.MethodPost, "/chat-history", map[string]any{"user_id": userID, "title": "a"}, "")
	s.do(http.MethodPost, "/chat-history", map[string]any{"user_id": userID, "title": "b"}, "")
	rec = s.do(http.MethodDelete, fmt.Sprintf("/chat-history/all/%d", userID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["deleted"])
}

func TestMessageStream(t *testing.T) {
	provider := inference.Static{Tokens: []string{"Here ", "you go ", `:::chart{"type":"line"}:::`}}
	s := newTestServer(t, provider, Options{})
	userID, _ := s.register("cy@example.com")
	rec := s.do(http.MethodPost, "/chat-history", map[string]any{"user_id": userID, "title": "t"}, "")
	historyID := int64(decode(t, rec)["data"].(map[string]any)["chat_history"].(map[string]any)["id"].(float64))

	rec = s.do(http.MethodPost, "/message/ai", map[string]any{"content": "chart please", "chat_history_id": historyID}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	want := "data: {\"token\":\"Here \"}\n\n" +
		"data: {\"token\":\"you go \"}\n\n" +
		"data: {\"token\":\":::chart{\\\"type\\\":\\\"line\\\"}:::\"}\n\n" +
		"data: {\"done\":true}\n\n"
	assert.Equal(t, want, rec.Body.String())

	rec = s.do(http.MethodGet, fmt.Sprintf("/message/history/%d", historyID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode(t, rec)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	reply := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", reply["role"])
	assert.Equal(t, `Here you go :::chart{"type":"line"}:::`, reply["content"])
	assert.NotContains(t, reply, "parts")

	rec = s.do(http.MethodGet, fmt.Sprintf("/message/history/%d?parts=1", historyID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs = decode(t, rec)["messages"].([]any)
	parts := msgs[1].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	assert.Equal(t, "chart", parts[1].(map[string]any)["type"])
}

func TestMessageStreamErrors(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	userID, _ := s.register("dee@example.com")
	rec := s.do(http.MethodPost, "/chat-history", map[string]any{"user_id": userID, "title": "t"}, "")
	historyID := int64(decode(t, rec)["data"].(map[string]any)["chat_history"].(map[string]any)["id"].(float64))

	rec = s.do(http.MethodPost, "/message/message", map[string]any{"content": "", "chat_history_id": historyID}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = s.do(http.MethodPost, "/message/ai", map[string]any{"content": "hi", "chat_history_id": 999}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Chat history not found", decode(t, rec)["error"])

	rec = s.do(http.MethodPost, "/message/ai", `{"content":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No provider configured: the stream opens and carries one error frame.
	rec = s.do(http.MethodPost, "/message/ai", map[string]any{"content": "hi", "chat_history_id": historyID}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: {\"error\":\"AI processing failed\",\"details\":\"No inference provider configured\"}\n\n", rec.Body.String())

	rec = s.do(http.MethodGet, fmt.Sprintf("/message/history/%d", historyID), nil, "")
	msgs := decode(t, rec)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])

	rec = s.do(http.MethodGet, "/message/history/999", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageStreamRateLimited(t *testing.T) {
	s := newTestServer(t, inference.Static{Tokens: []string{"ok"}}, Options{RateLimitRPS: 1, RateLimitBurst: 1})
	userID, _ := s.register("eve@example.com")
	rec := s.do(http.MethodPost, "/chat-history", map[string]any{"user_id": userID, "title": "t"}, "")
	historyID := int64(decode(t, rec)["data"].(map[string]any)["chat_history"].(map[string]any)["id"].(float64))

	body := map[string]any{"content": "hi", "chat_history_id": historyID}
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/message/ai", body, "").Code)
	rec = s.do(http.MethodPost, "/message/ai", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other routes are not throttled.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, "").Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, inference.Static{Tokens: []string{"ok"}}, Options{AuthRequired: true, CORSOrigins: []string{"*"}})

	annID, annToken := s.register("ann@example.com")
	bobID, bobToken := s.register("bob@example.com")

	rec := s.do(http.MethodGet, fmt.Sprintf("/chat-history/all/%d", annID), nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, fmt.Sprintf("/chat-history/all/%d", annID), nil, annToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, fmt.Sprintf("/chat-history/all/%d", annID), nil, bobToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/chat-history", map[string]any{"user_id": annID, "title": "mine"}, annToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	historyID := int64(decode(t, rec)["data"].(map[string]any)["chat_history"].(map[string]any)["id"].(float64))

	rec = s.do(http.MethodPost, "/message/ai", map[string]any{"content": "hi", "chat_history_id": historyID}, bobToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodGet, fmt.Sprintf("/message/history/%d", historyID), nil, bobToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPut, fmt.Sprintf("/chat-history/%d", historyID), map[string]any{"title": "x"}, bobToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/message/ai", map[string]any{"content": "hi", "chat_history_id": historyID}, annToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/user", nil, bobToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPut, fmt.Sprintf("/user/update/%d", bobID), map[string]any{"role": "admin"}, bobToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Public routes stay open.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/market", nil, "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, "").Code)

	req := httptest.NewRequest(http.MethodOptions, "/chat-history", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre := httptest.NewRecorder()
	s.handler.ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "*", pre.Header().Get("Access-Control-Allow-Origin"))
}

func TestMarketHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	_, err := s.app.Market.Upsert(context.Background(), market.DefaultQuotes())
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/market", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	quotes := decode(t, rec)["data"].([]any)
	require.NotEmpty(t, quotes)
	prev := quotes[0].(map[string]any)["price"].(float64)
	for _, q := range quotes[1:] {
		price := q.(map[string]any)["price"].(float64)
		assert.LessOrEqual(t, price, prev)
		prev = price
	}

	rec = s.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = s.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentchat_http_requests_total")

	rec = s.do(http.MethodGet, "/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodPatch, "/market", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
