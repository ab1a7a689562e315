package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                    "/",
		"/":                   "/",
		"/user/12":            "/user/:id",
		"/chat-history/3/9":   "/chat-history/:id/:id",
		"/chat-history/all/4": "/chat-history/all/:id",
		"/message/history/77": "/message/history/:id",
		"/market/ws":          "/market/ws",
		"/a/b/c/d/e":          "/a/b/c",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/user/:id", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/5", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/user/:id", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecorderFlushes(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: x\n\n"))
		w.(http.Flusher).Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message/ai", nil))
	assert.True(t, rec.Flushed)
}

func TestRecordRelayStream(t *testing.T) {
	before := testutil.ToFloat64(relayTokens.WithLabelValues("test"))
	RecordRelayStream("test", "completed", 3, 10*time.Millisecond)
	assert.Equal(t, before+3, testutil.ToFloat64(relayTokens.WithLabelValues("test")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "agentchat_relay_streams_total"))
}
