package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

func TestHTTPFetcherExtractsWithPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"coins":[
			{"ticker":"BTC","title":"Bitcoin","quote":{"usd":60000.5,"pct":1.2}},
			{"ticker":"","title":"nameless","quote":{"usd":1}},
			{"ticker":"ETH","title":"Ethereum","quote":{"usd":3000,"pct":-0.4}}
		]}}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "token", FieldPaths{
		Items:     "data.coins",
		Symbol:    "ticker",
		Name:      "title",
		Price:     "quote.usd",
		Change24h: "quote.pct",
	}, logger.Discard())
	require.NoError(t, err)

	quotes, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, domain.Quote{Symbol: "BTC", Name: "Bitcoin", Price: 60000.5, Change24h: 1.2}, quotes[0])
	assert.Equal(t, -0.4, quotes[1].Change24h)
}

func TestHTTPFetcherDefaultsAndErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`[{"symbol":"SOL","name":"Solana","price":150,"change_24h":3}]`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "", FieldPaths{}, logger.Discard())
	require.NoError(t, err)

	quotes, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "SOL", quotes[0].Symbol)

	status.Store(http.StatusBadGateway)
	_, err = fetcher.Fetch(context.Background())
	assert.Error(t, err)

	_, err = NewHTTPFetcher(nil, " ", "", FieldPaths{}, nil)
	assert.Error(t, err)
}

func TestRefresherRunOnce(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory(), nil, nil, logger.Discard())
	r := NewRefresher(svc, "", logger.Discard())

	assert.False(t, r.RunOnce(ctx), "no fetcher configured")

	r.WithFetcher(FetcherFunc(func(context.Context) ([]domain.Quote, error) {
		return []domain.Quote{{Symbol: "ADA", Name: "Cardano", Price: 0.45}}, nil
	}))
	assert.True(t, r.RunOnce(ctx))

	quotes, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "ADA", quotes[0].Symbol)
}

func TestRefresherSchedules(t *testing.T) {
	svc := New(storage.NewMemory(), nil, nil, logger.Discard())
	var runs atomic.Int32
	r := NewRefresher(svc, "@every 1s", logger.Discard())
	r.WithFetcher(FetcherFunc(func(context.Context) ([]domain.Quote, error) {
		runs.Add(1)
		return DefaultQuotes(), nil
	}))

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))
}

func TestRefresherRejectsBadSchedule(t *testing.T) {
	r := NewRefresher(nil, "every now and then", logger.Discard())
	assert.Error(t, r.Start(context.Background()))
}
