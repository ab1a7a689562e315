// Package market serves the market snapshot shown next to the chat: stored
// quotes, an optional Redis read cache, a scheduled fetcher and a websocket
// fan-out of every update.
package market

import (
	"context"
	"fmt"
	"math"
	"strings"

	domain "github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Service reads and writes market quotes.
type Service struct {
	store storage.MarketStore
	cache Cache
	hub   *Hub
	log   *logger.Logger
}

// New constructs a market service. cache and hub are optional.
func New(store storage.MarketStore, cache Cache, hub *Hub, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("market")
	}
	return &Service{store: store, cache: cache, hub: hub, log: log}
}

// Hub returns the websocket hub, if any.
func (s *Service) Hub() *Hub {
	return s.hub
}

// List returns quotes ordered by price, highest first. Cache failures fall
// back to the store.
func (s *Service) List(ctx context.Context) ([]domain.Quote, error) {
	if s.cache != nil {
		quotes, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.log.WithContext(ctx).WithError(err).Warn("market cache read failed")
		case ok:
			return quotes, nil
		}
	}

	quotes, err := s.store.ListQuotes(ctx)
	if err != nil {
		return nil, errors.Internal("Failed to fetch market data", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, quotes); err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("market cache write failed")
		}
	}
	return quotes, nil
}

// Upsert validates and stores quotes keyed by symbol, then invalidates the
// cache and pushes the fresh snapshot to websocket subscribers.
func (s *Service) Upsert(ctx context.Context, quotes []domain.Quote) ([]domain.Quote, error) {
	if len(quotes) == 0 {
		return nil, errors.InvalidInput("At least one quote is required")
	}
	cleaned := make([]domain.Quote, 0, len(quotes))
	for i, q := range quotes {
		q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
		q.Name = strings.TrimSpace(q.Name)
		if q.Symbol == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("quote %d: symbol is required", i))
		}
		if q.Price < 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
			return nil, errors.InvalidInput(fmt.Sprintf("quote %s: price must be a non-negative number", q.Symbol))
		}
		if q.Name == "" {
			q.Name = q.Symbol
		}
		cleaned = append(cleaned, q)
	}

	stored, err := s.store.UpsertQuotes(ctx, cleaned)
	if err != nil {
		return nil, errors.Internal("Failed to store market data", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("market cache invalidation failed")
		}
	}

	if s.hub != nil {
		snapshot, err := s.List(ctx)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("market snapshot for broadcast failed")
		} else {
			s.hub.Broadcast(snapshot)
		}
	}

	s.log.WithContext(ctx).WithField("quotes", len(stored)).Info("market data updated")
	return stored, nil
}

// DefaultQuotes is the seed snapshot used when no fetcher is configured.
func DefaultQuotes() []domain.Quote {
	return []domain.Quote{
		{Symbol: "BTC", Name: "Bitcoin", Price: 67250.12, Change24h: 2.35},
		{Symbol: "ETH", Name: "Ethereum", Price: 3520.48, Change24h: 1.12},
		{Symbol: "BNB", Name: "BNB", Price: 585.30, Change24h: -0.42},
		{Symbol: "SOL", Name: "Solana", Price: 148.77, Change24h: 4.81},
		{Symbol: "XRP", Name: "XRP", Price: 0.52, Change24h: -1.05},
		{Symbol: "NEO", Name: "Neo", Price: 11.86, Change24h: 0.67},
	}
}
