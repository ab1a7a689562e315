package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/agentchat/internal/app/auth"
	"github.com/R3E-Network/agentchat/internal/app/inference"
	"github.com/R3E-Network/agentchat/internal/app/market"
	"github.com/R3E-Network/agentchat/internal/app/relay"
	"github.com/R3E-Network/agentchat/internal/app/services/chats"
	"github.com/R3E-Network/agentchat/internal/app/services/messages"
	"github.com/R3E-Network/agentchat/internal/app/services/users"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/internal/app/system"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users    storage.UserStore
	Chats    storage.ChatStore
	Messages storage.MessageStore
	Market   storage.MarketStore
}

// Options carries the optional collaborators of the application.
type Options struct {
	// Tokens issues login tokens. Nil disables token issuance.
	Tokens         *auth.TokenIssuer
	// Provider answers chat completions. Nil means inference.None.
	Provider       inference.Provider
	// MarketCache fronts market reads. Nil reads the store directly.
	MarketCache    market.Cache
	// MarketFetcher feeds the scheduled refresher. Nil disables it.
	MarketFetcher  market.Fetcher
	MarketSchedule string
	SystemPrompt   string
	HistoryLimit   int
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Tokens    *auth.TokenIssuer
	Users     *users.Service
	Chats     *chats.Service
	Messages  *messages.Service
	Relay     *relay.Relay
	Market    *market.Service
	Hub       *market.Hub
	Refresher *market.Refresher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := storage.NewMemory()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Chats == nil {
		stores.Chats = mem
	}
	if stores.Messages == nil {
		stores.Messages = mem
	}
	if stores.Market == nil {
		stores.Market = mem
	}

	provider := opts.Provider
	if provider == nil {
		provider = inference.None{}
	}

	manager := system.NewManager()

	hub := market.NewHub(log.Named("market-hub"))
	marketService := market.New(stores.Market, opts.MarketCache, hub, log.Named("market"))
	refresher := market.NewRefresher(marketService, opts.MarketSchedule, log.Named("market-refresher"))

	services := []system.Service{hub}
	if opts.MarketFetcher != nil {
		refresher.WithFetcher(opts.MarketFetcher)
		services = append(services, refresher)
	} else {
		log.Warn("market fetcher not configured; market refresher disabled")
	}

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	log.WithField("provider", provider.Name()).Info("inference provider configured")

	return &Application{
		manager:   manager,
		log:       log,
		Tokens:    opts.Tokens,
		Users:     users.New(stores.Users, opts.Tokens, log.Named("users")),
		Chats:     chats.New(stores.Users, stores.Chats, log.Named("chats")),
		Messages:  messages.New(stores.Chats, stores.Messages, messages.Options{SystemPrompt: opts.SystemPrompt, HistoryLimit: opts.HistoryLimit}, log.Named("messages")),
		Relay:     relay.New(provider, stores.Messages, log.Named("relay")),
		Market:    marketService,
		Hub:       hub,
		Refresher: refresher,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle services in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
