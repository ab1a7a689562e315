// Package httpapi exposes the application over HTTP: user, chat history,
// message and market routes plus health and metrics.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/agentchat/internal/app"
	"github.com/R3E-Network/agentchat/internal/app/metrics"
	"github.com/R3E-Network/agentchat/internal/app/system"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/internal/httputil"
	"github.com/R3E-Network/agentchat/internal/middleware"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Options configure the HTTP surface.
type Options struct {
	// AuthRequired enables bearer-token authentication and ownership checks.
	AuthRequired bool
	CORSOrigins  []string
	// RateLimitRPS and RateLimitBurst throttle the message stream routes.
	// A zero RPS disables the limiter.
	RateLimitRPS   int
	RateLimitBurst int
}

// publicPaths never require a token.
var publicPaths = []string{"POST /user", "POST /user/login", "/healthz", "/metrics", "/market/*"}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app          *app.Application
	log          *logger.Logger
	authRequired bool
	limiter      *middleware.RateLimiter
}

// API is the fully wrapped HTTP handler.
type API struct {
	http.Handler
	limiter *middleware.RateLimiter
}

// NewHandler returns the router wrapped in the middleware chain:
// recover, tracing, metrics, CORS, then auth when required.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) (*API, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log, authRequired: opts.AuthRequired}
	if opts.RateLimitRPS > 0 {
		h.limiter = middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log.Named("ratelimit"))
	}

	var root http.Handler = h.routes()
	if opts.AuthRequired {
		if application.Tokens == nil {
			return nil, fmt.Errorf("httpapi: auth required but no token issuer configured")
		}
		root = middleware.NewAuthMiddleware(application.Tokens, log.Named("auth"), publicPaths).Handler(root)
	}
	root = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(root)
	root = metrics.InstrumentHandler(root)
	root = middleware.NewTracingMiddleware(log.Named("http")).Handler(root)
	root = middleware.Recover(log.Named("http"))(root)

	return &API{Handler: root, limiter: h.limiter}, nil
}

// Janitor returns a lifecycle service pruning idle rate limiters.
func (a *API) Janitor() system.Service {
	var cancel context.CancelFunc
	return system.Func{
		ServiceName: "ratelimit-janitor",
		StartFunc: func(ctx context.Context) error {
			if a.limiter == nil {
				return nil
			}
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
			go a.limiter.RunCleanup(runCtx, time.Minute)
			return nil
		},
		StopFunc: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	}
}

func (h *handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, errors.NotFound("Not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/user", h.registerUser).Methods(http.MethodPost)
	r.HandleFunc("/user", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/user/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/user/update/{id:[0-9]+}", h.updateUser).Methods(http.MethodPut)
	r.HandleFunc("/user/{id:[0-9]+}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+}", h.deleteUser).Methods(http.MethodDelete)

	r.HandleFunc("/chat-history", h.createHistory).Methods(http.MethodPost)
	r.HandleFunc("/chat-history/all/{user_id:[0-9]+}", h.listHistories).Methods(http.MethodGet)
	r.HandleFunc("/chat-history/all/{user_id:[0-9]+}", h.deleteHistories).Methods(http.MethodDelete)
	r.HandleFunc("/chat-history/{id:[0-9]+}", h.renameHistory).Methods(http.MethodPut)
	r.HandleFunc("/chat-history/{user_id:[0-9]+}/{id:[0-9]+}", h.deleteHistory).Methods(http.MethodDelete)

	var stream http.Handler = http.HandlerFunc(h.streamMessage)
	if h.limiter != nil {
		stream = h.limiter.Handler(stream)
	}
	for _, prefix := range []string{"/message", "/mess"} {
		r.Handle(prefix+"/ai", stream).Methods(http.MethodPost)
		r.Handle(prefix+"/message", stream).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/history/{chat_history_id:[0-9]+}", h.messageHistory).Methods(http.MethodGet)
	}

	r.HandleFunc("/market", h.listMarket).Methods(http.MethodGet)
	r.HandleFunc("/market/ws", h.marketSocket).Methods(http.MethodGet)

	// Preflight requests are answered by the CORS middleware; this keeps
	// the router from rejecting a bare OPTIONS.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
