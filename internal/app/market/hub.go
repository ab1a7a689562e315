package market

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	domain "github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/internal/app/metrics"
	"github.com/R3E-Network/agentchat/internal/app/system"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 45 * time.Second
	clientBuffer = 16
)

// Event is the websocket payload pushed to subscribers.
type Event struct {
	Type string         `json:"type"`
	Data []domain.Quote `json:"data"`
}

type subscriber struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

var _ system.Service = (*Hub)(nil)

// Hub fans market snapshots out to websocket subscribers. A subscriber whose
// buffer is full is disconnected rather than slowing the others down.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

// NewHub returns a hub accepting connections from any origin.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("market-hub")
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*subscriber]struct{}),
	}
}

// Count reports connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends quotes to every subscriber.
func (h *Hub) Broadcast(quotes []domain.Quote) {
	msg, err := encodeEvent(quotes)
	if err != nil {
		h.log.WithError(err).Warn("encode market event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		select {
		case sub.out <- msg:
		default:
			h.log.Warn("dropping slow market subscriber")
			h.removeLocked(sub)
		}
	}
}

// Serve upgrades the request and streams events until the client goes away.
// initial is sent right after the upgrade.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial []domain.Quote) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.WithError(err).Debug("market websocket upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, out: make(chan []byte, clientBuffer), done: make(chan struct{})}
	if msg, err := encodeEvent(initial); err == nil {
		sub.out <- msg
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return
	}
	h.clients[sub] = struct{}{}
	metrics.SetMarketSubscribers(len(h.clients))
	h.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(sub)
	}()

	h.readLoop(sub)

	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
	wg.Wait()
}

func (h *Hub) writeLoop(sub *subscriber) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case msg := <-sub.out:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sub.close()
				return
			}
		case <-ping.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.close()
				return
			}
		case <-sub.done:
			return
		}
	}
}

// readLoop drains client frames; subscribers never send anything meaningful.
func (h *Hub) readLoop(sub *subscriber) {
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	sub.close()
	metrics.SetMarketSubscribers(len(h.clients))
}

func (h *Hub) Name() string { return "market-hub" }

func (h *Hub) Start(context.Context) error {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()
	return nil
}

// Stop disconnects every subscriber and refuses new ones.
func (h *Hub) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.clients {
		h.removeLocked(sub)
	}
	return nil
}

func encodeEvent(quotes []domain.Quote) ([]byte, error) {
	if quotes == nil {
		quotes = []domain.Quote{}
	}
	return json.Marshal(Event{Type: "market", Data: quotes})
}
