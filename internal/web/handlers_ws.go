package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zigbee-go-converters/internal/coordinator"
)

// WSHub fans coordinator events out to WebSocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan coordinator.Event

	done     chan struct{}
	stopOnce sync.Once
}

// wsClient receives events matching its filter. Empty filter fields match
// everything.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	device string
	types  map[string]bool
}

func (c *wsClient) wants(ev coordinator.Event) bool {
	if c.device != "" && c.device != ev.Device {
		return false
	}
	return len(c.types) == 0 || c.types[ev.Type]
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan coordinator.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total, "device", client.device)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("ws marshal", "type", ev.Type, "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.wants(ev) {
					continue
				}
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues an event for all interested clients.
func (h *WSHub) Broadcast(ev coordinator.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", ev.Type)
	}
}

// handleWS streams events as JSON text messages. Optional query parameters:
// device=<name> and type=<t1,t2>.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	if device != "" {
		if _, ok := s.conv.Devices().Get(device); !ok {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		device: device,
	}
	if t := r.URL.Query().Get("type"); t != "" {
		client.types = make(map[string]bool)
		for _, name := range strings.Split(t, ",") {
			client.types[strings.TrimSpace(name)] = true
		}
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump drains client frames until the connection or hub closes.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
