package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/timeutil"
)

// feedAll is the subscription key that receives every resolved verdict.
const feedAll = "all"

// VerdictMessage is the wire format pushed to feed subscribers.
type VerdictMessage struct {
	Type         string `json:"type"`
	Unit         string `json:"unit"`
	MovingStatus string `json:"moving_status"`
	AlertTime    string `json:"alert_time"`
	ResolvedAt   string `json:"resolved_at"`
}

type feedClient struct {
	conn *websocket.Conn
	unit string
	send chan []byte
}

// Hub fans resolved movement verdicts out to WebSocket clients grouped by
// unit. Subscribing to "all" receives everything.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*feedClient]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*feedClient]bool)}
}

// ServeWS upgrades GET /api/feed/{unit} and pumps verdicts until the client
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	unit := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/feed/"), "/")
	if unit == "" {
		http.Error(w, "unit required", http.StatusBadRequest)
		return
	}

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		client := &feedClient{
			conn: conn,
			unit: unit,
			send: make(chan []byte, 64),
		}

		h.register(client)
		defer h.unregister(client)

		slog.Info("feed client connected", "unit", unit, "remote", conn.Request().RemoteAddr)

		go func() {
			for msg := range client.send {
				if _, err := conn.Write(msg); err != nil {
					return
				}
			}
		}()

		// Read pump, for close detection only.
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	})
	wsHandler.ServeHTTP(w, r)
}

func (h *Hub) register(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.unit] == nil {
		h.clients[c.unit] = make(map[*feedClient]bool)
	}
	h.clients[c.unit][c] = true
}

func (h *Hub) unregister(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[c.unit]; ok {
		delete(clients, c)
		close(c.send)
		if len(clients) == 0 {
			delete(h.clients, c.unit)
		}
	}
	slog.Info("feed client disconnected", "unit", c.unit)
}

// PublishVerdict implements the worker's feed publisher hook.
func (h *Hub) PublishVerdict(unit string, status domain.MovingStatus, alertTime time.Time) {
	msg := VerdictMessage{
		Type:         "verdict",
		Unit:         unit,
		MovingStatus: string(status),
		AlertTime:    timeutil.FormatPacific(alertTime),
		ResolvedAt:   timeutil.FormatPacific(time.Now()),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal verdict message failed", "error", err)
		return
	}

	// Deliver while holding the read lock: unregister closes the send
	// channel under the write lock, so a send can never race the close.
	// Sends are non-blocking, slow clients just drop messages.
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(c *feedClient) {
		select {
		case c.send <- data:
		default:
			slog.Warn("feed client buffer full", "unit", c.unit)
		}
	}
	for c := range h.clients[unit] {
		deliver(c)
	}
	if unit != feedAll {
		for c := range h.clients[feedAll] {
			deliver(c)
		}
	}
}

// CloseAll drops every connected feed client, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for c := range clients {
			close(c.send)
			c.conn.Close()
		}
	}
	h.clients = make(map[string]map[*feedClient]bool)
}
