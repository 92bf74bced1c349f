package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Event is one fleet-level happening broadcast to /ws/events
// subscribers. The only type published is operation_result, one per
// completed device operation; discovery sweeps publish no event.
type Event struct {
	Type      string      `json:"type"` // operation_result
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// EventHub fans fleet events out to connected WebSocket clients.
// Grounded on metrics.WebSocketHub register/unregister/
// broadcast loop, generalized from periodic dashboard snapshots to
// ad hoc event pushes made by the API handlers after group operate
// and parameter-set calls.
type EventHub struct {
	clients    map[*eventClient]bool
	register   chan *eventClient
	unregister chan *eventClient
	broadcast  chan *Event
	logger     *logging.Logger
	mu         sync.RWMutex

	connLimitPerIP int
	connCounts     map[string]int
}

type eventClient struct {
	conn *websocket.Conn
	send chan *Event
	ip   string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewEventHub builds an EventHub and starts its dispatch loop.
func NewEventHub(logger *logging.Logger) *EventHub {
	h := &EventHub{
		clients:        make(map[*eventClient]bool),
		register:       make(chan *eventClient),
		unregister:     make(chan *eventClient),
		broadcast:      make(chan *Event, 64),
		logger:         logger,
		connCounts:     make(map[string]int),
		connLimitPerIP: 5,
	}
	go h.run()
	return h
}

func (h *EventHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.connCounts[c.ip]++
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.connCounts[c.ip]--
				if h.connCounts[c.ip] <= 0 {
					delete(h.connCounts, c.ip)
				}
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- event:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish pushes event to every connected client, dropping it if the
// broadcast channel is saturated rather than blocking the caller.
func (h *EventHub) Publish(event *Event) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// PublishOperationResult publishes one operation_result event. The API
// handlers call it for each per-device result of a group operate or
// parameter-set call.
func (h *EventHub) PublishOperationResult(result shelly.OperationResult) {
	h.Publish(&Event{Type: "operation_result", Timestamp: time.Now().UTC(), Data: result})
}

// ServeWS upgrades r into a WebSocket connection and joins it to the hub.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ip := r.RemoteAddr
	tooMany := h.connCounts[ip] >= h.connLimitPerIP
	h.mu.RUnlock()
	if tooMany {
		http.Error(w, "too many connections from this client", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithFields(map[string]any{"error": err.Error()}).Warn("websocket upgrade failed")
		return
	}

	client := &eventClient{conn: conn, send: make(chan *Event, 16), ip: ip}
	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

func (h *EventHub) writePump(c *eventClient) {
	defer c.conn.Close()
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// readPump only drains the connection so close/ping frames are
// processed; the stream is one-directional from the server's side.
func (h *EventHub) readPump(c *eventClient) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
