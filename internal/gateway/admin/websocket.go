package admin

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/asgard/gatewaytransport/internal/gateway"
	"github.com/asgard/gatewaytransport/pkg/transaction"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// wireEvent is the envelope every message written to an admin WebSocket
// client carries.
type wireEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// EventStream fans out a Transport's receive/neighbor/error events to any
// number of connected WebSocket clients.
//
// Grounded on internal/platform/realtime.WebSocketManager, trimmed from
// that file's access-level filtering and per-client subscriptions (this
// transport has one event surface and no concept of an authenticated
// caller) down to straight broadcast.
type EventStream struct {
	mu             sync.RWMutex
	clients        map[*client]struct{}
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventStream creates a stream wired to transport's event observers.
// Requests carrying no Origin header (non-browser clients) and same-origin
// requests are always accepted; an empty allowedOrigins accepts only those.
func NewEventStream(transport *gateway.Transport, allowedOrigins []string) *EventStream {
	es := &EventStream{
		clients:        make(map[*client]struct{}),
		allowedOrigins: allowedOrigins,
	}
	es.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     es.checkOrigin,
	}

	transport.OnReceive(func(tx transaction.Transaction, from *gateway.Neighbor, remoteAddr string) {
		es.broadcast("receive", map[string]interface{}{
			"transactionId": tx.ID.String(),
			"size":          len(tx.Payload),
			"from":          remoteAddr,
		})
	})
	transport.OnNeighbor(func(n *gateway.Neighbor) {
		es.broadcast("neighbor", map[string]interface{}{
			"host": n.Host,
			"port": n.Port,
		})
	})
	transport.OnError(func(err error) {
		es.broadcast("error", map[string]interface{}{
			"message": err.Error(),
		})
	})

	return es
}

func (es *EventStream) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range es.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and registers the resulting client
// until it disconnects.
func (es *EventStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := es.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("admin: websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	es.mu.Lock()
	es.clients[c] = struct{}{}
	es.mu.Unlock()

	go es.writePump(c)
	go es.readPump(c)
}

func (es *EventStream) broadcast(eventType string, payload interface{}) {
	msg, err := json.Marshal(wireEvent{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload})
	if err != nil {
		log.Printf("admin: marshal event: %v", err)
		return
	}

	es.mu.RLock()
	defer es.mu.RUnlock()
	for c := range es.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("admin: client send buffer full, dropping event")
		}
	}
}

func (es *EventStream) removeClient(c *client) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.clients[c]; ok {
		delete(es.clients, c)
		close(c.send)
	}
}

func (es *EventStream) readPump(c *client) {
	defer func() {
		es.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (es *EventStream) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
