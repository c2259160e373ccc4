package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drivesentry/drivesentry/internal/scan"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	wsPongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// Outbound message buffer per connection.
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API accepts observers from any origin, same as the REST surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the client-to-server control message.
type wsMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Drive  string `json:"drive"`
}

// wsClient is one connected observer. Events flow from per-drive forwarder
// goroutines into the send channel and out through a single write pump,
// which preserves per-drive event order.
type wsClient struct {
	conn *websocket.Conn
	bus  *scan.Bus
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	watches map[string]chan struct{} // drive -> forwarder stop signal
}

// WebSocket handles GET /ws: the push event surface for observers.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	c := &wsClient{
		conn:    conn,
		bus:     h.bus,
		send:    make(chan []byte, wsSendBuffer),
		done:    make(chan struct{}),
		watches: make(map[string]chan struct{}),
	}

	log.Printf("websocket connected: %s", conn.RemoteAddr())
	go c.writePump()
	c.readPump()
	log.Printf("websocket disconnected: %s", conn.RemoteAddr())
}

func (c *wsClient) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readPump consumes control messages until the connection drops.
func (c *wsClient) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Drive == "" {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.watch(msg.Drive)
		case "unsubscribe":
			c.unwatch(msg.Drive)
		}
	}
}

// watch starts a forwarder for a drive, once per drive per connection.
func (c *wsClient) watch(drive string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watches[drive]; ok {
		return
	}
	stop := make(chan struct{})
	c.watches[drive] = stop
	go c.forward(drive, stop)
}

func (c *wsClient) unwatch(drive string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stop, ok := c.watches[drive]; ok {
		close(stop)
		delete(c.watches, drive)
	}
}

// forward relays one drive's events to the connection. The bus closes a
// subscription after each session's completion event, so the forwarder
// re-subscribes and waits for the next session until the watch is removed
// or the connection dies.
func (c *wsClient) forward(drive string, stop chan struct{}) {
	for c.forwardSession(drive, stop) {
	}
}

// forwardSession relays events until the subscription is closed by the bus
// (session over, returns true: resubscribe) or the watch/connection ends
// (returns false).
func (c *wsClient) forwardSession(drive string, stop chan struct{}) bool {
	sub := c.bus.Subscribe(drive)
	defer c.bus.Unsubscribe(sub)

	for {
		select {
		case <-stop:
			return false
		case <-c.done:
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return true
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			case <-c.done:
				return false
			}
		}
	}
}

// writePump is the single writer for the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
