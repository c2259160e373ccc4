// Package observer is the client side of the event surface: a websocket
// connection to the server with automatic resubscription and a bounded
// reconnect state machine.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drivesentry/drivesentry/internal/types"
)

// ErrReconnectsExhausted is returned by Run after the reconnect policy
// gives up.
var ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")

// State is the connection state machine's current state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateGaveUp       State = "gave_up"
)

// Client maintains one observer connection. Events decoded from the wire
// arrive on Events(); state transitions arrive on States(), including the
// terminal StateGaveUp, which is never silent.
type Client struct {
	url    string
	policy ReconnectPolicy
	dialer *websocket.Dialer

	events chan types.Event
	states chan State

	mu      sync.Mutex
	watched map[string]struct{}
	conn    *websocket.Conn
	state   State
	closed  bool

	// writeMu serializes control writes; gorilla connections allow only
	// one concurrent writer.
	writeMu sync.Mutex
}

// NewClient creates a client for a ws:// or wss:// event endpoint.
func NewClient(url string, policy ReconnectPolicy) *Client {
	if policy.MaxAttempts <= 0 {
		policy = DefaultReconnectPolicy()
	}
	return &Client{
		url:     url,
		policy:  policy,
		dialer:  websocket.DefaultDialer,
		events:  make(chan types.Event, 32),
		states:  make(chan State, 8),
		watched: make(map[string]struct{}),
		state:   StateDisconnected,
	}
}

// Events is the stream of decoded scan events.
func (c *Client) Events() <-chan types.Event { return c.events }

// States delivers state transitions. Buffered with non-blocking sends, so
// a consumer that only cares about events can ignore it; the terminal
// GaveUp notification is also surfaced as Run's return value.
func (c *Client) States() <-chan State { return c.states }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch subscribes to a drive's events, now and after every reconnect.
func (c *Client) Watch(drive string) {
	c.mu.Lock()
	c.watched[drive] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeControl(conn, "subscribe", drive)
	}
}

// Unwatch drops the subscription for a drive.
func (c *Client) Unwatch(drive string) {
	c.mu.Lock()
	delete(c.watched, drive)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeControl(conn, "unsubscribe", drive)
	}
}

// Close explicitly ends the connection. An explicit close never triggers
// reconnection; Run returns nil.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// Run drives the connection until an explicit Close (returns nil), context
// cancellation, or reconnect exhaustion (returns ErrReconnectsExhausted
// after transitioning to StateGaveUp). The events channel is closed on
// return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	attempts := 0
	reconnecting := false

	for {
		if c.isClosed() {
			c.setState(StateDisconnected)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if reconnecting {
			if attempts >= c.policy.MaxAttempts {
				c.setState(StateGaveUp)
				return ErrReconnectsExhausted
			}
			if err := sleepCtx(ctx, c.policy.Delay(attempts)); err != nil {
				return err
			}
		}

		c.setState(StateConnecting)
		conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			reconnecting = true
			attempts++
			c.setState(StateDisconnected)
			if attempts >= c.policy.MaxAttempts {
				c.setState(StateGaveUp)
				return ErrReconnectsExhausted
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		watched := make([]string, 0, len(c.watched))
		for d := range c.watched {
			watched = append(watched, d)
		}
		c.mu.Unlock()

		c.setState(StateConnected)
		attempts = 0

		// Resubscribe everything we were watching before the drop.
		for _, d := range watched {
			c.writeControl(conn, "subscribe", d)
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if c.isClosed() {
			c.setState(StateDisconnected)
			return nil
		}
		// Unexpected disconnect: enter the reconnect cycle.
		reconnecting = true
		c.setState(StateDisconnected)
	}
}

// readLoop decodes events until the connection drops or ctx ends.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		ev, err := decodeEvent(data)
		if err != nil {
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func decodeEvent(data []byte) (types.Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case types.EventTypeProgress:
		var ev types.ProgressEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case types.EventTypeComplete:
		var ev types.CompletionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, errors.New("unknown event type: " + head.Type)
}

func (c *Client) writeControl(conn *websocket.Conn, action, drive string) {
	msg, _ := json.Marshal(map[string]string{"action": action, "drive": drive})
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	select {
	case c.states <- s:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
