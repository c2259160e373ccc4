package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drivesentry/drivesentry/internal/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func fastPolicy(maxAttempts int) ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Millisecond,
		Increment:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("client never reached state %s, stuck at %s", want, c.State())
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	const maxAttempts = 3
	c := NewClient(wsURL(srv), fastPolicy(maxAttempts))

	err := c.Run(context.Background())
	if !errors.Is(err, ErrReconnectsExhausted) {
		t.Fatalf("Run returned %v, want ErrReconnectsExhausted", err)
	}
	if got := atomic.LoadInt32(&dials); got != maxAttempts {
		t.Errorf("dial attempts = %d, want %d", got, maxAttempts)
	}
	if c.State() != StateGaveUp {
		t.Errorf("final state = %s, want %s", c.State(), StateGaveUp)
	}
}

func TestRunReconnectsAfterDrop(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&dials, 1)
		if n > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(types.ProgressEvent{
			Type:     types.EventTypeProgress,
			Drive:    "sda",
			Progress: 42,
		})
		conn.Close()
	}))
	defer srv.Close()

	const maxAttempts = 2
	c := NewClient(wsURL(srv), fastPolicy(maxAttempts))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	select {
	case ev := <-c.Events():
		p, ok := ev.(types.ProgressEvent)
		if !ok {
			t.Fatalf("event is %T, want ProgressEvent", ev)
		}
		if p.Progress != 42 {
			t.Errorf("progress = %d, want 42", p.Progress)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event before the server dropped the connection")
	}

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrReconnectsExhausted) {
			t.Fatalf("Run returned %v, want ErrReconnectsExhausted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish")
	}

	// One successful dial plus a full round of reconnect attempts.
	if got := atomic.LoadInt32(&dials); got != 1+maxAttempts {
		t.Errorf("dial attempts = %d, want %d", got, 1+maxAttempts)
	}
}

func TestExplicitCloseDoesNotReconnect(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(wsURL(srv), fastPolicy(5))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	waitState(t, c, StateConnected)
	c.Close()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run after explicit Close returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Errorf("dial attempts = %d, want 1 (no reconnects after Close)", got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("final state = %s, want %s", c.State(), StateDisconnected)
	}
}

func TestWatchedDrivesResubscribedOnReconnect(t *testing.T) {
	subs := make(chan string, 4)
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&dials, 1)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		var msg struct {
			Action string `json:"action"`
			Drive  string `json:"drive"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Action == "subscribe" {
			subs <- msg.Drive
		}
		if n == 1 {
			// Drop the first connection to force a reconnect.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(wsURL(srv), fastPolicy(5))
	c.Watch("sda")

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case drive := <-subs:
			if drive != "sda" {
				t.Errorf("subscribe #%d for %s, want sda", i+1, drive)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("subscribe #%d never arrived", i+1)
		}
	}

	c.Close()
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(wsURL(srv), fastPolicy(5))
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	waitState(t, c, StateConnected)
	cancel()

	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		check   func(t *testing.T, ev types.Event)
	}{
		{
			name:    "progress",
			payload: `{"type":"scan_progress","drive":"sda","progress":37,"bad_sectors":2}`,
			check: func(t *testing.T, ev types.Event) {
				p, ok := ev.(types.ProgressEvent)
				if !ok {
					t.Fatalf("decoded %T, want ProgressEvent", ev)
				}
				if p.Drive != "sda" || p.Progress != 37 || p.BadSectors != 2 {
					t.Errorf("decoded %+v", p)
				}
			},
		},
		{
			name:    "completion",
			payload: `{"type":"scan_complete","drive":"sdb","bad_sectors":0,"outcome":"success"}`,
			check: func(t *testing.T, ev types.Event) {
				c, ok := ev.(types.CompletionEvent)
				if !ok {
					t.Fatalf("decoded %T, want CompletionEvent", ev)
				}
				if c.Drive != "sdb" || c.Outcome != types.OutcomeSuccess {
					t.Errorf("decoded %+v", c)
				}
			},
		},
		{
			name:    "unknown type",
			payload: `{"type":"mystery"}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			payload: `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeEvent succeeded with %v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEvent failed: %v", err)
			}
			tt.check(t, ev)
		})
	}
}
