package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

// NOTE: These tests focus on hub behavior (fanout + slow-client disconnection)
// without standing up a real websocket server. Clients have a nil
// websocket.Conn; the hub guards against nil on close.

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(testLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, sendBuf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, sendBuf),
		remoteAddr: name,
		logger:     testLogger(),
	}
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, "client "+c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}

	msg := []byte(`{"type":"volume","data":{"volume":75}}`)

	// Avoid BroadcastBytes() here because it is non-blocking and may drop if
	// the hub broadcast queue is temporarily full during scheduling.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerAndWait(t, hub, slow)
	registerAndWait(t, hub, fast)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"button_state_changed","data":{"name":"mute","state":true}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func TestStateBroadcaster_ForwardsOnlyOutboundEvents(t *testing.T) {
	b := newStateBroadcaster(8, testLogger())

	inbound := []Event{SetVolume{Volume: 10}, GetVolume{}, SetFanSpeed{Speed: 5}, AnimateLeds{Name: animationAwake}, ReportButtonStates{}}
	for _, ev := range inbound {
		if out := b.HandleEvent(ev); out != nil {
			t.Fatalf("HandleEvent(%T) produced %v, want nil", ev, out)
		}
	}
	if n := len(b.Events()); n != 0 {
		t.Fatalf("forwarded %d inbound events, want 0", n)
	}

	b.HandleEvent(Volume{Volume: 10})
	b.HandleEvent(ButtonStateChanged{Name: buttonAction, State: true})
	if n := len(b.Events()); n != 2 {
		t.Fatalf("forwarded %d outbound events, want 2", n)
	}
}

func TestRunBroadcaster_CoalescesVolumeAndFlushesBeforeOtherEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 8, 16)
	src := make(chan Event, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, src, testLogger())
	}()

	src <- Volume{Volume: 10}
	src <- Volume{Volume: 20}
	src <- Volume{Volume: 30}
	src <- ButtonStateChanged{Name: buttonMute, State: true}

	first := readBroadcast(t, hub)
	if first.Type != typeVolume {
		t.Fatalf("first message type = %q, want %q", first.Type, typeVolume)
	}
	var vol Volume
	if err := json.Unmarshal(first.Data, &vol); err != nil {
		t.Fatalf("unmarshal volume: %v", err)
	}
	if vol.Volume != 30 {
		t.Fatalf("coalesced volume = %d, want 30 (latest wins)", vol.Volume)
	}

	second := readBroadcast(t, hub)
	if second.Type != typeButtonStateChanged {
		t.Fatalf("second message type = %q, want %q", second.Type, typeButtonStateChanged)
	}

	select {
	case msg := <-hub.broadcast:
		t.Fatalf("unexpected extra broadcast %s", msg)
	case <-time.After(2 * wsVolumeCoalesceWindow):
	}

	close(src)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcaster did not stop after source closed")
	}
}

type wireEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func readBroadcast(t *testing.T, hub *Hub) wireEnvelope {
	t.Helper()
	select {
	case msg := <-hub.broadcast:
		var env wireEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal broadcast %s: %v", msg, err)
		}
		if env.Ts == nil {
			t.Fatalf("broadcast %s has no ts", msg)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for broadcast")
	}
	return wireEnvelope{}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
