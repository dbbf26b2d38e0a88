package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Mycroft Message Bus Adapter
// ============================================================================
// Optional bridge to the Mycroft core message bus (enabled with -websocket).
// Inbound bus messages are translated into events and submitted; outbound
// events are translated into bus messages. The connection is re-established
// whenever it drops.
// ============================================================================

// Bus message types
const (
	busFanSetSpeed    = "mark2.hal.fan.set-speed"
	busLedsSetColors  = "mark2.hal.leds.set-colors"
	busMicMute        = "mycroft.mic.mute"
	busMicUnmute      = "mycroft.mic.unmute"
	busMicListen      = "mycroft.mic.listen"
	busAmpSetVolume   = "mark2.hal.amp.set-volume"
	busAmpGetVolume   = "mark2.hal.amp.get-volume"
	busAmpVolume      = "mark2.hal.amp.volume"
	busVolumeSet      = "mycroft.volume.set"
	busVolumeGet      = "mycroft.volume.get"
	busVolumeGetResp  = "mycroft.volume.get.response"
	busVolumeIncrease = "mycroft.volume.increase"
	busVolumeDecrease = "mycroft.volume.decrease"
	busButtonsReport  = "mark2.hal.buttons.report"
	busButtonsStates  = "mark2.hal.buttons.states"
	busButtonChanged  = "mark2.hal.buttons.state-changed"
	busRecordBegin    = "recognizer_loop:record_begin"
	busRecordEnd      = "recognizer_loop:record_end"
	busUtterance      = "recognizer_loop:utterance"
)

const busOutboundBufSize = 64

// busMessage is the Mycroft message bus wire format.
type busMessage struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`
}

func newBusMessage(msgType string, data map[string]any) busMessage {
	if data == nil {
		data = map[string]any{}
	}
	return busMessage{Type: msgType, Data: data, Context: map[string]any{}}
}

// MessageBusClient manages the websocket connection to the message bus.
type MessageBusClient struct {
	mu   sync.Mutex
	conn *websocket.Conn

	url              string
	handshakeTimeout time.Duration
	retryDelay       time.Duration
	logger           *slog.Logger

	submit func(Event)
	out    chan busMessage
}

// NewMessageBusClient validates wsURL. Call Run to connect.
func NewMessageBusClient(wsURL string, handshakeTimeout time.Duration, submit func(Event), logger *slog.Logger) (*MessageBusClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	return &MessageBusClient{
		url:              wsURL,
		handshakeTimeout: handshakeTimeout,
		retryDelay:       500 * time.Millisecond,
		logger:           logger,
		submit:           submit,
		out:              make(chan busMessage, busOutboundBufSize),
	}, nil
}

// connect establishes a WebSocket connection to the message bus
func (c *MessageBusClient) connect() (*websocket.Conn, error) {
	d := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}

	conn, _, err := d.Dial(c.url, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// connectWithRetry keeps trying until it connects or ctx is canceled.
func (c *MessageBusClient) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; ; attempt++ {
		conn, err := c.connect()
		if err == nil {
			c.logger.Info("connected to message bus", "url", c.url)
			return conn, nil
		}
		c.logger.Warn("message bus connection failed; retrying...", "error", err, "attempt", attempt)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

// Run connects and serves the bus until ctx is canceled.
func (c *MessageBusClient) Run(ctx context.Context) error {
	for {
		conn, err := c.connectWithRetry(ctx)
		if err != nil {
			return nil
		}

		done := make(chan struct{})
		go c.writeLoop(ctx, conn, done)

		c.readLoop(conn)
		close(done)
		c.dropConn(conn)

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("message bus connection lost; reconnecting...")
	}
}

func (c *MessageBusClient) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("message bus read ended", "error", err)
			return
		}

		var msg busMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Debug("ignoring malformed bus message", "error", err)
			continue
		}

		if ev, ok := translateBusMessage(msg); ok {
			c.logger.Debug("bus message", "type", msg.Type, "event", ev)
			c.submit(ev)
		}
	}
}

func (c *MessageBusClient) writeLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage.
			_ = conn.Close()
			return
		case <-done:
			return
		case msg := <-c.out:
			payload, err := json.Marshal(msg)
			if err != nil {
				c.logger.Warn("bus message marshal failed", "type", msg.Type, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("bus message write failed", "type", msg.Type, "error", err)
				// Mark connection as broken; readLoop will return.
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *MessageBusClient) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// Close closes the current connection, if any.
func (c *MessageBusClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// HandleEvent queues the bus messages for an outbound event. Messages are
// dropped when the queue is full or the bus is down for long.
func (c *MessageBusClient) HandleEvent(ev Event) []Event {
	for _, msg := range busMessagesFor(ev) {
		select {
		case c.out <- msg:
		default:
			c.logger.Warn("message bus queue full, dropping message", "type", msg.Type)
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Translation
// ----------------------------------------------------------------------------

// translateBusMessage maps an inbound bus message to an event.
// Missing fields take the message bus defaults.
func translateBusMessage(msg busMessage) (Event, bool) {
	switch msg.Type {
	case busFanSetSpeed:
		return SetFanSpeed{Speed: int(busNumber(msg.Data, "speed", maxSpeed))}, true

	case busLedsSetColors:
		return SetLedColors{
			RGB:        busInts(msg.Data, "rgb", []int{0, 0, 0}),
			Brightness: intPtr(int(busNumber(msg.Data, "brightness", defaultBrightness))),
		}, true

	case busMicMute:
		return SetLedColors{RGB: []int{maxColor, 0, 0}}, true

	case busMicUnmute:
		return SetLedColors{RGB: []int{0, 0, 0}}, true

	case busAmpSetVolume:
		return SetVolume{Volume: int(busNumber(msg.Data, "volume", defaultVolume))}, true

	case busVolumeSet:
		return SetVolume{Volume: int(busNumber(msg.Data, "percent", 0.6) * 100)}, true

	case busVolumeGet, busAmpGetVolume:
		return GetVolume{}, true

	case busButtonsReport:
		return ReportButtonStates{}, true

	case busRecordBegin:
		return AnimateLeds{Name: animationAwake}, true

	case busRecordEnd:
		return AnimateLeds{Name: animationThinking}, true

	case busUtterance:
		return AnimateLeds{Name: animationAsleep}, true

	default:
		return nil, false
	}
}

// busMessagesFor maps an outbound event to the bus messages announcing it.
func busMessagesFor(ev Event) []busMessage {
	switch e := ev.(type) {
	case ButtonStateChanged:
		msgs := []busMessage{
			newBusMessage(busButtonChanged, map[string]any{"name": e.Name, "state": e.State}),
		}

		switch {
		case e.Name == buttonMute:
			// Bus aliases: an active mute switch is announced as mic.unmute.
			if e.State {
				msgs = append(msgs, newBusMessage(busMicUnmute, nil))
			} else {
				msgs = append(msgs, newBusMessage(busMicMute, nil))
			}
		case !e.State:
			// Released buttons only report state.
		case e.Name == buttonVolumeUp:
			msgs = append(msgs, newBusMessage(busVolumeIncrease, nil))
		case e.Name == buttonVolumeDown:
			msgs = append(msgs, newBusMessage(busVolumeDecrease, nil))
		case e.Name == buttonAction:
			msgs = append(msgs, newBusMessage(busMicListen, nil))
		}
		return msgs

	case ButtonStates:
		return []busMessage{
			newBusMessage(busButtonsStates, map[string]any{"states": e.States}),
		}

	case Volume:
		return []busMessage{
			newBusMessage(busAmpVolume, map[string]any{"volume": e.Volume}),
			newBusMessage(busVolumeGetResp, map[string]any{"percent": float64(e.Volume) / 100}),
		}

	default:
		return nil
	}
}

// busNumber reads a JSON number, falling back to def when absent or not a number.
func busNumber(data map[string]any, key string, def float64) float64 {
	if v, ok := data[key].(float64); ok {
		return v
	}
	return def
}

// busInts reads a JSON array of numbers, falling back to def when absent.
func busInts(data map[string]any, key string, def []int) []int {
	raw, ok := data[key].([]any)
	if !ok {
		return def
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}
