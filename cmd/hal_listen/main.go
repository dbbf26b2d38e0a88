package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// message is the state websocket envelope sent by mark2-hal.
type message struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:8085/ws", "mark2-hal state websocket URL")
		raw   = flag.Bool("raw", false, "Print messages as received")
		once  = flag.Bool("once", false, "Print the initial state and exit")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	// Connect to websocket
	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// Set up ping/pong handlers for connection health
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Start ping ticker to keep connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// Any traffic proves the connection is alive.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Printf("%s\n", payload)
			} else {
				handleTextMessage(payload)
			}
			if *once {
				return
			}
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
	case <-done:
		if !*once {
			log.Printf("connection closed")
		}
	}

	// Clean close
	writeMu.Lock()
	err = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	writeMu.Unlock()
	if err != nil && !*once {
		log.Printf("error closing connection: %v", err)
	}
}

// handleTextMessage prints one state message in a compact form.
func handleTextMessage(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		fmt.Printf("[TEXT] %s\n", string(payload))
		return
	}

	switch msg.Type {
	case "state_init":
		var state struct {
			FanSpeed   int             `json:"fan_speed"`
			Volume     int             `json:"volume"`
			LedColors  []int           `json:"led_colors"`
			Brightness int             `json:"brightness"`
			Animation  string          `json:"animation"`
			Buttons    map[string]bool `json:"buttons"`
		}
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			break
		}
		fmt.Printf("[STATE] fan=%d%% volume=%d%% brightness=%d%% animation=%q\n",
			state.FanSpeed, state.Volume, state.Brightness, state.Animation)
		if len(state.LedColors) >= 3 {
			fmt.Printf("[STATE] led0=%v buttons=%v\n", state.LedColors[:3], state.Buttons)
		}
		return

	case "volume":
		var v struct {
			Volume int `json:"volume"`
		}
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			break
		}
		fmt.Printf("[VOLUME] %d%%\n", v.Volume)
		return

	case "led_colors":
		var c struct {
			RGB        []int `json:"rgb"`
			Brightness int   `json:"brightness"`
		}
		if err := json.Unmarshal(msg.Data, &c); err != nil || len(c.RGB) < 3 {
			break
		}
		fmt.Printf("[LEDS] led0=%v brightness=%d%%\n", c.RGB[:3], c.Brightness)
		return

	case "button_state_changed":
		var b struct {
			Name  string `json:"name"`
			State bool   `json:"state"`
		}
		if err := json.Unmarshal(msg.Data, &b); err != nil {
			break
		}
		status := "released"
		if b.State {
			status = "active"
		}
		fmt.Printf("[BUTTON] %s %s\n", b.Name, status)
		return

	case "button_states":
		var s struct {
			States map[string]bool `json:"states"`
		}
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			break
		}
		fmt.Printf("[BUTTONS] %v\n", s.States)
		return
	}

	// Pretty print anything else
	prettyJSON, _ := json.MarshalIndent(msg, "", "  ")
	fmt.Printf("[%s]\n%s\n\n", msg.Type, string(prettyJSON))
}
