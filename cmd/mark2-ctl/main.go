package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ============================================================================
// mark2-ctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the mark2-hal daemon via IPC.
//
// Usage:
//   mark2-ctl fan 60
//   mark2-ctl volume 40
//   mark2-ctl get-volume
//   mark2-ctl leds 255,0,0 30
//   mark2-ctl animate thinking
//   mark2-ctl report
//
// Options:
//   -socket PATH    Unix domain socket path (default: /run/mark2-hal.sock)
// ============================================================================

const defaultSocketPath = "/run/mark2-hal.sock"

// EventEnvelope wraps an event for JSON (same wire format as the daemon)
type EventEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := defaultSocketPath

	// Parse arguments
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if env.Type == "" {
			printUsage()
		}
		os.Exit(1)
	}
	if env.Type == "help" {
		printUsage()
		return
	}

	if err := sendEvent(socketPath, env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

// parseCommand maps command-line arguments to an event envelope.
func parseCommand(args []string) (EventEnvelope, error) {
	switch args[0] {
	case "fan", "set-fan":
		v, err := percentArg(args, "fan speed")
		if err != nil {
			return EventEnvelope{Type: "set_fan_speed"}, err
		}
		return EventEnvelope{Type: "set_fan_speed", Data: map[string]int{"speed": v}}, nil

	case "volume", "set-volume":
		v, err := percentArg(args, "volume")
		if err != nil {
			return EventEnvelope{Type: "set_volume"}, err
		}
		return EventEnvelope{Type: "set_volume", Data: map[string]int{"volume": v}}, nil

	case "get-volume":
		return EventEnvelope{Type: "get_volume"}, nil

	case "leds", "set-leds":
		if len(args) < 2 {
			return EventEnvelope{Type: "set_led_colors"}, fmt.Errorf("leds requires r,g,b values")
		}
		rgb, err := parseRGB(args[1])
		if err != nil {
			return EventEnvelope{Type: "set_led_colors"}, err
		}
		data := map[string]any{"rgb": rgb}
		if len(args) > 2 {
			b, err := strconv.Atoi(args[2])
			if err != nil {
				return EventEnvelope{Type: "set_led_colors"}, fmt.Errorf("invalid brightness: %v", err)
			}
			data["brightness"] = b
		}
		return EventEnvelope{Type: "set_led_colors", Data: data}, nil

	case "animate":
		if len(args) < 2 {
			return EventEnvelope{Type: "animate_leds"}, fmt.Errorf("animate requires a name (awake, thinking, asleep)")
		}
		return EventEnvelope{Type: "animate_leds", Data: map[string]string{"name": args[1]}}, nil

	case "report":
		return EventEnvelope{Type: "report_button_states"}, nil

	case "help", "-h", "--help":
		return EventEnvelope{Type: "help"}, nil

	default:
		return EventEnvelope{}, fmt.Errorf("unknown command: %s", args[0])
	}
}

func percentArg(args []string, what string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a value (0-100)", what)
	}
	v, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", what, err)
	}
	return v, nil
}

func parseRGB(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid color value %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func sendEvent(socketPath string, env EventEnvelope) error {
	// Connect to socket
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Send event (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	// Read response
	var response IPCResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mark2-ctl - Control the mark2-hal daemon via IPC

Usage:
  mark2-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  fan <0-100>                 Set fan speed
  volume <0-100>              Set amplifier volume
  get-volume                  Ask the daemon to announce the volume
  leds <r,g,b,...> [0-100]    Set LED colors and optional brightness
  animate <name>              Start an LED animation (awake, thinking, asleep)
  report                      Ask the daemon to announce button states
  help, -h, --help            Show this help message

Query answers are published on D-Bus, the message bus and the state
websocket; use hal_listen to watch them.

Examples:
  mark2-ctl volume 40
  mark2-ctl leds 255,0,0 30
  mark2-ctl -socket /tmp/mark2-hal.sock animate thinking
`, defaultSocketPath)
}
