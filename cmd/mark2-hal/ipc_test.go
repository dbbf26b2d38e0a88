package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHandleIPCConnection_SubmitsEventsAndAnswers(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sub := &submitted{}
	go handleIPCConnection(server, sub.Submit, testLogger())

	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)

	send := func(line string) IPCResponse {
		t.Helper()
		if _, err := client.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		raw, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var resp IPCResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			t.Fatalf("unmarshal %q: %v", raw, err)
		}
		return resp
	}

	if resp := send(`{"type":"set_fan_speed","data":{"speed":20}}`); resp.Status != "ok" {
		t.Errorf("set_fan_speed: %+v", resp)
	}
	if resp := send(`{"type":"report_button_states"}`); resp.Status != "ok" {
		t.Errorf("report_button_states: %+v", resp)
	}
	resp := send(`{"type":"reboot"}`)
	if resp.Status != "error" || !strings.Contains(resp.Error, "unknown event type") {
		t.Errorf("unknown type: %+v", resp)
	}

	for _, forged := range []string{
		`{"type":"volume","data":{"volume":300}}`,
		`{"type":"led_colors","data":{"rgb":[1,2,3],"brightness":7}}`,
		`{"type":"button_state_changed","data":{"name":"action","state":true}}`,
		`{"type":"button_states","data":{"states":{"action":true}}}`,
	} {
		if resp := send(forged); resp.Status != "error" || !strings.Contains(resp.Error, "cannot be submitted") {
			t.Errorf("%s: %+v", forged, resp)
		}
	}

	events := sub.Events()
	if len(events) != 2 || events[0] != (SetFanSpeed{Speed: 20}) || events[1] != (ReportButtonStates{}) {
		t.Errorf("submitted %v", events)
	}
}

func TestRunIPCServer_SendIPCEvent(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "hal.sock")
	sub := &submitted{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runIPCServer(ctx, socket, sub.Submit, testLogger()) }()

	var err error
	waitUntil(t, 2*time.Second, func() bool {
		err = SendIPCEvent(socket, AnimateLeds{Name: animationThinking})
		return err == nil
	}, "ipc server accepting")

	waitUntil(t, time.Second, func() bool { return len(sub.Events()) >= 1 }, "event submitted")
	if got := sub.Events()[0]; got != (AnimateLeds{Name: animationThinking}) {
		t.Errorf("got %#v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runIPCServer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runIPCServer did not return after cancel")
	}
}
