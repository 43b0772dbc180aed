// ABOUTME: Tests for the remote peer command
// ABOUTME: Runs a request through a real hub with a scripted bridge peer
package ctl

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/playbridge/playbridge/internal/hub"
	"github.com/playbridge/playbridge/pkg/protocol"
)

func TestRequestEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		want      string
		expectErr bool
	}{
		{name: "numeric value", req: Request{Type: "playback", Action: "volume", Value: "40"}, want: `{"type":"playback","action":"volume","value":40}`},
		{name: "string value", req: Request{Type: "playback", Action: "setRepeat", Value: "track"}, want: `{"type":"playback","action":"setRepeat","value":"track"}`},
		{name: "no value", req: Request{Type: "info", Action: "current"}, want: `{"type":"info","action":"current"}`},
		{name: "bad type", req: Request{Type: "progress", Action: "x"}, expectErr: true},
		{name: "missing action", req: Request{Type: "info"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := tt.req.Envelope()
			if tt.expectErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			frame, _ := env.Encode()
			if string(frame) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, string(frame))
			}
		})
	}
}

func TestRunThroughHub(t *testing.T) {
	h := hub.New(hub.Config{Greeting: hub.DefaultGreeting, Logger: log.New(io.Discard)})
	srv := httptest.NewServer(h.Handler())
	defer func() {
		h.Stop()
		srv.Close()
	}()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("peer dial failed: %v", err)
	}
	defer peer.Close()

	peer.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := peer.ReadMessage(); err != nil {
		t.Fatalf("peer greeting: %v", err)
	}

	// Scripted bridge: answer one repeat command, interleaved with progress
	go func() {
		_, data, err := peer.ReadMessage()
		if err != nil {
			return
		}
		cmd, err := protocol.Decode(data)
		if err != nil || cmd.Action != protocol.ActionSetRepeat {
			return
		}
		progress, _ := protocol.NewEnvelope(protocol.TypeProgress, "", protocol.ProgressSample{Progress: 1, Duration: 2, Percentage: 50})
		reply, _ := protocol.NewEnvelope(protocol.TypeResponse, protocol.ActionRepeatState, protocol.RepeatState{State: "track"})
		for _, env := range []protocol.Envelope{progress, reply} {
			frame, _ := env.Encode()
			peer.WriteMessage(websocket.TextMessage, frame)
		}
	}()

	var out bytes.Buffer
	n, err := Run(context.Background(), Request{
		URL:    url,
		Type:   protocol.TypePlayback,
		Action: protocol.ActionSetRepeat,
		Value:  "track",
		Wait:   500 * time.Millisecond,
	}, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reply, got %d: %s", n, out.String())
	}

	want := `{"type":"response","action":"repeatState","data":{"state":"track"}}`
	if strings.TrimSpace(out.String()) != want {
		t.Errorf("expected %s, got %s", want, out.String())
	}
}

func TestRunDialFailure(t *testing.T) {
	_, err := Run(context.Background(), Request{
		URL:    "ws://127.0.0.1:1/",
		Type:   protocol.TypeInfo,
		Action: protocol.ActionCurrent,
	}, io.Discard)
	if err == nil {
		t.Error("expected dial error")
	}
}
