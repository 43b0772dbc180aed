// ABOUTME: Remote peer that sends one command to the hub
// ABOUTME: Dials the relay, writes a single envelope and collects replies for a window
package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/playbridge/playbridge/pkg/protocol"
)

// DefaultWait is how long replies are collected after sending
const DefaultWait = 2 * time.Second

// Request describes one command or query
type Request struct {
	URL    string
	Type   string
	Action string
	// Value is sent as a number when it parses as one, as a string otherwise
	Value string
	Wait  time.Duration
}

// Envelope builds the outbound envelope for the request
func (r Request) Envelope() (protocol.Envelope, error) {
	switch r.Type {
	case protocol.TypePlayback, protocol.TypeInfo:
	default:
		return protocol.Envelope{}, fmt.Errorf("unsupported type %q", r.Type)
	}
	if r.Action == "" {
		return protocol.Envelope{}, errors.New("action is required")
	}

	var value interface{}
	if r.Value != "" {
		if n, err := strconv.ParseFloat(r.Value, 64); err == nil {
			value = n
		} else {
			value = r.Value
		}
	}
	return protocol.NewCommand(r.Type, r.Action, value)
}

// Run sends the request and writes every reply frame to out, one per line.
// Frames that are not envelopes, like the hub greeting, are skipped.
func Run(ctx context.Context, req Request, out io.Writer) (int, error) {
	env, err := req.Envelope()
	if err != nil {
		return 0, err
	}
	frame, err := env.Encode()
	if err != nil {
		return 0, err
	}
	if req.Wait <= 0 {
		req.Wait = DefaultWait
	}

	conn, _, err := websocket.Dial(ctx, req.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to dial hub: %w", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return 0, fmt.Errorf("failed to send: %w", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, req.Wait)
	defer cancel()

	replies := 0
	for {
		typ, data, err := conn.Read(readCtx)
		if err != nil {
			switch {
			case readCtx.Err() != nil && ctx.Err() == nil:
				return replies, nil
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
				return replies, nil
			}
			return replies, fmt.Errorf("read failed: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		reply, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		// Progress samples stream continuously and would drown the reply
		if reply.Type == protocol.TypeProgress {
			continue
		}
		replies++
		fmt.Fprintln(out, string(data))
	}
}
