// Package ws implements the live channel over a WebSocket gateway that
// speaks the JSON event protocol directly.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farmdepot-ng/voicelink/pkg/channel"
	"github.com/farmdepot-ng/voicelink/pkg/live/protocol"
)

const defaultDialTimeout = 15 * time.Second

// Options configures the gateway endpoint.
type Options struct {
	// URL is the ws:// or wss:// gateway endpoint. Required.
	URL string
	// APIKey, when set, is sent as a bearer token on the upgrade request.
	APIKey string
	// Header carries extra upgrade headers.
	Header http.Header
	// DialTimeout bounds connect plus setup handshake. Default 15s.
	DialTimeout time.Duration
}

// Dialer opens live channels against a WebSocket gateway.
type Dialer struct {
	opts Options
}

// NewDialer validates opts and returns a gateway dialer.
func NewDialer(opts Options) (*Dialer, error) {
	u := strings.TrimSpace(opts.URL)
	if u == "" {
		return nil, fmt.Errorf("gateway URL must not be empty")
	}
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return nil, fmt.Errorf("gateway URL must be ws:// or wss://, got %q", u)
	}
	opts.URL = u
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Dialer{opts: opts}, nil
}

// setupFrame opens the session: it is the first client frame on the wire.
type setupFrame struct {
	Type              string                    `json:"type"`
	Version           string                    `json:"version"`
	Model             string                    `json:"model"`
	SystemInstruction string                    `json:"system_instruction,omitempty"`
	Voice             string                    `json:"voice,omitempty"`
	LanguageCode      string                    `json:"language_code,omitempty"`
	Tools             []channel.ToolDeclaration `json:"tools,omitempty"`
	InputFormat       protocol.AudioFormat      `json:"input_format"`
	OutputFormat      protocol.AudioFormat      `json:"output_format"`
}

// readyFrame acknowledges the setup; the gateway sends it before any event.
type readyFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// Dial connects, performs the setup/ready handshake, and returns a live
// channel. The returned channel owns the socket.
func (d *Dialer) Dial(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	headers := make(http.Header)
	for k, v := range d.opts.Header {
		headers[k] = v
	}
	if d.opts.APIKey != "" {
		headers.Set("Authorization", "Bearer "+d.opts.APIKey)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, d.opts.DialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, d.opts.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed (status %d): %w", d.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", d.opts.URL, err)
	}

	setup := setupFrame{
		Type:              "setup",
		Version:           protocol.ProtocolVersion1,
		Model:             cfg.Model,
		SystemInstruction: cfg.SystemInstruction,
		Voice:             cfg.Voice,
		LanguageCode:      cfg.LanguageCode,
		Tools:             cfg.Tools,
		InputFormat:       cfg.InputFormat,
		OutputFormat:      cfg.OutputFormat,
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.opts.DialTimeout))
	var ready readyFrame
	if err := conn.ReadJSON(&ready); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read setup ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if ready.Type != "ready" {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway refused setup: first frame type %q", ready.Type)
	}

	return &wsChannel{conn: conn}, nil
}

// wsChannel adapts one websocket connection to the channel contract.
// Sends are serialized by writeMu; Receive is single-reader by contract.
type wsChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *wsChannel) Send(ev protocol.ClientEvent) error {
	if c.closed.Load() {
		return channel.ErrClosed
	}
	data, err := protocol.EncodeClientEvent(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.closed.Load() {
			return channel.ErrClosed
		}
		return fmt.Errorf("write %s event: %w", ev.EventType(), err)
	}
	return nil
}

func (c *wsChannel) Receive() (protocol.ServerEvent, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil, channel.ErrClosed
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, channel.ErrClosed
			}
			return nil, fmt.Errorf("read event: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.DecodeServerEvent(data)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue // unknown tag, skip
		}
		return ev, nil
	}
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}
