// Package transport dials the Miniserver's remotecontrol websocket and
// exposes a minimal read/write surface the session and dispatcher layers
// build on. It deliberately knows nothing about the Loxone wire format;
// that belongs to internal/protocol.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

// Subprotocol is the websocket subprotocol the Miniserver's remotecontrol
// endpoint requires during the upgrade handshake.
const Subprotocol = "remotecontrol"

// DefaultReadLimit bounds a single incoming message; LoxAPP3 catalog
// downloads are the largest payloads the protocol carries.
const DefaultReadLimit = 32 * 1024 * 1024

// FrameKind mirrors the websocket frame type a message arrived in or should
// be sent as. The Loxone protocol uses this to disambiguate the Binary
// header identifier between file payloads and UTF-8 text.
type FrameKind int

const (
	// FrameText marks a websocket text frame.
	FrameText FrameKind = iota
	// FrameBinary marks a websocket binary frame.
	FrameBinary
)

// DialOptions configures Dial. StrictVerify, when false (the default),
// skips TLS certificate verification — Miniservers commonly serve a
// self-signed certificate over LAN, and the remotecontrol subprotocol's own
// RSA/AES session layer authenticates the peer independently.
type DialOptions struct {
	StrictVerify bool
	Timeout      time.Duration
}

// Conn is a dialed, full-duplex connection to a Miniserver's remotecontrol
// endpoint.
type Conn struct {
	ws     *websocket.Conn
	closed atomic.Bool
}

// Dial opens a websocket connection to rawURL (a ws:// or wss:// Miniserver
// URL) using the remotecontrol subprotocol.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Conn, *http.Response, error) {
	wsURL, err := normalizeURL(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: %w", err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	dialOpts := &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPClient:   buildHTTPClient(opts),
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, dialOpts)
	if err != nil {
		return nil, resp, fmt.Errorf("transport: dial failed: %w", err)
	}
	conn.SetReadLimit(DefaultReadLimit)

	return &Conn{ws: conn}, resp, nil
}

// ReadMessage blocks for the next websocket message and returns its bytes
// and frame kind.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, FrameKind, error) {
	msgType, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: read failed: %w", err)
	}
	if msgType == websocket.MessageText {
		return data, FrameText, nil
	}
	return data, FrameBinary, nil
}

// WriteText sends cmd as a websocket text frame, the form every Loxone
// command (plaintext or pre-encrypted) is sent in.
func (c *Conn) WriteText(ctx context.Context, cmd string) error {
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		return fmt.Errorf("transport: write failed: %w", err)
	}
	return nil
}

// Close closes the connection with a normal closure code.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ws.Close(websocket.StatusNormalClosure, "client closing")
}

func normalizeURL(addr string) (string, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr, nil
	}
	if strings.HasPrefix(addr, "http://") {
		return "ws://" + strings.TrimPrefix(addr, "http://"), nil
	}
	if strings.HasPrefix(addr, "https://") {
		return "wss://" + strings.TrimPrefix(addr, "https://"), nil
	}
	if addr == "" {
		return "", fmt.Errorf("empty miniserver address")
	}
	return "ws://" + addr, nil
}

func buildHTTPClient(opts DialOptions) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !opts.StrictVerify,
			},
		},
		Timeout: opts.Timeout,
	}
}
