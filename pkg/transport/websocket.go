// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// PasswordEnv is checked before prompting for a WebSocket password
const PasswordEnv = "ANNULUS_PASSWORD"

// WebSocketOptions configures a WebSocket bridge dial
type WebSocketOptions struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
	MTU           int
	Logger        *zap.Logger
}

// WebSocketBridge relays the ring through a WebSocket server. Each binary
// message is one notify chunk or one write payload. Text messages of the
// form "state N" report lifecycle changes on the far side.
type WebSocketBridge struct {
	opts WebSocketOptions
	log  *zap.Logger

	wmu     sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler
	closed  bool
}

// NewWebSocketBridge validates options. The connection is made by Start.
func NewWebSocketBridge(opts WebSocketOptions) (*WebSocketBridge, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketBridge{opts: opts, log: log.Named("websocket")}, nil
}

func (w *WebSocketBridge) Describe() string { return "WebSocket: " + w.opts.URL }

func (w *WebSocketBridge) MaxChunkSize() int { return ChunkSize(w.opts.MTU) }

// Start dials the server with HTTP Basic auth and starts the read loop
func (w *WebSocketBridge) Start(ctx context.Context, h Handler) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	h.HandleStateChange(ycbt.StateConnecting)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if strings.HasPrefix(w.opts.URL, "wss:") {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: w.opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if w.opts.Username != "" && w.opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(w.opts.Username + ":" + w.opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, w.opts.URL, headers)
	if err != nil {
		h.HandleStateChange(ycbt.StateNotOpen)
		if resp != nil {
			return fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.handler = h
	w.mu.Unlock()

	w.log.Info("connected", zap.String("url", w.opts.URL))
	bringUp(h)

	go w.readLoop(conn, h)
	go func() {
		<-ctx.Done()
		w.Close()
	}()
	return nil
}

func (w *WebSocketBridge) readLoop(conn *websocket.Conn, h Handler) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if !closed {
				w.log.Warn("read failed", zap.Error(err))
				h.HandleStateChange(ycbt.StateDisconnected)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			h.HandleNotification(data)
		case websocket.TextMessage:
			if state, ok := parseStateMessage(string(data)); ok {
				h.HandleStateChange(state)
			} else {
				w.log.Debug("ignoring text message", zap.String("text", string(data)))
			}
		}
	}
}

// parseStateMessage parses "state N"
func parseStateMessage(s string) (ycbt.ConnectionState, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 || fields[0] != "state" {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	state := ycbt.ConnectionState(n)
	if state < ycbt.StateTimedOut || state > ycbt.StateFullyOperational {
		return 0, false
	}
	return state, true
}

// Write sends one binary message
func (w *WebSocketBridge) Write(p []byte) error {
	w.mu.Lock()
	conn, closed := w.conn, w.closed
	w.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case conn == nil:
		return ErrNotStarted
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, p)
}

func (w *WebSocketBridge) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn, h := w.conn, w.handler
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	h.HandleStateChange(ycbt.StateDisconnecting)
	w.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.wmu.Unlock()
	err := conn.Close()
	h.HandleStateChange(ycbt.StateDisconnected)
	return err
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
