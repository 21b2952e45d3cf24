// Package ws provides the websocket transport for the realtime session,
// authenticated via bearer headers on the handshake.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbeckert/stiebelgw/auth"
	"github.com/mbeckert/stiebelgw/core/logger"
)

// DefaultURL is the production realtime endpoint.
const DefaultURL = "wss://serviceapi.mystiebel.com/ws/v1"

const (
	heartbeatInterval = 30 * time.Second
	pongWait          = heartbeatInterval + 15*time.Second
	writeWait         = 10 * time.Second
)

// ErrClosed is returned by Send while no connection is open.
var ErrClosed = errors.New("ws: transport not open")

// Transport implements session.Transport over a websocket connection. One
// Open corresponds to one connection; frames are delivered from a single
// read pump goroutine and a ping loop keeps the connection alive.
type Transport struct {
	url    string
	log    logger.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// New creates a transport for the given endpoint URL.
func New(url string, log logger.Logger) *Transport {
	if url == "" {
		url = DefaultURL
	}
	return &Transport{
		url:    url,
		log:    log,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
}

// Open dials the endpoint with the bearer token and the client app identity
// headers, then starts the read pump. onClose fires once if the connection
// drops for any reason other than an explicit Close.
func (t *Transport) Open(ctx context.Context, token string, onFrame func([]byte), onClose func(error)) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-SC-ClientApp-Name", auth.AppName)
	header.Set("X-SC-ClientApp-Version", auth.AppVersion)
	header.Set("User-Agent", auth.UserAgent)

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("ws: dial %s: status %d: %w", t.url, resp.StatusCode, err)
		}
		return fmt.Errorf("ws: dial %s: %w", t.url, err)
	}

	done := make(chan struct{})
	t.mu.Lock()
	if t.conn != nil {
		// A previous connection was never closed; drop it silently.
		t.closeLocked()
	}
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.readPump(conn, done, onFrame, onClose)
	go t.pingLoop(conn, done)
	return nil
}

// Send writes one text frame. Safe for concurrent use.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrClosed
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the current connection down without invoking onClose. Safe to
// call when no connection is open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *Transport) closeLocked() {
	if t.conn == nil {
		return
	}
	close(t.done)
	t.conn.Close() //nolint:errcheck
	t.conn = nil
	t.done = nil
}

func (t *Transport) readPump(conn *websocket.Conn, done chan struct{}, onFrame func([]byte), onClose func(error)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Detach this connection if it is still the current one. The
			// done channel doubles as the explicit-close marker; it is
			// only ever closed under t.mu.
			t.mu.Lock()
			explicit := false
			select {
			case <-done:
				explicit = true
			default:
				close(done)
			}
			if t.conn == conn {
				t.conn = nil
				t.done = nil
			}
			t.mu.Unlock()

			conn.Close() //nolint:errcheck
			if !explicit {
				onClose(err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		onFrame(data)
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				t.log.Debugf("ping: %v", err)
				return
			}
		}
	}
}
