package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeckert/stiebelgw/infra/logger"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransportOpenSendReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverReceived := make(chan []byte, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "MyStiebelApp", r.Header.Get("X-SC-ClientApp-Name"))
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"result":true}`)))
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			serverReceived <- msg
		}
	}))
	defer srv.Close()

	tr := New(wsURL(srv), logger.NopLogger{})
	frames := make(chan []byte, 10)
	err := tr.Open(context.Background(), "test-token",
		func(b []byte) { frames <- b },
		func(error) {})
	require.NoError(t, err)
	defer tr.Close()

	select {
	case frame := <-frames:
		assert.JSONEq(t, `{"id":1,"result":true}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	require.NoError(t, tr.Send([]byte(`{"id":1,"method":"Login"}`)))
	select {
	case msg := <-serverReceived:
		assert.JSONEq(t, `{"id":1,"method":"Login"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestTransportServerDropInvokesOnClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c.Close()
	}))
	defer srv.Close()

	tr := New(wsURL(srv), logger.NopLogger{})
	closed := make(chan error, 1)
	require.NoError(t, tr.Open(context.Background(), "tok",
		func([]byte) {},
		func(err error) { closed <- err }))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("onClose never fired")
	}
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrClosed)
}

func TestTransportExplicitCloseSuppressesOnClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := New(wsURL(srv), logger.NopLogger{})
	closed := make(chan error, 1)
	require.NoError(t, tr.Open(context.Background(), "tok",
		func([]byte) {},
		func(err error) { closed <- err }))

	require.NoError(t, tr.Close())
	select {
	case err := <-closed:
		t.Fatalf("onClose fired after explicit close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestTransportDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := New(wsURL(srv), logger.NopLogger{})
	err := tr.Open(context.Background(), "bad", func([]byte) {}, func(error) {})
	assert.Error(t, err)
}
