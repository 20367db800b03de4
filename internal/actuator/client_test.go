package actuator

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
)

type peer struct {
	server   *httptest.Server
	received chan string
	conns    chan *websocket.Conn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{
		received: make(chan string, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			p.received <- string(msg)
		}
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http")
}

func testOptions() Options {
	return Options{
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
		PingInterval:     20 * time.Millisecond,
	}
}

func TestSendDeliversTextPayloads(t *testing.T) {
	p := newPeer(t)
	c, err := Dial(context.Background(), p.url(), testOptions())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send("100"))
	require.NoError(t, c.Send("50"))

	for _, want := range []string{"100", "50"} {
		select {
		case got := <-p.received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("peer never received %q", want)
		}
	}
	assert.True(t, c.Connected())
}

func TestDialFailsFast(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", testOptions())
	assert.Error(t, err)
}

func TestDialHonorsHandshakeTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	opts := testOptions()
	opts.HandshakeTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), opts)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPeerDropMakesSendFailWithoutReconnect(t *testing.T) {
	p := newPeer(t)
	c, err := Dial(context.Background(), p.url(), testOptions())
	require.NoError(t, err)
	defer c.Close()

	serverConn := <-p.conns
	require.NoError(t, serverConn.Close())

	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Send("100"), ErrNotConnected)
	assert.Error(t, c.Err())
}

func TestCloseIsIdempotent(t *testing.T) {
	p := newPeer(t)
	c, err := Dial(context.Background(), p.url(), testOptions())
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send("50"), ErrNotConnected)
}
