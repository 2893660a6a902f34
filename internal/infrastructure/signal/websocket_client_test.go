package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/pkg/circuitbreaker"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer is a minimal rendezvous server handing every accepted
// connection to the test.
type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept a connection")
		return nil
	}
}

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig(url)
	cfg.ReconnectAttempts = 3
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.DialTimeout = time.Second
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func newConnectedClient(t *testing.T, ts *testServer) (*WebSocketClient, *websocket.Conn) {
	t.Helper()

	client := NewWebSocketClient(testClientConfig(ts.wsURL()), nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect() })
	return client, ts.accept(t)
}

type recorder struct {
	mu       sync.Mutex
	messages []domain.Message
	got      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) handle(msg domain.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func (r *recorder) all() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.messages...)
}

func TestWebSocketClient_ConnectIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	client, _ := newConnectedClient(t, ts)

	assert.True(t, client.IsConnected())
	require.NoError(t, client.Connect(context.Background()))

	select {
	case <-ts.conns:
		t.Fatal("second Connect dialed again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketClient_SendWritesEnvelope(t *testing.T) {
	ts := newTestServer(t)
	client, server := newConnectedClient(t, ts)

	err := client.Send(context.Background(), domain.JoinStream{StreamID: "s1", UserID: "u1", UserName: "Ann"})
	require.NoError(t, err)

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := server.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join-stream","data":{"streamId":"s1","userId":"u1","userName":"Ann"}}`, string(frame))
}

func TestWebSocketClient_SendWhenDisconnected(t *testing.T) {
	client := NewWebSocketClient(DefaultClientConfig("ws://127.0.0.1:1/ws"), nil)

	err := client.Send(context.Background(), domain.StreamLike{StreamID: "s1"})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestWebSocketClient_DeliversDecodedMessagesAndSkipsUnknown(t *testing.T) {
	ts := newTestServer(t)
	client, server := newConnectedClient(t, ts)

	rec := newRecorder()
	client.Subscribe(rec.handle)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"gift-sent","data":{}}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"stream-ready","data":{"broadcaster":"b1"}}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"stream-ended"}`)))

	rec.wait(t)
	rec.wait(t)
	assert.Equal(t, []domain.Message{domain.StreamReady{Broadcaster: "b1"}, domain.StreamEnded{}}, rec.all())
	assert.True(t, client.IsConnected())
}

func TestWebSocketClient_UnsubscribeStopsDelivery(t *testing.T) {
	ts := newTestServer(t)
	client, server := newConnectedClient(t, ts)

	dropped := newRecorder()
	kept := newRecorder()
	unsubscribe := client.Subscribe(dropped.handle)
	client.Subscribe(kept.handle)
	unsubscribe()
	unsubscribe()

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"stream-ready","data":{"broadcaster":"b1"}}`)))
	kept.wait(t)
	assert.Empty(t, dropped.all())
}

func TestWebSocketClient_HandlerMayUnsubscribeItself(t *testing.T) {
	ts := newTestServer(t)
	client, server := newConnectedClient(t, ts)

	rec := newRecorder()
	var unsubscribe func()
	unsubscribe = client.Subscribe(func(msg domain.Message) {
		unsubscribe()
		rec.handle(msg)
	})

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"stream-ended"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"stream-ended"}`)))
	rec.wait(t)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestWebSocketClient_ReconnectsAfterServerDrop(t *testing.T) {
	ts := newTestServer(t)
	client, server := newConnectedClient(t, ts)

	changes := make(chan bool, 4)
	client.OnConnectionChange(func(connected bool) { changes <- connected })

	server.Close()

	expect := func(want bool) {
		t.Helper()
		select {
		case got := <-changes:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("no connection change to %v", want)
		}
	}
	expect(false)
	expect(true)

	replacement := ts.accept(t)
	assert.True(t, client.IsConnected())

	require.NoError(t, client.Send(context.Background(), domain.StreamLike{StreamID: "s1", UserID: "u1"}))
	replacement.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := replacement.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"stream-like"`)
}

func TestWebSocketClient_DisconnectStopsReconnect(t *testing.T) {
	ts := newTestServer(t)
	client, _ := newConnectedClient(t, ts)

	require.NoError(t, client.Disconnect())
	require.NoError(t, client.Disconnect())
	assert.False(t, client.IsConnected())

	select {
	case <-ts.conns:
		t.Fatal("client reconnected after Disconnect")
	case <-time.After(100 * time.Millisecond):
	}

	err := client.Send(context.Background(), domain.StreamLike{StreamID: "s1"})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestWebSocketClient_FinishedReconnectKeepsNewerLoopCancellable(t *testing.T) {
	ts := newTestServer(t)
	client, _ := newConnectedClient(t, ts)

	// A connection dropped again right after a successful re-dial has started
	// a newer loop before the older one finished.
	newer, cancelNewer := context.WithCancel(context.Background())
	defer cancelNewer()
	client.mu.Lock()
	client.reconnectGen += 2
	client.cancelReconnect = cancelNewer
	stale := client.reconnectGen - 1
	client.mu.Unlock()

	older, cancelOlder := context.WithCancel(context.Background())
	client.reconnect(older, cancelOlder, stale)

	client.mu.Lock()
	assert.NotNil(t, client.cancelReconnect)
	client.mu.Unlock()

	require.NoError(t, client.Disconnect())
	assert.ErrorIs(t, newer.Err(), context.Canceled)
}

func TestWebSocketClient_ConnectFailure(t *testing.T) {
	ts := newTestServer(t)
	url := ts.wsURL()
	ts.Close()

	client := NewWebSocketClient(testClientConfig(url), nil)
	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.False(t, client.IsConnected())
}

func TestWebSocketClient_BreakerFailsFastAfterRepeatedDialErrors(t *testing.T) {
	ts := newTestServer(t)
	url := ts.wsURL()
	ts.Close()

	cfg := testClientConfig(url)
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = time.Hour
	client := NewWebSocketClient(cfg, nil)

	for i := 0; i < 2; i++ {
		err := client.Connect(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}
