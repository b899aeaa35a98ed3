package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

type fakeBus struct {
	mu    sync.Mutex
	subs  map[string]chan domain.BusMessage
	ready chan string
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]chan domain.BusMessage), ready: make(chan string, len(busPatterns))}
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(_ context.Context, pattern string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage, 8)
	b.mu.Lock()
	b.subs[pattern] = ch
	b.mu.Unlock()
	b.ready <- pattern
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) push(pattern, channel, payload string) {
	b.mu.Lock()
	ch := b.subs[pattern]
	b.mu.Unlock()
	ch <- domain.BusMessage{Channel: channel, Payload: []byte(payload)}
}

func startHub(t *testing.T) (*fakeBus, *httptest.Server) {
	t.Helper()
	bus := newFakeBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	for range busPatterns {
		select {
		case <-bus.ready:
		case <-time.After(2 * time.Second):
			t.Fatal("hub did not subscribe")
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHub_RoutesUserAndAuctionChannels(t *testing.T) {
	bus, srv := startHub(t)
	conn := dial(t, srv, "user_id=u1&auctions=a1")

	hello := readJSON(t, conn)
	assert.Equal(t, "hello", hello["type"])
	payload := hello["payload"].(map[string]any)
	assert.ElementsMatch(t, []any{"ch:auction:a1", "ch:user:u1"}, payload["channels"])

	bus.push("ch:user:*", "ch:user:u2", `{"kind":"outbid","user_id":"u2"}`)
	bus.push("ch:user:*", "ch:user:u1", `{"kind":"outbid","user_id":"u1"}`)
	assert.Equal(t, "u1", readJSON(t, conn)["user_id"])

	bus.push("ch:auction:*", "ch:auction:a2", `{"kind":"bid_placed","auction_id":"a2"}`)
	bus.push("ch:auction:*", "ch:auction:a1", `{"kind":"bid_placed","auction_id":"a1"}`)
	assert.Equal(t, "a1", readJSON(t, conn)["auction_id"])
}

func TestHub_SubscribeMessageAddsAuction(t *testing.T) {
	bus, srv := startHub(t)
	conn := dial(t, srv, "user_id=u1")
	readJSON(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Auctions: []string{"a9"}}))

	// The subscription is applied asynchronously, so keep pushing until it lands.
	deadline := time.Now().Add(2 * time.Second)
	got := make(chan map[string]any, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			got <- m
		}
	}()
	for time.Now().Before(deadline) {
		bus.push("ch:auction:*", "ch:auction:a9", `{"kind":"auction_extended","auction_id":"a9"}`)
		select {
		case m := <-got:
			assert.Equal(t, "auction_extended", m["kind"])
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("auction event never delivered")
}

func TestHub_ProtoFormat(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv, "user_id=u1&format=proto")

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	assert.Equal(t, "hello", s.Fields["type"].GetStringValue())
	assert.Equal(t, "u1", s.Fields["payload"].GetStructValue().Fields["user_id"].GetStringValue())
}

func TestHub_RejectsMissingUserAndBadFormat(t *testing.T) {
	_, srv := startHub(t)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"user_id=u1&format=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClient_SubscriptionRules(t *testing.T) {
	c := &client{subs: map[string]bool{domain.UserChannel("u1"): true}}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Auctions: []string{"a1", " ", "ch:user:u2"}})
	assert.True(t, c.isSubscribed("ch:auction:a1"))
	assert.False(t, c.isSubscribed("ch:user:u2"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Auctions: []string{"a1"}})
	assert.False(t, c.isSubscribed("ch:auction:a1"))
	assert.True(t, c.isSubscribed("ch:user:u1"))

	c.handleSubscription(subscribeMsg{Action: "explode", Auctions: []string{"a2"}})
	assert.Equal(t, []string{"ch:user:u1"}, c.channels())
}

func TestValidAuctionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{id: "a1", want: true},
		{id: "3f2b6c1e-9a7d-4c1e-8f00-1b2c3d4e5f60", want: true},
		{id: "lot_42", want: true},
		{id: "", want: false},
		{id: "ch:user:u2", want: false},
		{id: "a1*", want: false},
		{id: "a 1", want: false},
		{id: strings.Repeat("a", 65), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, validAuctionID(tt.id))
		})
	}
}

func TestNewClient_QueuesHelloBeforeRegistering(t *testing.T) {
	hub := NewHub(newFakeBus(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	c := hub.newClient(nil, "u1", FormatJSON, []string{"a1", "ch:user:u2"})
	require.Len(t, c.send, 1)

	var hello struct {
		Type    string `json:"type"`
		Payload struct {
			UserID   string   `json:"user_id"`
			Channels []string `json:"channels"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(<-c.send, &hello))
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, "u1", hello.Payload.UserID)
	assert.Equal(t, []string{"ch:auction:a1", "ch:user:u1"}, hello.Payload.Channels)
}

func TestHandleWS_AfterHubStopped(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?user_id=u1", nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestEncodeFrame(t *testing.T) {
	kind, out, err := encodeFrame(FormatJSON, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, `{"a":1}`, string(out))

	_, _, err = encodeFrame(FormatProto, []byte(`not json`))
	assert.Error(t, err)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
	f, err := ParseFormat(" PROTO ")
	require.NoError(t, err)
	assert.Equal(t, FormatProto, f)
}
