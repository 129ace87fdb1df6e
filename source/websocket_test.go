package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketFromHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	type result struct {
		sink *recordingSink
		done chan error
	}
	start := func(channels ...int) result {
		r := result{sink: newRecordingSink(), done: make(chan error, 1)}
		ws := NewWebSocket(wsURL(server), channels...)
		go func() { r.done <- ws.Run(ctx, r.sink) }()
		return r
	}
	all := start()
	only := start(1)
	waitFor(t, "subscriptions", func() bool { return hub.Subscribers() == 2 })

	hub.Publish([][]float64{{1, 2}, {3}, {4, 5, 6}})
	waitFor(t, "the full block", func() bool { return len(all.sink.samples(2)) == 3 })
	waitFor(t, "the filtered channel", func() bool { return len(only.sink.samples(1)) == 1 })
	if got := all.sink.samples(0); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("unexpected channel 0 samples %v", got)
	}
	if n := len(only.sink.samples(0)) + len(only.sink.samples(2)); n != 0 {
		t.Errorf("expected only channel 1 for the filtered client, got %d other samples", n)
	}

	cancel()
	for _, r := range []result{all, only} {
		if err := <-r.done; err != nil {
			t.Errorf("expected a clean stop, got %v", err)
		}
		if r.sink.connected {
			t.Errorf("expected the sink to be disconnected after stopping")
		}
	}
}

func TestWebSocketBadFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub Subscribe
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != subscribeType || sub.Client == "" {
			t.Errorf("expected a subscription with a client id, got %+v (%v)", sub, err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("not json\n{\"channel\":0,\"samples\":[7]}\n{}"))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	sink := newRecordingSink()
	if err := NewWebSocket(wsURL(server)).Run(context.Background(), sink); err != nil {
		t.Errorf("expected a normal close to end cleanly, got %v", err)
	}
	if got := sink.dropCount(); got != 2 {
		t.Errorf("expected 2 dropped frames, got %d", got)
	}
	if got := sink.samples(0); len(got) != 1 || got[0] != 7 {
		t.Errorf("expected the valid frame to be applied, got %v", got)
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	sink := newRecordingSink()
	if err := NewWebSocket(wsURL(server)).Run(context.Background(), sink); err == nil {
		t.Errorf("expected a dial error")
	}
	if sink.everUp {
		t.Errorf("sink should never be marked connected")
	}
}
