package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket receives frames from a streaming server. It dials once; a lost
// connection ends Run with an error and the sink is marked disconnected.
type WebSocket struct {
	URL string
	// Channels restricts the subscription. Empty subscribes to everything.
	Channels []int
	Dialer   *websocket.Dialer
	id       uuid.UUID
}

func NewWebSocket(url string, channels ...int) *WebSocket {
	return &WebSocket{
		URL:      url,
		Channels: channels,
		Dialer:   websocket.DefaultDialer,
		id:       uuid.New(),
	}
}

// ID identifies this client in its subscription.
func (w *WebSocket) ID() uuid.UUID {
	return w.id
}

func (w *WebSocket) Run(ctx context.Context, sink Sink) error {
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed dialing %q: %w", w.URL, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := conn.WriteJSON(Subscribe{
		Type:     subscribeType,
		Client:   w.id.String(),
		Channels: w.Channels,
	}); err != nil {
		return fmt.Errorf("failed subscribing: %w", err)
	}
	sink.SetConnected(true)
	defer sink.SetConnected(false)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed reading frame: %w", err)
		}
		// Servers may batch several frames into one message, one per line.
		for _, line := range bytes.Split(message, []byte("\n")) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var f Frame
			if err := json.Unmarshal(line, &f); err != nil {
				log.Printf("failed decoding frame: %v", err)
				sink.Drop()
				continue
			}
			f.Apply(sink)
		}
	}
}
