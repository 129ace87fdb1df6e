package source

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Recorders run on trusted lab networks.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1 << 16,
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	mu         sync.RWMutex
	subscribed bool
	id         string
	channels   []int
}

// Hub serves sample blocks to websocket clients, each filtered by the
// channels the client subscribed to.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run tracks client connections until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("client connected, total: %d", n)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("client disconnected, total: %d", n)
		}
	}
}

// Subscribers returns the number of clients that have sent a subscription.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n int
	for c := range h.clients {
		c.mu.RLock()
		if c.subscribed {
			n++
		}
		c.mu.RUnlock()
	}
	return n
}

// Publish encodes block for every subscribed client. Clients whose send
// queue is full miss the block. block is not retained.
func (h *Hub) Publish(block [][]float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		msg := c.message(block)
		if msg == nil {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (c *client) message(block [][]float64) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.subscribed {
		return nil
	}
	if len(c.channels) == 0 {
		data, err := json.Marshal(BlockFrame(block))
		if err != nil {
			log.Printf("failed encoding block: %v", err)
			return nil
		}
		return data
	}
	var out []byte
	for _, ch := range c.channels {
		if ch < 0 || ch >= len(block) || len(block[ch]) == 0 {
			continue
		}
		data, err := json.Marshal(ChannelFrame(ch, block[ch]))
		if err != nil {
			log.Printf("failed encoding channel %d: %v", ch, err)
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, data...)
	}
	return out
}

// HandleWebSocket upgrades the request and serves the new client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("failed upgrading websocket: %v", err)
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			return
		}
		var sub Subscribe
		if err := json.Unmarshal(message, &sub); err != nil || sub.Type != subscribeType {
			continue
		}
		c.mu.Lock()
		c.subscribed = true
		c.id = sub.Client
		c.channels = sub.Channels
		c.mu.Unlock()
		log.Printf("client %s subscribed to %d channels", sub.Client, len(sub.Channels))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			// Coalesce anything queued behind this message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
