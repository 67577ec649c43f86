// Package liveserver streams engine events to websocket subscribers
package liveserver

import (
	"context"
	"sync"
)

const (
	clientBuffer  = 256
	DefaultReplay = 100
)

// Client is one subscriber's outbound queue
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

func NewClient(id string) *Client {
	return &Client{
		id:   id,
		send: make(chan Message, clientBuffer),
	}
}

// Send queues msg without blocking; false means the client is closed or too slow
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Messages is the channel the write pump drains
func (c *Client) Messages() <-chan Message {
	return c.send
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Logger is the subset of core.ILogger the stream needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Hub fans messages out to every registered client. New clients first receive
// the most recent messages so a reconnecting dashboard can catch up.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     Logger

	seq       uint64
	replay    []Message
	replayCap int
	dropped   uint64
}

// NewHub creates a hub that replays up to replay messages to new clients
func NewHub(logger Logger, replay int) *Hub {
	if replay < 0 {
		replay = 0
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, clientBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		replayCap:  replay,
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			backlog := append([]Message(nil), h.replay...)
			total := len(h.clients)
			h.mu.Unlock()
			for _, msg := range backlog {
				if !client.Send(msg) {
					break
				}
			}
			h.info("Subscriber registered", "client_id", client.id, "total_clients", total, "replayed", len(backlog))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.Lock()
			h.seq++
			msg.Seq = h.seq
			if h.replayCap > 0 {
				h.replay = append(h.replay, msg)
				if len(h.replay) > h.replayCap {
					h.replay = h.replay[len(h.replay)-h.replayCap:]
				}
			}
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.Unlock()

			for _, client := range clients {
				if !client.Send(msg) {
					// Slow subscribers are dropped rather than stalling the engine
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.info("Subscriber unregistered", "client_id", client.id, "total_clients", total)
	}
}

// Register adds client; after the hub stops the client is closed instead
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues msg for every client; it never blocks the caller
func (h *Hub) Broadcast(msg Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		if h.logger != nil {
			h.logger.Warn("Stream backlog full, dropping message", "type", msg.Type)
		}
		return false
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts broadcasts rejected because the hub queue was full
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func (h *Hub) info(msg string, kv ...interface{}) {
	if h.logger != nil {
		h.logger.Info(msg, kv...)
	}
}
