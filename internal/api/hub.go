package api

import (
	"context"
	"encoding/json"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
)

// PushEvent is the envelope every websocket subscriber receives.
type PushEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans push events out to websocket clients. Subscribers may join and
// leave at any time; a client that cannot keep up is dropped so the hub
// never blocks the producers.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until the context ends.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client; disconnect to keep the hub moving.
					logs.Infof("dropping slow websocket client %d", c.id)
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// add hands a client to the run loop. Returns false once the hub has
// stopped, so late websocket upgrades never block.
func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// remove detaches a client, tolerating a hub that already stopped.
func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues one event for every connected client. Events are dropped
// when the hub's queue is full rather than blocking the caller.
func (h *Hub) Broadcast(event PushEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logs.Errorf("marshal push event: %+v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// Pump forwards tick, candle and alert streams into the hub until the
// context ends.
func (h *Hub) Pump(
	ctx context.Context,
	ticks *bus.Subscriber[model.Tick],
	candles *bus.Subscriber[model.Candle],
	alerts *bus.Subscriber[model.Alert],
) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks.C():
			if !ok {
				return
			}
			h.Broadcast(PushEvent{Type: "tick", Data: tick})
		case candle, ok := <-candles.C():
			if !ok {
				return
			}
			h.Broadcast(PushEvent{Type: "candle", Data: candle})
		case alert, ok := <-alerts.C():
			if !ok {
				return
			}
			h.Broadcast(PushEvent{Type: "alert", Data: alert})
		}
	}
}
