// Package realtime relays reservation events to WebSocket subscribers.
// Delivery is best effort: a client that cannot keep up is disconnected
// and must re-fetch state after reconnecting.
package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/iliyamo/table-reservation/internal/metrics"
	"github.com/iliyamo/table-reservation/internal/notify"
)

// ErrHubStopped is returned by Publish once Run has returned.
var ErrHubStopped = errors.New("realtime: hub stopped")

type membership struct {
	client *Client
	topic  notify.Topic
	join   bool
}

type delivery struct {
	topic notify.Topic
	data  []byte
}

// Hub tracks which clients are subscribed to which topics.  All room
// state is owned by the Run goroutine; other goroutines talk to it over
// channels.
type Hub struct {
	rooms   map[notify.Topic]map[*Client]bool
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	membership chan membership
	broadcast  chan delivery
	done       chan struct{}

	metrics *metrics.Metrics
}

// NewHub returns a hub; call Run to start it.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:      make(map[notify.Topic]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		membership: make(chan membership),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Run processes hub traffic until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
			h.metrics.ClientConnected()
		case c := <-h.unregister:
			h.drop(c)
		case m := <-h.membership:
			if !h.clients[m.client] {
				continue
			}
			if m.join {
				if h.rooms[m.topic] == nil {
					h.rooms[m.topic] = make(map[*Client]bool)
				}
				h.rooms[m.topic][m.client] = true
				m.client.topics[m.topic] = true
			} else {
				h.leave(m.client, m.topic)
			}
		case d := <-h.broadcast:
			for c := range h.rooms[d.topic] {
				select {
				case c.send <- d.data:
				default:
					// too slow to keep up
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) leave(c *Client, topic notify.Topic) {
	delete(c.topics, topic)
	if room := h.rooms[topic]; room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
}

func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	for topic := range c.topics {
		h.leave(c, topic)
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.ClientDisconnected()
}

func (h *Hub) send(ctx context.Context, ch chan<- *Client, c *Client) {
	select {
	case ch <- c:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Register adds a client with no subscriptions.
func (h *Hub) Register(ctx context.Context, c *Client) { h.send(ctx, h.register, c) }

// Unregister removes a client from every room and closes its send queue.
func (h *Hub) Unregister(ctx context.Context, c *Client) { h.send(ctx, h.unregister, c) }

// Join subscribes c to topic.  Authorization is the caller's job; see
// Client.CanJoin.
func (h *Hub) Join(ctx context.Context, c *Client, topic notify.Topic) {
	h.changeMembership(ctx, membership{client: c, topic: topic, join: true})
}

// Leave unsubscribes c from topic.
func (h *Hub) Leave(ctx context.Context, c *Client, topic notify.Topic) {
	h.changeMembership(ctx, membership{client: c, topic: topic})
}

func (h *Hub) changeMembership(ctx context.Context, m membership) {
	select {
	case h.membership <- m:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Publish implements notify.Publisher for subscribers of this process.
func (h *Hub) Publish(ctx context.Context, topic notify.Topic, event string, payload any) error {
	env, err := notify.NewEnvelope(topic, event, payload)
	if err != nil {
		return err
	}
	return h.Deliver(ctx, env)
}

// Deliver fans a ready-made envelope out to the subscribers of its topic.
func (h *Hub) Deliver(ctx context.Context, env notify.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- delivery{topic: env.Topic, data: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
