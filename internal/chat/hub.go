package chat

import (
	"fmt"
	"log"

	"signet/internal/hashing"
)

// Event is one fanout unit: a pre-serialized frame bound for every
// subscriber of a room.
type Event struct {
	Room  string
	Frame []byte
}

// Hub fans events out to room subscribers. Rooms are pinned to shards by a
// consistent-hash ring, and each shard is a single goroutine, so events for
// one room are always delivered in the order they were enqueued.
type Hub struct {
	shards map[string]*shard
	ring   *hashing.Ring
	Quit   chan struct{}
}

type shard struct {
	name       string
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	quit       chan struct{}
}

func NewHub(shardCount int) *Hub {
	if shardCount <= 0 {
		shardCount = 4
	}
	log.Printf("[HUB] Initializing hub with %d shards...", shardCount)

	h := &Hub{
		shards: make(map[string]*shard, shardCount),
		ring:   hashing.NewRing(16),
		Quit:   make(chan struct{}),
	}
	for i := 0; i < shardCount; i++ {
		name := fmt.Sprintf("shard-%d", i)
		h.shards[name] = &shard{
			name:       name,
			rooms:      make(map[string]map[*Client]bool),
			register:   make(chan *Client),
			unregister: make(chan *Client),
			broadcast:  make(chan *Event, 256),
			quit:       make(chan struct{}),
		}
		h.ring.Add(name)
	}
	return h
}

func (h *Hub) shardFor(room string) *shard {
	return h.shards[h.ring.Get(room)]
}

// Register adds c to its room's subscriber set. It returns once the owning
// shard has picked the client up, so events broadcast afterwards reach it.
// A client arriving during shutdown is closed instead.
func (h *Hub) Register(c *Client) {
	select {
	case h.shardFor(c.Room).register <- c:
	case <-h.Quit:
		c.close()
	}
}

// Unregister removes c from its room's subscriber set. During shutdown the
// shard's own quit path closes every registered client; closing here as well
// could race a shard still draining a pending broadcast into c.Send.
func (h *Hub) Unregister(c *Client) {
	s := h.shardFor(c.Room)
	select {
	case s.unregister <- c:
	case <-h.Quit:
	}
}

// Broadcast enqueues frame for every subscriber of room. The send blocks
// when the shard's queue is full rather than dropping, so enqueue order is
// delivery order.
func (h *Hub) Broadcast(room string, frame []byte) {
	select {
	case h.shardFor(room).broadcast <- &Event{Room: room, Frame: frame}:
	case <-h.Quit:
	}
}

// Run starts the shard loops and blocks until Quit is closed.
func (h *Hub) Run() {
	log.Println("[HUB] Main loop started. Listening for events...")
	for _, s := range h.shards {
		go s.run()
	}

	<-h.Quit
	log.Println("[HUB] Quit signal received. Shutting down all shards...")
	for _, s := range h.shards {
		close(s.quit)
	}
}

func (s *shard) run() {
	for {
		select {
		case <-s.quit:
			log.Printf("[HUB] %s shutting down. Closing client connections...", s.name)
			for _, clients := range s.rooms {
				for c := range clients {
					s.cleanupClient(c)
				}
			}
			return

		case client := <-s.register:
			clients, ok := s.rooms[client.Room]
			if !ok {
				clients = make(map[*Client]bool)
				s.rooms[client.Room] = clients
			}
			clients[client] = true
			log.Printf("[HUB] %s: subscriber joined room %s (room total: %d)", s.name, client.Room, len(clients))

		case client := <-s.unregister:
			if clients, ok := s.rooms[client.Room]; ok && clients[client] {
				s.cleanupClient(client)
				log.Printf("[HUB] %s: subscriber left room %s (room total: %d)", s.name, client.Room, len(s.rooms[client.Room]))
			}

		case ev := <-s.broadcast:
			for client := range s.rooms[ev.Room] {
				select {
				case client.Send <- ev.Frame:
				default:
					log.Printf("[HUB] WARNING: subscriber buffer full in room %s. Evicting slow consumer.", ev.Room)
					go func(c *Client) {
						select {
						case s.unregister <- c:
						case <-s.quit:
						}
					}(client)
				}
			}
		}
	}
}

// cleanupClient removes c from the shard's room map and releases the
// connection. Only the shard goroutine calls this, so close(c.Send) cannot
// race a send.
func (s *shard) cleanupClient(c *Client) {
	if clients, ok := s.rooms[c.Room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(s.rooms, c.Room)
		}
	}
	c.close()
}
