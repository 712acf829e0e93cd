package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans host outcome events out to subscribers, keyed by domain.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	domain  string
	payload []byte
}

type subscription struct {
	domain string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.domain]; !ok {
				h.clients[sub.domain] = make(map[Subscriber]struct{})
			}
			h.clients[sub.domain][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.domain]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.domain)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.domain]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.domain)
				}
			}
		}
	}
}

// Register adds a client to a domain stream.
func (h *Hub) Register(domain string, client Subscriber) {
	h.register <- subscription{domain: domain, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(domain string, client Subscriber) {
	h.unreg <- subscription{domain: domain, client: client}
}

// Broadcast sends payload to all clients watching the domain.
func (h *Hub) Broadcast(domain string, payload []byte) {
	h.broadcast <- message{domain: domain, payload: payload}
}
