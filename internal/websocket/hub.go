package websocket

import (
	"log"
	"sync"

	"github.com/dom/genstudio/internal/domain"
	"github.com/google/uuid"
)

// Hub fans server events out to every open connection of the owning user.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	publish    chan *delivery
	stop       chan struct{}
	done       chan struct{} // closed when Run() exits
	stopOnce   sync.Once
	mu         sync.RWMutex
}

type delivery struct {
	userID uuid.UUID
	msg    *Message
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan *delivery, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					client.Close()
				}
			}
			h.clients = make(map[uuid.UUID]map[*Client]struct{})
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.userID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					client.Close()
				}
				if len(set) == 0 {
					delete(h.clients, client.userID)
				}
			}
			h.mu.Unlock()

		case d := <-h.publish:
			h.mu.RLock()
			for client := range h.clients[d.userID] {
				client.Send(d.msg)
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the hub down and closes every client. It blocks until Run exits.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister is safe to call after the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues msg for every connection of userID. It never blocks: messages
// published after Stop or while the queue is full are dropped.
func (h *Hub) Publish(userID uuid.UUID, msg *Message) {
	select {
	case h.publish <- &delivery{userID: userID, msg: msg}:
	case <-h.done:
	default:
		log.Printf("WARN [websocket.Publish] queue full, dropping %s for %s", msg.Type, userID)
	}
}

// ConnectionCount returns the number of open connections for userID.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// GenerationCreated pushes the new record and a history invalidation to the
// owner's connections.
func (h *Hub) GenerationCreated(ownerID uuid.UUID, generation *domain.Generation) {
	created, err := NewMessage(MessageTypeGenerationCreated, GenerationCreatedPayload{Generation: generation})
	if err != nil {
		log.Printf("ERROR [websocket.GenerationCreated] marshal payload: %v", err)
		return
	}
	h.Publish(ownerID, created)

	invalidated, err := NewMessage(MessageTypeHistoryInvalidated, HistoryInvalidatedPayload{Reason: "generation-created"})
	if err != nil {
		log.Printf("ERROR [websocket.GenerationCreated] marshal payload: %v", err)
		return
	}
	h.Publish(ownerID, invalidated)
}
