package ws

import (
	"errors"
	"sync"
)

// ErrHubClosed is returned by hub operations after Close.
var ErrHubClosed = errors.New("hub closed")

// Subscriber abstracts a streaming client. Send must not block; it queues the payload or
// fails, and a failed subscriber is dropped from every room.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by room. All membership changes and deliveries run on
// one goroutine, so a subscriber sees payloads in the order they were broadcast and a join
// acknowledgement before any later broadcast.
type Hub struct {
	rooms       map[string]map[Subscriber]struct{}
	memberships map[Subscriber]map[string]struct{}
	join        chan joinRequest
	disconnect  chan Subscriber
	broadcast   chan message
	count       chan countRequest
	done        chan struct{}
	closeOnce   sync.Once
}

// message couples payload with room name.
type message struct {
	room    string
	payload []byte
}

type joinRequest struct {
	room   string
	client Subscriber
	ack    []byte
}

type countRequest struct {
	room  string
	reply chan int
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		rooms:       make(map[string]map[Subscriber]struct{}),
		memberships: make(map[Subscriber]map[string]struct{}),
		join:        make(chan joinRequest),
		disconnect:  make(chan Subscriber),
		broadcast:   make(chan message),
		count:       make(chan countRequest),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case req := <-h.join:
			if _, ok := h.rooms[req.room]; !ok {
				h.rooms[req.room] = make(map[Subscriber]struct{})
			}
			h.rooms[req.room][req.client] = struct{}{}
			if _, ok := h.memberships[req.client]; !ok {
				h.memberships[req.client] = make(map[string]struct{})
			}
			h.memberships[req.client][req.room] = struct{}{}
			if req.ack != nil {
				if err := req.client.Send(req.ack); err != nil {
					h.drop(req.client)
				}
			}
		case client := <-h.disconnect:
			h.remove(client)
		case msg := <-h.broadcast:
			for c := range h.rooms[msg.room] {
				if err := c.Send(msg.payload); err != nil {
					h.drop(c)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.rooms[req.room])
		}
	}
}

// remove deletes client from every room it joined.
func (h *Hub) remove(client Subscriber) {
	for room := range h.memberships[client] {
		if clients, ok := h.rooms[room]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.memberships, client)
}

func (h *Hub) drop(client Subscriber) {
	h.remove(client)
	client.Close()
}

// Join adds client to room and queues ack to that client only. Joining a room twice is a
// no-op apart from the repeated acknowledgement.
func (h *Hub) Join(room string, client Subscriber, ack []byte) error {
	select {
	case h.join <- joinRequest{room: room, client: client, ack: ack}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Disconnect removes client from every room.
func (h *Hub) Disconnect(client Subscriber) {
	select {
	case h.disconnect <- client:
	case <-h.done:
	}
}

// Broadcast sends payload to every client currently in room.
func (h *Hub) Broadcast(room string, payload []byte) error {
	select {
	case h.broadcast <- message{room: room, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Members reports how many clients are in room.
func (h *Hub) Members(room string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{room: room, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
