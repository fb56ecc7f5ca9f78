package realtime

import (
	"context"

	"github.com/rs/zerolog"
)

// Hub manages WebSocket clients and routes progress by run id. A run id is
// either an execution id or the id of the task that produced it.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// run id -> set of subscribed clients
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscribeMsg
	broadcast  chan broadcastMsg
	// Closed once Run returns.
	done   chan struct{}
	logger zerolog.Logger
}

type subscribeMsg struct {
	client *Client
	runID  string
}

type broadcastMsg struct {
	runIDs         []string
	organizationID string
	payload        []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan subscribeMsg),
		broadcast:     make(chan broadcastMsg, 256),
		done:          make(chan struct{}),
		logger:        logger,
	}
}

// Run owns all hub state until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			h.clients = map[*Client]bool{}
			h.subscriptions = map[string]map[*Client]bool{}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug().Int("clients", len(h.clients)).Msg("Client registered")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.subscribe:
			if !h.clients[msg.client] {
				continue
			}
			if _, ok := h.subscriptions[msg.runID]; !ok {
				h.subscriptions[msg.runID] = make(map[*Client]bool)
			}
			h.subscriptions[msg.runID][msg.client] = true
			h.deliver(msg.client, subscribedMessage(msg.runID))
			h.logger.Debug().Str("runId", msg.runID).Int("subscribers", len(h.subscriptions[msg.runID])).Msg("Client subscribed")

		case msg := <-h.broadcast:
			seen := map[*Client]bool{}
			for _, runID := range msg.runIDs {
				for client := range h.subscriptions[runID] {
					// Progress never crosses organizations, whatever id a client guessed.
					if seen[client] || client.organizationID != msg.organizationID {
						continue
					}
					seen[client] = true
					h.deliver(client, msg.payload)
				}
			}
		}
	}
}

// send hands a message to the Run loop unless the hub has stopped.
func send[T any](h *Hub, ch chan T, msg T) bool {
	select {
	case ch <- msg:
		return true
	case <-h.done:
		return false
	}
}

// deliver drops clients whose buffer is full.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.logger.Warn().Msg("Client buffer full, disconnecting")
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	for runID, subs := range h.subscriptions {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, runID)
		}
	}
	h.logger.Debug().Int("clients", len(h.clients)).Msg("Client unregistered")
}
