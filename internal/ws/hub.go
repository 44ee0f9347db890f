package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/splax/creditledger/internal/domain"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans settlement events out to the websocket clients of each account.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	stopOnce  sync.Once
	log       *slog.Logger
}

type message struct {
	accountID string
	payload   []byte
}

type countRequest struct {
	accountID string
	reply     chan int
}

type subscription struct {
	accountID string
	client    Subscriber
}

const broadcastBuffer = 64

// NewHub creates a Hub and starts its loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
		log:       logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.accountID]; !ok {
				h.clients[sub.accountID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.accountID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.accountID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.accountID)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.accountID])
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.accountID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.accountID)
				}
			}
		}
	}
}

// Register adds a client to an account stream.
func (h *Hub) Register(accountID string, client Subscriber) {
	select {
	case h.register <- subscription{accountID: accountID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(accountID string, client Subscriber) {
	select {
	case h.unreg <- subscription{accountID: accountID, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for every client of accountID. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(accountID string, payload []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message{accountID: accountID, payload: payload}:
		return true
	default:
		h.log.Warn("settlement broadcast dropped", "account_id", accountID)
		return false
	}
}

// Connected reports how many clients are subscribed to accountID.
func (h *Hub) Connected(accountID string) int {
	req := countRequest{accountID: accountID, reply: make(chan int, 1)}
	select {
	case h.count <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// PublishSettlement implements billing.Notifier.
func (h *Hub) PublishSettlement(event domain.SettlementEvent) {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		domain.SettlementEvent
	}{Type: "credits.settled", SettlementEvent: event})
	if err != nil {
		h.log.Error("encode settlement event", "error", err)
		return
	}
	h.Broadcast(event.AccountID, payload)
}

// Close stops the loop and disconnects every client.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.done) })
}
