// Package board fans ticket changes out to waiting-room displays.
package board

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qms/frontdesk-service/internal/models"
)

const EventTicketChanged = "ticket.changed"

// Subscription limits a client to the listed statuses; empty means every status.
type Subscription struct {
	Statuses []models.Status
}

func (s Subscription) match(status models.Status) bool {
	if len(s.Statuses) == 0 {
		return true
	}
	for _, want := range s.Statuses {
		if want == status {
			return true
		}
	}
	return false
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
	now     func() time.Time
}

// Message is what displays receive. It carries no patient identifiers.
type Message struct {
	Type   string      `json:"type"`
	Ticket BoardTicket `json:"ticket"`
	SentAt time.Time   `json:"sent_at"`
}

type BoardTicket struct {
	Number    string        `json:"number"`
	Status    models.Status `json:"status"`
	RiskLevel string        `json:"risk_level,omitempty"`
	IssuedAt  time.Time     `json:"issued_at"`
}

type SubscribeMessage struct {
	Action   string   `json:"action"`
	Statuses []string `json:"statuses"`
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger, now: time.Now}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements lifecycle.Publisher.
func (h *Hub) Publish(summary models.TicketSummary) {
	payload, err := json.Marshal(Message{
		Type: EventTicketChanged,
		Ticket: BoardTicket{
			Number:    summary.Number,
			Status:    summary.Status,
			RiskLevel: summary.RiskLevel,
			IssuedAt:  summary.IssuedAt,
		},
		SentAt: h.now().UTC(),
	})
	if err != nil {
		h.logger.Error("board encode failed", "number", summary.Number, "error", err)
		return
	}
	h.Broadcast(payload, summary.Status)
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, status models.Status) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.Subscription.match(status) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop board message", "client", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

// ParseStatuses reads a status list such as "pending,registered", skipping
// unknown values.
func ParseStatuses(values ...string) []models.Status {
	var statuses []models.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if status, ok := models.ParseStatus(strings.ToLower(strings.TrimSpace(part))); ok {
				statuses = append(statuses, status)
			}
		}
	}
	return statuses
}
