package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/frontdesk-service/internal/models"
)

const (
	EventTicketIssued     = "ticket.issued"
	EventTicketRegistered = "ticket.registered"
	EventTicketTriaged    = "ticket.triaged"
	EventTicketSeen       = "ticket.seen"
)

var eventForStatus = map[models.Status]string{
	models.StatusPending:    EventTicketIssued,
	models.StatusRegistered: EventTicketRegistered,
	models.StatusTriaged:    EventTicketTriaged,
	models.StatusSeen:       EventTicketSeen,
}

// EventTypeFor names the lifecycle event recorded when a ticket enters status.
func EventTypeFor(status models.Status) string {
	return eventForStatus[status]
}

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID   string        `json:"ticket_id"`
	Number     string        `json:"number"`
	ServiceDay string        `json:"service_day"`
	Status     models.Status `json:"status"`
	IssuedAt   *time.Time    `json:"issued_at,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func EventPayload(ticket models.Ticket, occurredAt time.Time) (json.RawMessage, error) {
	payload := eventPayload{
		TicketID:   ticket.TicketID,
		Number:     ticket.Number,
		ServiceDay: ticket.ServiceDay,
		Status:     ticket.Status,
		OccurredAt: occurredAt.UTC(),
	}
	if ticket.Status == models.StatusPending {
		issuedAt := ticket.IssuedAt.UTC()
		payload.IssuedAt = &issuedAt
	}
	return json.Marshal(payload)
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents checks that events form one unbroken hash chain starting at seq 1.
func VerifyTicketEvents(events []TicketEvent) bool {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 || event.PrevHash != prev {
			return false
		}
		if ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq) != event.Hash {
			return false
		}
		prev = event.Hash
	}
	return true
}

// RehydrateTicket replays events to rebuild the ticket header they describe.
func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.Number != "" {
			ticket.Number = payload.Number
		}
		if payload.ServiceDay != "" {
			ticket.ServiceDay = payload.ServiceDay
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.IssuedAt != nil {
			ticket.IssuedAt = *payload.IssuedAt
		}
	}
	return ticket, nil
}
