package models

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusRegistered Status = "registered"
	StatusTriaged    Status = "triaged"
	StatusSeen       Status = "seen"
)

var statusOrder = []Status{StatusPending, StatusRegistered, StatusTriaged, StatusSeen}

// Rank is the position of the status in the intake workflow, or -1 when unknown.
func (s Status) Rank() int {
	for i, status := range statusOrder {
		if status == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

func ParseStatus(raw string) (Status, bool) {
	status := Status(raw)
	return status, status.Valid()
}

type Ticket struct {
	TicketID   string    `json:"ticket_id"`
	Number     string    `json:"number"`
	ServiceDay string    `json:"service_day"`
	Status     Status    `json:"status"`
	IssuedAt   time.Time `json:"issued_at"`
	RequestID  string    `json:"request_id,omitempty"`
}
