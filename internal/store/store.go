package store

import (
	"context"
	"time"

	"qms/frontdesk-service/internal/models"
)

type CreateTicketInput struct {
	RequestID  string
	ServiceDay string
	IssuedAt   time.Time
}

// CreatedTicket carries the new ticket and the count of tickets issued that day,
// including this one.
type CreatedTicket struct {
	Ticket     models.Ticket
	CountToday int64
	Created    bool
}

type RegistrationInput struct {
	ServiceDay string
	Number     string
	Name       string
	NationalID string
	BirthDate  *time.Time
	Phone      string
	OccurredAt time.Time
}

type TriageInput struct {
	ServiceDay string
	Number     string
	Vitals     models.Vitals
	Symptoms   string
	RiskLevel  string
	OccurredAt time.Time
}

type ConsultationInput struct {
	ServiceDay    string
	Number        string
	Anamnesis     string
	PhysicalExam  string
	Diagnosis     string
	Prescription  string
	ProgressNotes string
	OccurredAt    time.Time
}

type ListFilter struct {
	Status       models.Status
	NameContains string
}

type DailyStats struct {
	ServiceDay string                  `json:"service_day"`
	Total      int64                   `json:"total"`
	ByStatus   map[models.Status]int64 `json:"by_status"`
}

// TicketStore persists tickets and their records. Every transition method applies
// the status change and the record insert atomically and only when the ticket is
// in the status the action requires; otherwise it returns ErrTicketNotFound or
// ErrInvalidState and writes nothing. Transitions only see tickets of the input's
// ServiceDay; an empty ServiceDay matches the newest ticket on any day.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (CreatedTicket, error)
	RegisterPatient(ctx context.Context, input RegistrationInput) (models.TicketDetail, error)
	RecordTriage(ctx context.Context, input TriageInput) (models.TicketDetail, error)
	RecordConsultation(ctx context.Context, input ConsultationInput) (models.TicketDetail, error)
	GetTicket(ctx context.Context, number string) (models.TicketDetail, error)
	ListTickets(ctx context.Context, filter ListFilter) ([]models.TicketSummary, error)
	ListTicketEvents(ctx context.Context, number string) ([]TicketEvent, error)
	DailyStats(ctx context.Context, serviceDay string) (DailyStats, error)
}
