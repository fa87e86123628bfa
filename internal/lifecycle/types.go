package lifecycle

import (
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/printer"
	"qms/frontdesk-service/internal/store"
)

type IssueInput struct {
	RequestID string
}

type IssueResult struct {
	Ticket     models.Ticket
	CountToday int64
	Printed    bool
	Warning    string
	// Replayed is set when RequestID matched an earlier issuance; no slip is printed.
	Replayed bool
}

type RegisterInput struct {
	Number     string
	Name       string
	NationalID string
	BirthDate  string
	Phone      string
}

type RegisterResult struct {
	Ticket  models.TicketDetail
	Printed bool
	Warning string
}

type TriageInput struct {
	Number    string
	Vitals    models.Vitals
	Symptoms  string
	RiskLevel string
}

type ConsultInput struct {
	Number        string
	Anamnesis     string
	PhysicalExam  string
	Diagnosis     string
	Prescription  string
	ProgressNotes string
}

type ReprintResult struct {
	Number  string
	Kind    printer.Kind
	Printed bool
	Warning string
}

type History struct {
	Number     string              `json:"number"`
	ChainValid bool                `json:"chain_valid"`
	Status     models.Status       `json:"replayed_status,omitempty"`
	Events     []store.TicketEvent `json:"events"`
}

// Publisher receives every committed ticket change, e.g. the waiting-room board.
// Publish must not block.
type Publisher interface {
	Publish(summary models.TicketSummary)
}
