package models

import "time"

type Registration struct {
	RegistrationID string     `json:"registration_id"`
	TicketID       string     `json:"ticket_id"`
	Name           string     `json:"name"`
	NationalID     string     `json:"national_id"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Vitals struct {
	BloodPressure string   `json:"blood_pressure,omitempty"`
	Pulse         *int     `json:"pulse,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Saturation    *int     `json:"saturation,omitempty"`
}

type Triage struct {
	TriageID  string    `json:"triage_id"`
	TicketID  string    `json:"ticket_id"`
	Vitals    Vitals    `json:"vitals"`
	Symptoms  string    `json:"symptoms,omitempty"`
	RiskLevel string    `json:"risk_level"`
	CreatedAt time.Time `json:"created_at"`
}

type Consultation struct {
	ConsultationID string    `json:"consultation_id"`
	TicketID       string    `json:"ticket_id"`
	Anamnesis      string    `json:"anamnesis,omitempty"`
	PhysicalExam   string    `json:"physical_exam,omitempty"`
	Diagnosis      string    `json:"diagnosis,omitempty"`
	Prescription   string    `json:"prescription,omitempty"`
	ProgressNotes  string    `json:"progress_notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TicketDetail is a ticket merged with whatever records it owns so far.
type TicketDetail struct {
	Ticket
	Registration *Registration `json:"registration,omitempty"`
	Triage       *Triage       `json:"triage,omitempty"`
	Consultation *Consultation `json:"consultation,omitempty"`
}

type TicketSummary struct {
	Number      string     `json:"number"`
	Status      Status     `json:"status"`
	IssuedAt    time.Time  `json:"issued_at"`
	Name        string     `json:"name,omitempty"`
	NationalID  string     `json:"national_id,omitempty"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	RiskLevel   string     `json:"risk_level,omitempty"`
	TriagedAt   *time.Time `json:"triaged_at,omitempty"`
	Diagnosis   string     `json:"diagnosis,omitempty"`
	ConsultedAt *time.Time `json:"consulted_at,omitempty"`
}

func (d TicketDetail) Summary() TicketSummary {
	summary := TicketSummary{
		Number:   d.Number,
		Status:   d.Status,
		IssuedAt: d.IssuedAt,
	}
	if d.Registration != nil {
		summary.Name = d.Registration.Name
		summary.NationalID = d.Registration.NationalID
		summary.BirthDate = d.Registration.BirthDate
		summary.Phone = d.Registration.Phone
	}
	if d.Triage != nil {
		triagedAt := d.Triage.CreatedAt
		summary.RiskLevel = d.Triage.RiskLevel
		summary.TriagedAt = &triagedAt
	}
	if d.Consultation != nil {
		consultedAt := d.Consultation.CreatedAt
		summary.Diagnosis = d.Consultation.Diagnosis
		summary.ConsultedAt = &consultedAt
	}
	return summary
}
