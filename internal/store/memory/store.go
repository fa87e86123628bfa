// Package memory keeps tickets in process memory. It backs single-desk
// deployments without a database and the handler and engine tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/sequence"
	"qms/frontdesk-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu        sync.Mutex
	tickets   map[string]*models.TicketDetail
	byNumber  map[string][]string
	byRequest map[string]string
	days      map[string]int64
	events    map[string][]store.TicketEvent
}

func NewStore() *Store {
	return &Store{
		tickets:   map[string]*models.TicketDetail{},
		byNumber:  map[string][]string{},
		byRequest: map[string]string{},
		days:      map[string]int64{},
		events:    map[string][]store.TicketEvent{},
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.CreatedTicket, error) {
	if err := ctx.Err(); err != nil {
		return store.CreatedTicket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if input.RequestID != "" {
		if ticketID, ok := s.byRequest[input.RequestID]; ok {
			existing := s.tickets[ticketID]
			seq, _ := sequence.Parse(existing.Number)
			return store.CreatedTicket{Ticket: existing.Ticket, CountToday: seq, Created: false}, nil
		}
	}

	seq := sequence.Next(s.days[input.ServiceDay])
	number := sequence.Format(seq)
	for _, ticketID := range s.byNumber[number] {
		if s.tickets[ticketID].ServiceDay == input.ServiceDay {
			return store.CreatedTicket{}, store.ErrNumberConflict
		}
	}

	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	ticket := models.Ticket{
		TicketID:   uuid.NewString(),
		Number:     number,
		ServiceDay: input.ServiceDay,
		Status:     models.StatusPending,
		IssuedAt:   issuedAt,
		RequestID:  input.RequestID,
	}
	if err := s.appendEvent(ticket, issuedAt); err != nil {
		return store.CreatedTicket{}, err
	}

	s.tickets[ticket.TicketID] = &models.TicketDetail{Ticket: ticket}
	s.byNumber[number] = append(s.byNumber[number], ticket.TicketID)
	if input.RequestID != "" {
		s.byRequest[input.RequestID] = ticket.TicketID
	}
	s.days[input.ServiceDay] = seq

	return store.CreatedTicket{Ticket: ticket, CountToday: seq, Created: true}, nil
}

func (s *Store) RegisterPatient(ctx context.Context, input store.RegistrationInput) (models.TicketDetail, error) {
	return s.advance(ctx, store.ActionRegister, input.ServiceDay, input.Number, input.OccurredAt, func(detail *models.TicketDetail, at time.Time) {
		detail.Registration = &models.Registration{
			RegistrationID: uuid.NewString(),
			TicketID:       detail.TicketID,
			Name:           input.Name,
			NationalID:     input.NationalID,
			BirthDate:      copyTime(input.BirthDate),
			Phone:          input.Phone,
			CreatedAt:      at,
		}
	})
}

func (s *Store) RecordTriage(ctx context.Context, input store.TriageInput) (models.TicketDetail, error) {
	return s.advance(ctx, store.ActionTriage, input.ServiceDay, input.Number, input.OccurredAt, func(detail *models.TicketDetail, at time.Time) {
		detail.Triage = &models.Triage{
			TriageID:  uuid.NewString(),
			TicketID:  detail.TicketID,
			Vitals:    input.Vitals,
			Symptoms:  input.Symptoms,
			RiskLevel: input.RiskLevel,
			CreatedAt: at,
		}
	})
}

func (s *Store) RecordConsultation(ctx context.Context, input store.ConsultationInput) (models.TicketDetail, error) {
	return s.advance(ctx, store.ActionConsult, input.ServiceDay, input.Number, input.OccurredAt, func(detail *models.TicketDetail, at time.Time) {
		detail.Consultation = &models.Consultation{
			ConsultationID: uuid.NewString(),
			TicketID:       detail.TicketID,
			Anamnesis:      input.Anamnesis,
			PhysicalExam:   input.PhysicalExam,
			Diagnosis:      input.Diagnosis,
			Prescription:   input.Prescription,
			ProgressNotes:  input.ProgressNotes,
			CreatedAt:      at,
		}
	})
}

func (s *Store) advance(ctx context.Context, action, serviceDay, number string, occurredAt time.Time, apply func(*models.TicketDetail, time.Time)) (models.TicketDetail, error) {
	if err := ctx.Err(); err != nil {
		return models.TicketDetail{}, err
	}
	fromStatus, toStatus, ok := store.Transition(action)
	if !ok {
		return models.TicketDetail{}, store.ErrInvalidState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	detail := s.latest(number, serviceDay)
	if detail == nil {
		return models.TicketDetail{}, store.ErrTicketNotFound
	}
	if detail.Status != fromStatus {
		return models.TicketDetail{}, store.ErrInvalidState
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	next := cloneDetail(*detail)
	next.Status = toStatus
	apply(&next, occurredAt)
	if err := s.appendEvent(next.Ticket, occurredAt); err != nil {
		return models.TicketDetail{}, err
	}
	*detail = next
	return cloneDetail(next), nil
}

func (s *Store) GetTicket(ctx context.Context, number string) (models.TicketDetail, error) {
	if err := ctx.Err(); err != nil {
		return models.TicketDetail{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	detail := s.latest(number, "")
	if detail == nil {
		return models.TicketDetail{}, store.ErrTicketNotFound
	}
	return cloneDetail(*detail), nil
}

func (s *Store) ListTickets(ctx context.Context, filter store.ListFilter) ([]models.TicketSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToLower(strings.TrimSpace(filter.NameContains))
	matched := []*models.TicketDetail{}
	for _, detail := range s.tickets {
		if filter.Status != "" && detail.Status != filter.Status {
			continue
		}
		if name != "" {
			if detail.Registration == nil || !strings.Contains(strings.ToLower(detail.Registration.Name), name) {
				continue
			}
		}
		matched = append(matched, detail)
	}
	sort.Slice(matched, func(i, j int) bool {
		return newerThan(matched[i], matched[j])
	})
	summaries := make([]models.TicketSummary, 0, len(matched))
	for _, detail := range matched {
		summaries = append(summaries, cloneDetail(*detail).Summary())
	}
	return summaries, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, number string) ([]store.TicketEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	detail := s.latest(number, "")
	if detail == nil {
		return nil, store.ErrTicketNotFound
	}
	events := s.events[detail.TicketID]
	out := make([]store.TicketEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) DailyStats(ctx context.Context, serviceDay string) (store.DailyStats, error) {
	if err := ctx.Err(); err != nil {
		return store.DailyStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := store.DailyStats{ServiceDay: serviceDay, ByStatus: map[models.Status]int64{}}
	for _, detail := range s.tickets {
		if detail.ServiceDay != serviceDay {
			continue
		}
		stats.ByStatus[detail.Status]++
		stats.Total++
	}
	return stats, nil
}

// latest resolves a number to the most recently issued ticket carrying it,
// restricted to serviceDay unless it is empty. Callers hold s.mu.
func (s *Store) latest(number, serviceDay string) *models.TicketDetail {
	var newest *models.TicketDetail
	for _, ticketID := range s.byNumber[number] {
		detail := s.tickets[ticketID]
		if serviceDay != "" && detail.ServiceDay != serviceDay {
			continue
		}
		if newest == nil || newerThan(detail, newest) {
			newest = detail
		}
	}
	return newest
}

// newerThan orders tickets by issue time, then by day and number so that equal
// timestamps still sort the same way on every call.
func newerThan(a, b *models.TicketDetail) bool {
	if !a.IssuedAt.Equal(b.IssuedAt) {
		return a.IssuedAt.After(b.IssuedAt)
	}
	if a.ServiceDay != b.ServiceDay {
		return a.ServiceDay > b.ServiceDay
	}
	aSeq, _ := sequence.Parse(a.Number)
	bSeq, _ := sequence.Parse(b.Number)
	if aSeq != bSeq {
		return aSeq > bSeq
	}
	return a.TicketID > b.TicketID
}

func (s *Store) appendEvent(ticket models.Ticket, occurredAt time.Time) error {
	payload, err := store.EventPayload(ticket, occurredAt)
	if err != nil {
		return err
	}
	chain := s.events[ticket.TicketID]
	prevHash := ""
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].Hash
	}
	seq := len(chain) + 1
	eventType := store.EventTypeFor(ticket.Status)
	createdAt := occurredAt.UTC().Truncate(time.Microsecond)
	s.events[ticket.TicketID] = append(chain, store.TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      store.ComputeTicketEventHash(prevHash, ticket.TicketID, eventType, payload, createdAt, seq),
	})
	return nil
}

func cloneDetail(detail models.TicketDetail) models.TicketDetail {
	if detail.Registration != nil {
		registration := *detail.Registration
		registration.BirthDate = copyTime(registration.BirthDate)
		detail.Registration = &registration
	}
	if detail.Triage != nil {
		triage := *detail.Triage
		detail.Triage = &triage
	}
	if detail.Consultation != nil {
		consultation := *detail.Consultation
		detail.Consultation = &consultation
	}
	return detail
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
