package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/sequence"
	"qms/frontdesk-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	constraintDayNumber = "tickets_day_number_key"
	constraintRequestID = "tickets_request_id_key"
)

type Store struct {
	pool *pgxpool.Pool
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.CreatedTicket, error) {
	created, err := s.createTicket(ctx, input)
	if err != nil && errors.Is(err, errDuplicateRequest) {
		existing, found, lookupErr := findTicketByRequestID(ctx, s.pool, input.RequestID)
		if lookupErr != nil {
			return store.CreatedTicket{}, lookupErr
		}
		if found {
			return existing, nil
		}
	}
	return created, err
}

var errDuplicateRequest = errors.New("duplicate request id")

func (s *Store) createTicket(ctx context.Context, input store.CreateTicketInput) (store.CreatedTicket, error) {
	day, err := sequence.ParseServiceDay(input.ServiceDay)
	if err != nil {
		return store.CreatedTicket{}, fmt.Errorf("service day %q: %w", input.ServiceDay, err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CreatedTicket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		existing, found, lookupErr := findTicketByRequestID(ctx, tx, input.RequestID)
		if lookupErr != nil {
			err = lookupErr
			return store.CreatedTicket{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return store.CreatedTicket{}, err
			}
			return existing, nil
		}
	}

	seq, err := nextTicketNumber(ctx, tx, day)
	if err != nil {
		return store.CreatedTicket{}, err
	}

	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	ticket := models.Ticket{
		TicketID:   uuid.NewString(),
		Number:     sequence.Format(seq),
		ServiceDay: input.ServiceDay,
		Status:     models.StatusPending,
		IssuedAt:   issuedAt,
		RequestID:  input.RequestID,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (ticket_id, request_id, number, seq, service_day, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticket.TicketID, nullIfEmpty(ticket.RequestID), ticket.Number, seq, day, string(ticket.Status), ticket.IssuedAt)
	if err != nil {
		err = classifyInsertError(err)
		return store.CreatedTicket{}, err
	}

	if err = insertTicketEvent(ctx, tx, ticket, issuedAt); err != nil {
		return store.CreatedTicket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.CreatedTicket{}, err
	}

	return store.CreatedTicket{Ticket: ticket, CountToday: seq, Created: true}, nil
}

func (s *Store) RegisterPatient(ctx context.Context, input store.RegistrationInput) (models.TicketDetail, error) {
	return s.advance(ctx, store.ActionRegister, input.ServiceDay, input.Number, input.OccurredAt, func(ctx context.Context, tx pgx.Tx, ticketID string, at time.Time) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO registrations (registration_id, ticket_id, name, national_id, birth_date, phone, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), ticketID, input.Name, input.NationalID, nullTime(input.BirthDate), nullIfEmpty(input.Phone), at)
		return err
	})
}

func (s *Store) RecordTriage(ctx context.Context, input store.TriageInput) (models.TicketDetail, error) {
	return s.advance(ctx, store.ActionTriage, input.ServiceDay, input.Number, input.OccurredAt, func(ctx context.Context, tx pgx.Tx, ticketID string, at time.Time) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO triages (triage_id, ticket_id, blood_pressure, pulse, temperature, saturation, symptoms, risk_level, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uuid.NewString(), ticketID, nullIfEmpty(input.Vitals.BloodPressure), nullInt(input.Vitals.Pulse), nullFloat(input.Vitals.Temperature), nullInt(input.Vitals.Saturation), nullIfEmpty(input.Symptoms), input.RiskLevel, at)
		return err
	})
}

func (s *Store) RecordConsultation(ctx context.Context, input store.ConsultationInput) (models.TicketDetail, error) {
	return s.advance(ctx, store.ActionConsult, input.ServiceDay, input.Number, input.OccurredAt, func(ctx context.Context, tx pgx.Tx, ticketID string, at time.Time) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO consultations (consultation_id, ticket_id, anamnesis, physical_exam, diagnosis, prescription, progress_notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.NewString(), ticketID, nullIfEmpty(input.Anamnesis), nullIfEmpty(input.PhysicalExam), nullIfEmpty(input.Diagnosis), nullIfEmpty(input.Prescription), nullIfEmpty(input.ProgressNotes), at)
		return err
	})
}

type recordInserter func(ctx context.Context, tx pgx.Tx, ticketID string, at time.Time) error

// advance moves the newest ticket carrying number on serviceDay from the status
// the action requires to the next one and inserts the matching record in the same
// transaction. The status predicate on the UPDATE lets exactly one of several
// concurrent requests win; the others see zero rows and get ErrInvalidState.
func (s *Store) advance(ctx context.Context, action, serviceDay, number string, occurredAt time.Time, insert recordInserter) (models.TicketDetail, error) {
	fromStatus, toStatus, ok := store.Transition(action)
	if !ok {
		return models.TicketDetail{}, store.ErrInvalidState
	}
	day, err := dayArg(serviceDay)
	if err != nil {
		return models.TicketDetail{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TicketDetail{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var ticket models.Ticket
	var status string
	var requestID sql.NullString
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1
		WHERE ticket_id = (
			SELECT ticket_id FROM tickets
			WHERE number = $2 AND ($4::date IS NULL OR service_day = $4::date)
			ORDER BY issued_at DESC LIMIT 1
		) AND status = $3
		RETURNING ticket_id, number, service_day::text, status, issued_at, request_id
	`, string(toStatus), number, string(fromStatus), day)
	if err = row.Scan(&ticket.TicketID, &ticket.Number, &ticket.ServiceDay, &status, &ticket.IssuedAt, &requestID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, lookupErr := ticketExists(ctx, tx, number, day)
			if lookupErr != nil {
				err = lookupErr
				return models.TicketDetail{}, err
			}
			if !exists {
				err = store.ErrTicketNotFound
				return models.TicketDetail{}, err
			}
			err = store.ErrInvalidState
			return models.TicketDetail{}, err
		}
		return models.TicketDetail{}, err
	}
	ticket.Status = models.Status(status)
	ticket.RequestID = requestID.String

	if err = insert(ctx, tx, ticket.TicketID, occurredAt); err != nil {
		if isUniqueViolation(err, "") {
			err = store.ErrInvalidState
		}
		return models.TicketDetail{}, err
	}

	if err = insertTicketEvent(ctx, tx, ticket, occurredAt); err != nil {
		return models.TicketDetail{}, err
	}

	detail, err := loadDetail(ctx, tx, "t.ticket_id = $1", ticket.TicketID)
	if err != nil {
		return models.TicketDetail{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.TicketDetail{}, err
	}
	return detail, nil
}

func (s *Store) GetTicket(ctx context.Context, number string) (models.TicketDetail, error) {
	return loadDetail(ctx, s.pool, `t.ticket_id = (
		SELECT ticket_id FROM tickets WHERE number = $1 ORDER BY issued_at DESC LIMIT 1
	)`, number)
}

func (s *Store) ListTickets(ctx context.Context, filter store.ListFilter) ([]models.TicketSummary, error) {
	query := `
		SELECT t.number, t.status, t.issued_at,
		       r.name, r.national_id, r.birth_date, r.phone,
		       tr.risk_level, tr.created_at,
		       c.diagnosis, c.created_at
		FROM tickets t
		LEFT JOIN registrations r ON r.ticket_id = t.ticket_id
		LEFT JOIN triages tr ON tr.ticket_id = t.ticket_id
		LEFT JOIN consultations c ON c.ticket_id = t.ticket_id
		WHERE 1=1
	`
	var args []interface{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND t.status = $%d", len(args))
	}
	if name := strings.TrimSpace(filter.NameContains); name != "" {
		args = append(args, "%"+escapeLike(name)+"%")
		query += fmt.Sprintf(` AND r.name ILIKE $%d ESCAPE '\'`, len(args))
	}
	query += " ORDER BY t.issued_at DESC, t.service_day DESC, t.seq DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.TicketSummary{}
	for rows.Next() {
		var summary models.TicketSummary
		var status string
		var name, nationalID, phone, riskLevel, diagnosis sql.NullString
		var birthDate, triagedAt, consultedAt sql.NullTime
		if err := rows.Scan(&summary.Number, &status, &summary.IssuedAt,
			&name, &nationalID, &birthDate, &phone,
			&riskLevel, &triagedAt,
			&diagnosis, &consultedAt); err != nil {
			return nil, err
		}
		summary.Status = models.Status(status)
		summary.Name = name.String
		summary.NationalID = nationalID.String
		summary.BirthDate = nullTimePtr(birthDate)
		summary.Phone = phone.String
		summary.RiskLevel = riskLevel.String
		summary.TriagedAt = nullTimePtr(triagedAt)
		summary.Diagnosis = diagnosis.String
		summary.ConsultedAt = nullTimePtr(consultedAt)
		tickets = append(tickets, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, number string) ([]store.TicketEvent, error) {
	var ticketID string
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id FROM tickets WHERE number = $1 ORDER BY issued_at DESC LIMIT 1
	`, number)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTicketNotFound
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = []byte(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) DailyStats(ctx context.Context, serviceDay string) (store.DailyStats, error) {
	day, err := sequence.ParseServiceDay(serviceDay)
	if err != nil {
		return store.DailyStats{}, fmt.Errorf("service day %q: %w", serviceDay, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM tickets
		WHERE service_day = $1
		GROUP BY status
	`, day)
	if err != nil {
		return store.DailyStats{}, err
	}
	defer rows.Close()

	stats := store.DailyStats{ServiceDay: serviceDay, ByStatus: map[models.Status]int64{}}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return store.DailyStats{}, err
		}
		stats.ByStatus[models.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return store.DailyStats{}, err
	}
	return stats, nil
}

// nextTicketNumber allocates the day's next sequence value. The first issuance of
// a day seeds the counter from the tickets already stored for it; later ones bump
// the counter under its row lock, so concurrent issuances serialize here and a
// rolled-back issuance gives its number back.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, day time.Time) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (service_day, last_number)
		VALUES ($1, (SELECT COUNT(*) FROM tickets WHERE service_day = $1) + 1)
		ON CONFLICT (service_day)
		DO UPDATE SET last_number = ticket_sequences.last_number + 1
		RETURNING last_number
	`, day)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket, occurredAt time.Time) error {
	payload, err := store.EventPayload(ticket, occurredAt)
	if err != nil {
		return err
	}
	eventType := store.EventTypeFor(ticket.Status)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticket.TicketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticket.TicketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	createdAt := occurredAt.UTC().Truncate(time.Microsecond)
	hash := store.ComputeTicketEventHash(prevHash.String, ticket.TicketID, eventType, payload, createdAt, nextSeq)

	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticket.TicketID, nextSeq, eventType, string(payload), createdAt, prevHash.String, hash)
	return err
}

func findTicketByRequestID(ctx context.Context, q querier, requestID string) (store.CreatedTicket, bool, error) {
	var ticket models.Ticket
	var status string
	var seq int64
	row := q.QueryRow(ctx, `
		SELECT ticket_id, number, seq, service_day::text, status, issued_at, request_id
		FROM tickets
		WHERE request_id = $1
	`, requestID)
	if err := row.Scan(&ticket.TicketID, &ticket.Number, &seq, &ticket.ServiceDay, &status, &ticket.IssuedAt, &ticket.RequestID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CreatedTicket{}, false, nil
		}
		return store.CreatedTicket{}, false, err
	}
	ticket.Status = models.Status(status)
	return store.CreatedTicket{Ticket: ticket, CountToday: seq, Created: false}, true, nil
}

func ticketExists(ctx context.Context, q querier, number string, day interface{}) (bool, error) {
	var exists bool
	row := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets WHERE number = $1 AND ($2::date IS NULL OR service_day = $2::date)
		)
	`, number, day)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func loadDetail(ctx context.Context, q querier, where string, args ...interface{}) (models.TicketDetail, error) {
	var detail models.TicketDetail
	var status string
	var requestID sql.NullString

	var registrationID, name, nationalID, phone sql.NullString
	var birthDate, registeredAt sql.NullTime

	var triageID, bloodPressure, symptoms, riskLevel sql.NullString
	var pulse, saturation sql.NullInt64
	var temperature sql.NullFloat64
	var triagedAt sql.NullTime

	var consultationID, anamnesis, physicalExam, diagnosis, prescription, progressNotes sql.NullString
	var consultedAt sql.NullTime

	row := q.QueryRow(ctx, `
		SELECT t.ticket_id, t.number, t.service_day::text, t.status, t.issued_at, t.request_id,
		       r.registration_id::text, r.name, r.national_id, r.birth_date, r.phone, r.created_at,
		       tr.triage_id::text, tr.blood_pressure, tr.pulse, tr.temperature, tr.saturation, tr.symptoms, tr.risk_level, tr.created_at,
		       c.consultation_id::text, c.anamnesis, c.physical_exam, c.diagnosis, c.prescription, c.progress_notes, c.created_at
		FROM tickets t
		LEFT JOIN registrations r ON r.ticket_id = t.ticket_id
		LEFT JOIN triages tr ON tr.ticket_id = t.ticket_id
		LEFT JOIN consultations c ON c.ticket_id = t.ticket_id
		WHERE `+where, args...)
	if err := row.Scan(&detail.TicketID, &detail.Number, &detail.ServiceDay, &status, &detail.IssuedAt, &requestID,
		&registrationID, &name, &nationalID, &birthDate, &phone, &registeredAt,
		&triageID, &bloodPressure, &pulse, &temperature, &saturation, &symptoms, &riskLevel, &triagedAt,
		&consultationID, &anamnesis, &physicalExam, &diagnosis, &prescription, &progressNotes, &consultedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TicketDetail{}, store.ErrTicketNotFound
		}
		return models.TicketDetail{}, err
	}
	detail.Status = models.Status(status)
	detail.RequestID = requestID.String

	if registrationID.Valid {
		detail.Registration = &models.Registration{
			RegistrationID: registrationID.String,
			TicketID:       detail.TicketID,
			Name:           name.String,
			NationalID:     nationalID.String,
			BirthDate:      nullTimePtr(birthDate),
			Phone:          phone.String,
			CreatedAt:      registeredAt.Time,
		}
	}
	if triageID.Valid {
		detail.Triage = &models.Triage{
			TriageID: triageID.String,
			TicketID: detail.TicketID,
			Vitals: models.Vitals{
				BloodPressure: bloodPressure.String,
				Pulse:         nullIntPtr(pulse),
				Temperature:   nullFloatPtr(temperature),
				Saturation:    nullIntPtr(saturation),
			},
			Symptoms:  symptoms.String,
			RiskLevel: riskLevel.String,
			CreatedAt: triagedAt.Time,
		}
	}
	if consultationID.Valid {
		detail.Consultation = &models.Consultation{
			ConsultationID: consultationID.String,
			TicketID:       detail.TicketID,
			Anamnesis:      anamnesis.String,
			PhysicalExam:   physicalExam.String,
			Diagnosis:      diagnosis.String,
			Prescription:   prescription.String,
			ProgressNotes:  progressNotes.String,
			CreatedAt:      consultedAt.Time,
		}
	}
	return detail, nil
}

func classifyInsertError(err error) error {
	switch {
	case isUniqueViolation(err, constraintDayNumber):
		return fmt.Errorf("%w: %v", store.ErrNumberConflict, err)
	case isUniqueViolation(err, constraintRequestID):
		return errDuplicateRequest
	default:
		return err
	}
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// dayArg turns an optional YYYY-MM-DD service day into a DATE parameter.
func dayArg(serviceDay string) (interface{}, error) {
	if serviceDay == "" {
		return nil, nil
	}
	day, err := sequence.ParseServiceDay(serviceDay)
	if err != nil {
		return nil, fmt.Errorf("service day %q: %w", serviceDay, err)
	}
	return day, nil
}

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullInt(value *int) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullFloat(value *float64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func nullFloatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	return &value.Float64
}
