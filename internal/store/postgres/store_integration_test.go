package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testDay = "2026-03-10"

func TestCreateTicketConcurrentNumbersAreContiguous(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	const workers = 12
	var wg sync.WaitGroup
	results := make(chan store.CreatedTicket, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := st.CreateTicket(ctx, store.CreateTicketInput{
				ServiceDay: testDay,
				IssuedAt:   time.Now().UTC(),
			})
			if err != nil {
				errs <- err
				return
			}
			results <- created
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("create ticket: %v", err)
	}

	var numbers []string
	var counts []int64
	for created := range results {
		numbers = append(numbers, created.Ticket.Number)
		counts = append(counts, created.CountToday)
	}
	sort.Strings(numbers)
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for i, number := range numbers {
		want := fmt.Sprintf("G%03d", i+1)
		if number != want {
			t.Fatalf("expected %s at position %d, got %s (all: %v)", want, i, number, numbers)
		}
		if counts[i] != int64(i+1) {
			t.Fatalf("expected count %d at position %d, got %d", i+1, i, counts[i])
		}
	}
}

func TestCreateTicketIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	requestID := uuid.NewString()
	first := createTicket(t, ctx, st, requestID)
	second := createTicket(t, ctx, st, requestID)

	if first.Ticket.TicketID != second.Ticket.TicketID {
		t.Fatalf("expected same ticket ID for duplicate request")
	}
	if !first.Created || second.Created {
		t.Fatalf("expected only the first call to create, got %v and %v", first.Created, second.Created)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_events WHERE type = 'ticket.issued'`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 ticket.issued event, got %d", count)
	}
}

func TestNumbersRestartEachServiceDay(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	createTicket(t, ctx, st, "")
	createTicket(t, ctx, st, "")

	next, err := st.CreateTicket(ctx, store.CreateTicketInput{ServiceDay: "2026-03-11", IssuedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if next.Ticket.Number != "G001" || next.CountToday != 1 {
		t.Fatalf("expected G001/1 on a new day, got %s/%d", next.Ticket.Number, next.CountToday)
	}
}

func TestRegisterPatientConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	created := createTicket(t, ctx, st, "")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, name := range []string{"Ana Souza", "Bruno Lima"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := st.RegisterPatient(ctx, store.RegistrationInput{
				Number:     created.Ticket.Number,
				Name:       name,
				NationalID: "12345678900",
				OccurredAt: time.Now().UTC(),
			})
			errs <- err
		}(name)
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrInvalidState):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d and %d", wins, conflicts)
	}

	var registrations int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&registrations); err != nil {
		t.Fatalf("count registrations: %v", err)
	}
	if registrations != 1 {
		t.Fatalf("expected 1 registration, got %d", registrations)
	}
}

func TestLifecycleAndHistory(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	created := createTicket(t, ctx, st, "")
	number := created.Ticket.Number

	if _, err := st.RecordTriage(ctx, store.TriageInput{Number: number, RiskLevel: "green"}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state for triage before registration, got %v", err)
	}

	birth := time.Date(1990, 5, 4, 0, 0, 0, 0, time.UTC)
	if _, err := st.RegisterPatient(ctx, store.RegistrationInput{
		Number: number, Name: "Ana Souza", NationalID: "12345678900", BirthDate: &birth, Phone: "+5511999998888",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	pulse := 88
	temp := 37.2
	if _, err := st.RecordTriage(ctx, store.TriageInput{
		Number: number, Vitals: models.Vitals{BloodPressure: "120/80", Pulse: &pulse, Temperature: &temp}, Symptoms: "headache", RiskLevel: "yellow",
	}); err != nil {
		t.Fatalf("triage: %v", err)
	}
	detail, err := st.RecordConsultation(ctx, store.ConsultationInput{Number: number, Diagnosis: "migraine"})
	if err != nil {
		t.Fatalf("consult: %v", err)
	}
	if detail.Status != models.StatusSeen {
		t.Fatalf("expected seen, got %s", detail.Status)
	}
	if detail.Registration == nil || detail.Registration.BirthDate == nil || !detail.Registration.BirthDate.Equal(birth) {
		t.Fatalf("expected registration with birth date, got %+v", detail.Registration)
	}
	if detail.Triage == nil || detail.Triage.Vitals.Pulse == nil || *detail.Triage.Vitals.Pulse != 88 {
		t.Fatalf("expected triage vitals, got %+v", detail.Triage)
	}
	if detail.Triage.Vitals.Saturation != nil {
		t.Fatalf("expected absent saturation to stay nil")
	}

	events, err := st.ListTicketEvents(ctx, number)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if !store.VerifyTicketEvents(events) {
		t.Fatalf("expected a valid hash chain")
	}
	rehydrated, err := store.RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rehydrated.Status != models.StatusSeen {
		t.Fatalf("expected rehydrated status seen, got %s", rehydrated.Status)
	}

	summaries, err := st.ListTickets(ctx, store.ListFilter{NameContains: "souza"})
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Diagnosis != "migraine" {
		t.Fatalf("expected one summary with diagnosis, got %+v", summaries)
	}

	stats, err := st.DailyStats(ctx, testDay)
	if err != nil {
		t.Fatalf("daily stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[models.StatusSeen] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUnknownNumberIsNotFound(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if _, err := st.RegisterPatient(ctx, store.RegistrationInput{Number: "G999", Name: "X", NationalID: "1"}); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := st.GetTicket(ctx, "G999"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := st.ListTicketEvents(ctx, "G999"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordInsertFailureLeavesStatusUnchanged(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	created := createTicket(t, ctx, st, "")
	// A stray registration row makes the record insert fail after the status UPDATE.
	if _, err := pool.Exec(ctx, `
		INSERT INTO registrations (registration_id, ticket_id, name, national_id, created_at)
		VALUES ($1, $2, 'Stray', '0', now())
	`, uuid.NewString(), created.Ticket.TicketID); err != nil {
		t.Fatalf("insert registration: %v", err)
	}

	_, err := st.RegisterPatient(ctx, store.RegistrationInput{ServiceDay: testDay, Number: created.Ticket.Number, Name: "Ana", NationalID: "1"})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	detail, err := st.GetTicket(ctx, created.Ticket.Number)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Status != models.StatusPending {
		t.Fatalf("expected status to stay pending, got %s", detail.Status)
	}
	events, err := st.ListTicketEvents(ctx, created.Ticket.Number)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the issue event, got %d", len(events))
	}
}

func TestTransitionsAreScopedToServiceDay(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	createTicket(t, ctx, st, "")
	yesterday := createTicket(t, ctx, st, "")
	if _, err := st.CreateTicket(ctx, store.CreateTicketInput{ServiceDay: "2026-03-11", IssuedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	_, err := st.RegisterPatient(ctx, store.RegistrationInput{ServiceDay: "2026-03-11", Number: "G002", Name: "Ana", NationalID: "1"})
	if !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected not found for a number not yet issued today, got %v", err)
	}
	detail, err := st.GetTicket(ctx, "G002")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.TicketID != yesterday.Ticket.TicketID || detail.Status != models.StatusPending {
		t.Fatalf("expected the earlier G002 untouched, got %+v", detail.Ticket)
	}

	registered, err := st.RegisterPatient(ctx, store.RegistrationInput{ServiceDay: "2026-03-11", Number: "G001", Name: "Ana", NationalID: "1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.ServiceDay != "2026-03-11" {
		t.Fatalf("expected the 2026-03-11 ticket, got %s", registered.ServiceDay)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if _, err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func createTicket(t *testing.T, ctx context.Context, st *Store, requestID string) store.CreatedTicket {
	t.Helper()
	created, err := st.CreateTicket(ctx, store.CreateTicketInput{
		RequestID:  requestID,
		ServiceDay: testDay,
		IssuedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return created
}
