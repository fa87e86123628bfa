// Package lifecycle moves tickets through pending, registered, triaged and seen,
// and reconciles each committed step with the front-desk printers.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/printer"
	"qms/frontdesk-service/internal/sequence"
	"qms/frontdesk-service/internal/store"

	"github.com/nyaruka/phonenumbers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "qms/frontdesk-service/lifecycle"
	defaultPhoneRegion = "BR"
	birthDateLayout    = "2006-01-02"

	warnSlipNotPrinted  = "slip printer failed; the ticket was issued"
	warnLabelNotPrinted = "label printer failed; the patient was registered"
	warnReplayed        = "replayed; slip not reprinted"
)

type Options struct {
	Store        store.TicketStore
	SlipPrinter  printer.Printer
	LabelPrinter printer.Printer
	Publisher    Publisher
	Location     *time.Location
	PhoneRegion  string
	Logger       *slog.Logger
	Now          func() time.Time
}

type Engine struct {
	store        store.TicketStore
	slipPrinter  printer.Printer
	labelPrinter printer.Printer
	publisher    Publisher
	loc          *time.Location
	phoneRegion  string
	logger       *slog.Logger
	now          func() time.Time
	tracer       trace.Tracer
}

func New(opts Options) *Engine {
	e := &Engine{
		store:        opts.Store,
		slipPrinter:  opts.SlipPrinter,
		labelPrinter: opts.LabelPrinter,
		publisher:    opts.Publisher,
		loc:          opts.Location,
		phoneRegion:  strings.ToUpper(strings.TrimSpace(opts.PhoneRegion)),
		logger:       opts.Logger,
		now:          opts.Now,
		tracer:       otel.Tracer(tracerName),
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.phoneRegion == "" {
		e.phoneRegion = defaultPhoneRegion
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) IssueTicket(ctx context.Context, input IssueInput) (result IssueResult, err error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.IssueTicket")
	defer func() { endSpan(span, err) }()

	issuedAt := e.now().UTC()
	created, err := e.store.CreateTicket(ctx, store.CreateTicketInput{
		RequestID:  strings.TrimSpace(input.RequestID),
		ServiceDay: sequence.ServiceDay(issuedAt, e.loc),
		IssuedAt:   issuedAt,
	})
	if err != nil {
		return IssueResult{}, classify(store.ActionIssue, "", err)
	}

	result = IssueResult{
		Ticket:     created.Ticket,
		CountToday: created.CountToday,
		Replayed:   !created.Created,
	}
	span.SetAttributes(attribute.String("ticket.number", created.Ticket.Number))
	if result.Replayed {
		span.SetAttributes(attribute.Bool("ticket.replayed", true))
		result.Warning = warnReplayed
		return result, nil
	}

	e.logger.InfoContext(ctx, "ticket issued", "number", created.Ticket.Number, "service_day", created.Ticket.ServiceDay, "count_today", created.CountToday)
	e.publish(models.TicketDetail{Ticket: created.Ticket})

	result.Printed = e.print(ctx, span, e.slipPrinter, printer.SlipJob{
		Number:   created.Ticket.Number,
		IssuedAt: created.Ticket.IssuedAt,
	})
	if !result.Printed {
		result.Warning = warnSlipNotPrinted
	}
	return result, nil
}

func (e *Engine) RegisterPatient(ctx context.Context, input RegisterInput) (result RegisterResult, err error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.RegisterPatient")
	defer func() { endSpan(span, err) }()

	number, err := requireNumber(input.Number)
	if err != nil {
		return RegisterResult{}, err
	}
	span.SetAttributes(attribute.String("ticket.number", number))

	name := strings.TrimSpace(input.Name)
	nationalID := strings.TrimSpace(input.NationalID)
	if name == "" {
		return RegisterResult{}, validationf("name is required")
	}
	if nationalID == "" {
		return RegisterResult{}, validationf("national_id is required")
	}
	birthDate, err := parseBirthDate(input.BirthDate)
	if err != nil {
		return RegisterResult{}, err
	}
	phone, err := normalizePhone(input.Phone, e.phoneRegion)
	if err != nil {
		return RegisterResult{}, err
	}

	now := e.now().UTC()
	detail, err := e.store.RegisterPatient(ctx, store.RegistrationInput{
		ServiceDay: sequence.ServiceDay(now, e.loc),
		Number:     number,
		Name:       name,
		NationalID: nationalID,
		BirthDate:  birthDate,
		Phone:      phone,
		OccurredAt: now,
	})
	if err != nil {
		return RegisterResult{}, classify(store.ActionRegister, number, err)
	}

	e.logger.InfoContext(ctx, "patient registered", "number", number)
	e.publish(detail)

	result = RegisterResult{Ticket: detail}
	result.Printed = e.print(ctx, span, e.labelPrinter, printer.LabelJob{
		Name:       name,
		NationalID: nationalID,
		Number:     number,
	})
	if !result.Printed {
		result.Warning = warnLabelNotPrinted
	}
	return result, nil
}

func (e *Engine) SubmitTriage(ctx context.Context, input TriageInput) (detail models.TicketDetail, err error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.SubmitTriage")
	defer func() { endSpan(span, err) }()

	number, err := requireNumber(input.Number)
	if err != nil {
		return models.TicketDetail{}, err
	}
	span.SetAttributes(attribute.String("ticket.number", number))

	riskLevel := strings.TrimSpace(input.RiskLevel)
	if riskLevel == "" {
		return models.TicketDetail{}, validationf("risk_level is required")
	}
	if err := validateVitals(input.Vitals); err != nil {
		return models.TicketDetail{}, err
	}

	now := e.now().UTC()
	detail, err = e.store.RecordTriage(ctx, store.TriageInput{
		ServiceDay: sequence.ServiceDay(now, e.loc),
		Number:     number,
		Vitals:     input.Vitals,
		Symptoms:   strings.TrimSpace(input.Symptoms),
		RiskLevel:  riskLevel,
		OccurredAt: now,
	})
	if err != nil {
		return models.TicketDetail{}, classify(store.ActionTriage, number, err)
	}

	e.logger.InfoContext(ctx, "triage recorded", "number", number, "risk_level", riskLevel)
	e.publish(detail)
	return detail, nil
}

func (e *Engine) SubmitConsultation(ctx context.Context, input ConsultInput) (detail models.TicketDetail, err error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.SubmitConsultation")
	defer func() { endSpan(span, err) }()

	number, err := requireNumber(input.Number)
	if err != nil {
		return models.TicketDetail{}, err
	}
	span.SetAttributes(attribute.String("ticket.number", number))

	now := e.now().UTC()
	detail, err = e.store.RecordConsultation(ctx, store.ConsultationInput{
		ServiceDay:    sequence.ServiceDay(now, e.loc),
		Number:        number,
		Anamnesis:     strings.TrimSpace(input.Anamnesis),
		PhysicalExam:  strings.TrimSpace(input.PhysicalExam),
		Diagnosis:     strings.TrimSpace(input.Diagnosis),
		Prescription:  strings.TrimSpace(input.Prescription),
		ProgressNotes: strings.TrimSpace(input.ProgressNotes),
		OccurredAt:    now,
	})
	if err != nil {
		return models.TicketDetail{}, classify(store.ActionConsult, number, err)
	}

	e.logger.InfoContext(ctx, "consultation recorded", "number", number)
	e.publish(detail)
	return detail, nil
}

func (e *Engine) GetTicket(ctx context.Context, number string) (models.TicketDetail, error) {
	normalized, err := requireNumber(number)
	if err != nil {
		return models.TicketDetail{}, err
	}
	detail, err := e.store.GetTicket(ctx, normalized)
	if err != nil {
		return models.TicketDetail{}, classify("get", normalized, err)
	}
	return detail, nil
}

// ListTickets returns tickets newest first. An unrecognized status matches nothing.
func (e *Engine) ListTickets(ctx context.Context, status, name string) ([]models.TicketSummary, error) {
	filter := store.ListFilter{NameContains: strings.TrimSpace(name)}
	if raw := strings.ToLower(strings.TrimSpace(status)); raw != "" {
		parsed, ok := models.ParseStatus(raw)
		if !ok {
			return []models.TicketSummary{}, nil
		}
		filter.Status = parsed
	}
	tickets, err := e.store.ListTickets(ctx, filter)
	if err != nil {
		return nil, classify("list", "", err)
	}
	return tickets, nil
}

// ReprintTicket prints the slip or label of an existing ticket again. Ticket state
// is not touched; the outcome follows the same best-effort rule as the first print.
func (e *Engine) ReprintTicket(ctx context.Context, number string, kind printer.Kind) (result ReprintResult, err error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.ReprintTicket")
	defer func() { endSpan(span, err) }()

	normalized, err := requireNumber(number)
	if err != nil {
		return ReprintResult{}, err
	}
	span.SetAttributes(attribute.String("ticket.number", normalized), attribute.String("print.kind", string(kind)))

	detail, err := e.store.GetTicket(ctx, normalized)
	if err != nil {
		return ReprintResult{}, classify("reprint", normalized, err)
	}

	result = ReprintResult{Number: normalized, Kind: kind}
	switch kind {
	case printer.KindSlip:
		result.Printed = e.print(ctx, span, e.slipPrinter, printer.SlipJob{Number: detail.Number, IssuedAt: detail.IssuedAt})
		if !result.Printed {
			result.Warning = "slip printer failed"
		}
	case printer.KindLabel:
		if detail.Registration == nil {
			return ReprintResult{}, &PreconditionError{Action: "reprint", Number: normalized, Cause: store.ErrInvalidState}
		}
		result.Printed = e.print(ctx, span, e.labelPrinter, printer.LabelJob{
			Name:       detail.Registration.Name,
			NationalID: detail.Registration.NationalID,
			Number:     detail.Number,
		})
		if !result.Printed {
			result.Warning = "label printer failed"
		}
	default:
		return ReprintResult{}, validationf("kind must be slip or label")
	}
	return result, nil
}

func (e *Engine) TicketHistory(ctx context.Context, number string) (History, error) {
	normalized, err := requireNumber(number)
	if err != nil {
		return History{}, err
	}
	events, err := e.store.ListTicketEvents(ctx, normalized)
	if err != nil {
		return History{}, classify("history", normalized, err)
	}
	if events == nil {
		events = []store.TicketEvent{}
	}
	history := History{
		Number:     normalized,
		ChainValid: store.VerifyTicketEvents(events),
		Events:     events,
	}
	if replayed, err := store.RehydrateTicket(events); err == nil {
		history.Status = replayed.Status
	} else {
		history.ChainValid = false
	}
	return history, nil
}

// DailyStats counts tickets per status for day (YYYY-MM-DD); an empty day means
// today in the clinic time zone.
func (e *Engine) DailyStats(ctx context.Context, day string) (store.DailyStats, error) {
	day = strings.TrimSpace(day)
	if day == "" {
		day = sequence.ServiceDay(e.now(), e.loc)
	} else if _, err := sequence.ParseServiceDay(day); err != nil {
		return store.DailyStats{}, validationf("day must be YYYY-MM-DD")
	}
	stats, err := e.store.DailyStats(ctx, day)
	if err != nil {
		return store.DailyStats{}, classify("stats", "", err)
	}
	if stats.ByStatus == nil {
		stats.ByStatus = map[models.Status]int64{}
	}
	for _, status := range []models.Status{models.StatusPending, models.StatusRegistered, models.StatusTriaged, models.StatusSeen} {
		if _, ok := stats.ByStatus[status]; !ok {
			stats.ByStatus[status] = 0
		}
	}
	return stats, nil
}

// print makes the single best-effort attempt. It runs detached from the caller's
// cancellation because the transition it reports on is already committed.
func (e *Engine) print(ctx context.Context, span trace.Span, p printer.Printer, job printer.Job) bool {
	if p == nil {
		return false
	}
	err := p.Print(context.WithoutCancel(ctx), job)
	span.SetAttributes(attribute.Bool("print."+string(job.Kind())+".printed", err == nil))
	if err != nil {
		e.logger.WarnContext(ctx, "print failed", "kind", job.Kind(), "error", err)
		span.AddEvent("print failed", trace.WithAttributes(attribute.String("error", err.Error())))
		return false
	}
	return true
}

func (e *Engine) publish(detail models.TicketDetail) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(detail.Summary())
}

func requireNumber(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", validationf("number is required")
	}
	number, ok := sequence.Normalize(raw)
	if !ok {
		return "", validationf("number %q is not a ticket number", raw)
	}
	return number, nil
}

func parseBirthDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(birthDateLayout, raw)
	if err != nil {
		return nil, validationf("birth_date must be YYYY-MM-DD")
	}
	return &parsed, nil
}

func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", validationf("phone %q is not a valid number", raw)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

func validateVitals(v models.Vitals) error {
	if v.Pulse != nil && *v.Pulse <= 0 {
		return validationf("pulse must be positive")
	}
	if v.Saturation != nil && (*v.Saturation < 0 || *v.Saturation > 100) {
		return validationf("saturation must be between 0 and 100")
	}
	if v.Temperature != nil && *v.Temperature <= 0 {
		return validationf("temperature must be positive")
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrPreconditionFailed) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
