package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"qms/frontdesk-service/internal/lifecycle"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/printer"
	"qms/frontdesk-service/internal/store"
)

// FrontDesk is the set of lifecycle operations exposed over HTTP.
type FrontDesk interface {
	IssueTicket(ctx context.Context, input lifecycle.IssueInput) (lifecycle.IssueResult, error)
	RegisterPatient(ctx context.Context, input lifecycle.RegisterInput) (lifecycle.RegisterResult, error)
	SubmitTriage(ctx context.Context, input lifecycle.TriageInput) (models.TicketDetail, error)
	SubmitConsultation(ctx context.Context, input lifecycle.ConsultInput) (models.TicketDetail, error)
	GetTicket(ctx context.Context, number string) (models.TicketDetail, error)
	ListTickets(ctx context.Context, status, name string) ([]models.TicketSummary, error)
	ReprintTicket(ctx context.Context, number string, kind printer.Kind) (lifecycle.ReprintResult, error)
	TicketHistory(ctx context.Context, number string) (lifecycle.History, error)
	DailyStats(ctx context.Context, day string) (store.DailyStats, error)
}

type Handler struct {
	desk FrontDesk
}

type issueRequest struct {
	RequestID string `json:"request_id"`
}

type registerRequest struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	BirthDate  string `json:"birth_date"`
	Phone      string `json:"phone"`
}

type triageRequest struct {
	BloodPressure string   `json:"blood_pressure"`
	Pulse         *int     `json:"pulse"`
	Temperature   *float64 `json:"temperature"`
	Saturation    *int     `json:"saturation"`
	Symptoms      string   `json:"symptoms"`
	RiskLevel     string   `json:"risk_level"`
}

type consultRequest struct {
	Anamnesis     string `json:"anamnesis"`
	PhysicalExam  string `json:"physical_exam"`
	Diagnosis     string `json:"diagnosis"`
	Prescription  string `json:"prescription"`
	ProgressNotes string `json:"progress_notes"`
}

type reprintRequest struct {
	Kind string `json:"kind"`
}

type issueResponse struct {
	TicketID   string    `json:"ticket_id"`
	Number     string    `json:"number"`
	IssuedAt   time.Time `json:"issued_at"`
	CountToday int64     `json:"count_today"`
	Printed    bool      `json:"printed"`
	Warning    string    `json:"warning,omitempty"`
	Replayed   bool      `json:"replayed,omitempty"`
}

type registerResponse struct {
	Message    string `json:"message"`
	Number     string `json:"number"`
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Printed    bool   `json:"printed"`
	Warning    string `json:"warning,omitempty"`
}

type triageResponse struct {
	Message   string `json:"message"`
	Number    string `json:"number"`
	RiskLevel string `json:"risk_level"`
}

type consultResponse struct {
	Message string `json:"message"`
	Number  string `json:"number"`
}

type reprintResponse struct {
	Number  string       `json:"number"`
	Kind    printer.Kind `json:"kind"`
	Printed bool         `json:"printed"`
	Warning string       `json:"warning,omitempty"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(desk FrontDesk) *Handler {
	return &Handler{desk: desk}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/stats/today", h.handleStats)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleIssue(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	reqID := strings.TrimSpace(req.RequestID)
	if reqID == "" {
		reqID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	result, err := h.desk.IssueTicket(r.Context(), lifecycle.IssueInput{RequestID: reqID})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		TicketID:   result.Ticket.TicketID,
		Number:     result.Ticket.Number,
		IssuedAt:   result.Ticket.IssuedAt,
		CountToday: result.CountToday,
		Printed:    result.Printed,
		Warning:    result.Warning,
		Replayed:   result.Replayed,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tickets, err := h.desk.ListTickets(r.Context(), query.Get("status"), query.Get("name"))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// handleTicket serves /api/tickets/{number}, /api/tickets/{number}/events and
// /api/tickets/{number}/actions/{action}.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	number := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, number)
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHistory(w, r, number)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch parts[2] {
		case "register":
			h.handleRegister(w, r, number)
		case "triage":
			h.handleTriage(w, r, number)
		case "consult":
			h.handleConsult(w, r, number)
		case "reprint":
			h.handleReprint(w, r, number)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, number string) {
	detail, err := h.desk.GetTicket(r.Context(), number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, number string) {
	history, err := h.desk.TicketHistory(r.Context(), number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request, number string) {
	var req registerRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.desk.RegisterPatient(r.Context(), lifecycle.RegisterInput{
		Number:     number,
		Name:       req.Name,
		NationalID: req.NationalID,
		BirthDate:  req.BirthDate,
		Phone:      req.Phone,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}

	resp := registerResponse{
		Message: "patient registered",
		Number:  result.Ticket.Number,
		Printed: result.Printed,
		Warning: result.Warning,
	}
	if reg := result.Ticket.Registration; reg != nil {
		resp.Name = reg.Name
		resp.NationalID = reg.NationalID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTriage(w http.ResponseWriter, r *http.Request, number string) {
	var req triageRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	detail, err := h.desk.SubmitTriage(r.Context(), lifecycle.TriageInput{
		Number: number,
		Vitals: models.Vitals{
			BloodPressure: strings.TrimSpace(req.BloodPressure),
			Pulse:         req.Pulse,
			Temperature:   req.Temperature,
			Saturation:    req.Saturation,
		},
		Symptoms:  req.Symptoms,
		RiskLevel: req.RiskLevel,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}

	resp := triageResponse{Message: "triage recorded", Number: detail.Number}
	if detail.Triage != nil {
		resp.RiskLevel = detail.Triage.RiskLevel
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConsult(w http.ResponseWriter, r *http.Request, number string) {
	var req consultRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	detail, err := h.desk.SubmitConsultation(r.Context(), lifecycle.ConsultInput{
		Number:        number,
		Anamnesis:     req.Anamnesis,
		PhysicalExam:  req.PhysicalExam,
		Diagnosis:     req.Diagnosis,
		Prescription:  req.Prescription,
		ProgressNotes: req.ProgressNotes,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, consultResponse{Message: "consultation recorded", Number: detail.Number})
}

func (h *Handler) handleReprint(w http.ResponseWriter, r *http.Request, number string) {
	var req reprintRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	kind, ok := printer.ParseKind(req.Kind)
	if !ok {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "kind must be slip or label")
		return
	}

	result, err := h.desk.ReprintTicket(r.Context(), number, kind)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reprintResponse{
		Number:  result.Number,
		Kind:    result.Kind,
		Printed: result.Printed,
		Warning: result.Warning,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.desk.DailyStats(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := decodeJSON(r, target); err != nil {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		return http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), lifecycle.ErrValidation.Error()+": ")
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrNumberConflict):
		return http.StatusConflict, "number_conflict", "ticket number collided, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func requestID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(requestIDHeader))
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
