package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turnero/turno-service/internal/models"
	"turnero/turno-service/internal/store"
)

type Handler struct {
	store            store.TicketStore
	clinicQueueLimit int
	globalQueueLimit int
}

type Options struct {
	ClinicQueueLimit int
	GlobalQueueLimit int
}

func NewHandler(store store.TicketStore, options Options) *Handler {
	clinicLimit := options.ClinicQueueLimit
	if clinicLimit <= 0 {
		clinicLimit = 10
	}
	globalLimit := options.GlobalQueueLimit
	if globalLimit <= 0 {
		globalLimit = 100
	}
	return &Handler{
		store:            store,
		clinicQueueLimit: clinicLimit,
		globalQueueLimit: globalLimit,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/", h.handleTicketByID)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/patients/", h.handleActiveTicket)
	return mux
}

type createTicketRequest struct {
	PatientID int64 `json:"patient_id"`
	ClinicID  int64 `json:"clinic_id"`
	Priority  int   `json:"priority"`
}

type callNextRequest struct {
	ClinicID int64 `json:"clinic_id"`
}

type changeStateRequest struct {
	State string `json:"state"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload", nil)
		return
	}
	if req.PatientID <= 0 || req.ClinicID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id and clinic_id are required", nil)
		return
	}

	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		PatientID: req.PatientID,
		ClinicID:  req.ClinicID,
		Priority:  req.Priority,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}

	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload", nil)
		return
	}
	if req.ClinicID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id is required", nil)
		return
	}

	ticket, err := h.store.CallNext(r.Context(), req.ClinicID, time.Now().UTC())
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	ticketID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer", nil)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTicket(w, r, ticketID)
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "state":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleChangeState(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID int64) {
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// settable target states; pending is creation-only and calling is
// reachable only through dispatch
var settableStates = map[string]bool{
	models.StatusInConsultation: true,
	models.StatusClosed:         true,
	models.StatusAbsent:         true,
}

func (h *Handler) handleChangeState(w http.ResponseWriter, r *http.Request, ticketID int64) {
	var req changeStateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload", nil)
		return
	}
	req.State = strings.TrimSpace(req.State)
	if !settableStates[req.State] {
		writeError(w, http.StatusBadRequest, "invalid_request", "state must be one of in_consultation, closed, absent", nil)
		return
	}

	ticket, err := h.store.ChangeState(r.Context(), ticketID, req.State, time.Now().UTC())
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var clinicID int64
	limit := h.globalQueueLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("clinic_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a positive integer", nil)
			return
		}
		clinicID = parsed
		limit = h.clinicQueueLimit
	}

	entries, err := h.store.PublicQueue(r.Context(), clinicID, limit)
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleActiveTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/patients/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "active-ticket" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	patientID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || patientID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient id must be a positive integer", nil)
		return
	}

	active, err := h.store.HasActiveTicketToday(r.Context(), patientID)
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func mapError(err error) (int, string, string, map[string]interface{}) {
	var duplicate *store.DuplicateError
	if errors.As(err, &duplicate) {
		var details map[string]interface{}
		if duplicate.ConflictingTicketID != 0 {
			details = map[string]interface{}{"conflicting_ticket_id": duplicate.ConflictingTicketID}
		}
		return http.StatusConflict, "duplicate_active_ticket", "patient already has an active ticket today", details
	}
	var transition *store.TransitionError
	if errors.As(err, &transition) {
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this transition", map[string]interface{}{
			"from":      transition.From,
			"requested": transition.Requested,
		}
	}

	switch {
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found", nil
	case errors.Is(err, store.ErrClinicNotFound):
		return http.StatusConflict, "clinic_not_found_or_inactive", "clinic not found or inactive", nil
	case errors.Is(err, store.ErrDuplicateActiveTicket):
		return http.StatusConflict, "duplicate_active_ticket", "patient already has an active ticket today", nil
	case errors.Is(err, store.ErrNoPendingTickets):
		return http.StatusNotFound, "no_pending_tickets", "no pending tickets for this clinic", nil
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found", nil
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this transition", nil
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "store temporarily unavailable, retry later", nil
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error", nil
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
			Details: details,
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
