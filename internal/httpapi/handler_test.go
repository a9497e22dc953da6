package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"turnero/turno-service/internal/models"
	"turnero/turno-service/internal/store"
)

type fakeStore struct {
	createFn   func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error)
	getFn      func(ctx context.Context, ticketID int64) (models.Ticket, error)
	callNextFn func(ctx context.Context, clinicID int64, calledAt time.Time) (models.Ticket, error)
	changeFn   func(ctx context.Context, ticketID int64, target string, occurredAt time.Time) (models.Ticket, error)
	queueFn    func(ctx context.Context, clinicID int64, limit int) ([]models.QueueEntry, error)
	activeFn   func(ctx context.Context, patientID int64) (bool, error)
	sessionFn  func(ctx context.Context, sessionID string) (store.Session, error)
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if f.createFn == nil {
		return models.Ticket{}, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	if f.getFn == nil {
		return models.Ticket{}, nil
	}
	return f.getFn(ctx, ticketID)
}

func (f fakeStore) CallNext(ctx context.Context, clinicID int64, calledAt time.Time) (models.Ticket, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, nil
	}
	return f.callNextFn(ctx, clinicID, calledAt)
}

func (f fakeStore) ChangeState(ctx context.Context, ticketID int64, target string, occurredAt time.Time) (models.Ticket, error) {
	if f.changeFn == nil {
		return models.Ticket{}, nil
	}
	return f.changeFn(ctx, ticketID, target, occurredAt)
}

func (f fakeStore) PublicQueue(ctx context.Context, clinicID int64, limit int) ([]models.QueueEntry, error) {
	if f.queueFn == nil {
		return nil, nil
	}
	return f.queueFn(ctx, clinicID, limit)
}

func (f fakeStore) HasActiveTicketToday(ctx context.Context, patientID int64) (bool, error) {
	if f.activeFn == nil {
		return false, nil
	}
	return f.activeFn(ctx, patientID)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.sessionFn == nil {
		return store.Session{}, store.ErrSessionNotFound
	}
	return f.sessionFn(ctx, sessionID)
}

func doRequest(t *testing.T, st store.TicketStore, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	NewHandler(st, Options{}).Routes().ServeHTTP(recorder, req)
	return recorder
}

func decodeErrorCode(t *testing.T, recorder *httptest.ResponseRecorder) (string, map[string]interface{}) {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code, resp.Error.Details
}

func TestCreateTicket(t *testing.T) {
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			if input.PatientID != 7 || input.ClinicID != 2 || input.Priority != 5 {
				t.Fatalf("unexpected input %+v", input)
			}
			return models.Ticket{ID: 1, PatientID: 7, ClinicID: 2, Priority: 5, Status: models.StatusPending, CreatedAt: time.Now().UTC()}, nil
		},
	}

	recorder := doRequest(t, st, http.MethodPost, "/api/tickets", map[string]interface{}{
		"patient_id": 7, "clinic_id": 2, "priority": 5,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var ticket models.Ticket
	if err := json.Unmarshal(recorder.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.ID != 1 || ticket.Status != models.StatusPending {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	recorder := doRequest(t, fakeStore{}, http.MethodPost, "/api/tickets", map[string]interface{}{"clinic_id": 2})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if code, _ := decodeErrorCode(t, recorder); code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %s", code)
	}

	recorder = doRequest(t, fakeStore{}, http.MethodPost, "/api/tickets", map[string]interface{}{"patient_id": 1, "clinic_id": 2, "extra": true})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on unknown field, got %d", recorder.Code)
	}
}

func TestCreateTicketDuplicate(t *testing.T) {
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			return models.Ticket{}, &store.DuplicateError{ConflictingTicketID: 42}
		},
	}

	recorder := doRequest(t, st, http.MethodPost, "/api/tickets", map[string]interface{}{"patient_id": 7, "clinic_id": 2})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	code, details := decodeErrorCode(t, recorder)
	if code != "duplicate_active_ticket" {
		t.Fatalf("expected duplicate_active_ticket, got %s", code)
	}
	if details["conflicting_ticket_id"] != float64(42) {
		t.Fatalf("expected conflicting ticket 42, got %v", details)
	}
}

func TestCreateTicketReferenceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{store.ErrClinicNotFound, http.StatusConflict, "clinic_not_found_or_inactive"},
		{store.ErrUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
	}

	for _, tt := range cases {
		st := fakeStore{
			createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
				return models.Ticket{}, tt.err
			},
		}
		recorder := doRequest(t, st, http.MethodPost, "/api/tickets", map[string]interface{}{"patient_id": 7, "clinic_id": 2})
		if recorder.Code != tt.status {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.status, recorder.Code)
		}
		if code, _ := decodeErrorCode(t, recorder); code != tt.code {
			t.Fatalf("%v: expected %s, got %s", tt.err, tt.code, code)
		}
	}
}

func TestCallNext(t *testing.T) {
	called := time.Now().UTC()
	st := fakeStore{
		callNextFn: func(ctx context.Context, clinicID int64, calledAt time.Time) (models.Ticket, error) {
			if clinicID != 3 {
				t.Fatalf("unexpected clinic %d", clinicID)
			}
			return models.Ticket{ID: 9, ClinicID: 3, Status: models.StatusCalling, CalledAt: &called}, nil
		},
	}

	recorder := doRequest(t, st, http.MethodPost, "/api/tickets/actions/call-next", map[string]interface{}{"clinic_id": 3})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var ticket models.Ticket
	if err := json.Unmarshal(recorder.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.ID != 9 || ticket.Status != models.StatusCalling || ticket.CalledAt == nil {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	st := fakeStore{
		callNextFn: func(ctx context.Context, clinicID int64, calledAt time.Time) (models.Ticket, error) {
			return models.Ticket{}, store.ErrNoPendingTickets
		},
	}

	recorder := doRequest(t, st, http.MethodPost, "/api/tickets/actions/call-next", map[string]interface{}{"clinic_id": 3})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if code, _ := decodeErrorCode(t, recorder); code != "no_pending_tickets" {
		t.Fatalf("expected no_pending_tickets, got %s", code)
	}
}

func TestChangeState(t *testing.T) {
	st := fakeStore{
		changeFn: func(ctx context.Context, ticketID int64, target string, occurredAt time.Time) (models.Ticket, error) {
			if ticketID != 5 || target != models.StatusInConsultation {
				t.Fatalf("unexpected args ticket=%d target=%s", ticketID, target)
			}
			return models.Ticket{ID: 5, Status: models.StatusInConsultation}, nil
		},
	}

	recorder := doRequest(t, st, http.MethodPost, "/api/tickets/5/actions/state", map[string]interface{}{"state": "in_consultation"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestChangeStateRejectsUnknownTarget(t *testing.T) {
	for _, state := range []string{"pending", "calling", "done", ""} {
		recorder := doRequest(t, fakeStore{}, http.MethodPost, "/api/tickets/5/actions/state", map[string]interface{}{"state": state})
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("state %q: expected 400, got %d", state, recorder.Code)
		}
	}
}

func TestChangeStateInvalidTransition(t *testing.T) {
	st := fakeStore{
		changeFn: func(ctx context.Context, ticketID int64, target string, occurredAt time.Time) (models.Ticket, error) {
			return models.Ticket{}, &store.TransitionError{From: models.StatusInConsultation, Requested: models.StatusAbsent}
		},
	}

	recorder := doRequest(t, st, http.MethodPost, "/api/tickets/5/actions/state", map[string]interface{}{"state": "absent"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	code, details := decodeErrorCode(t, recorder)
	if code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", code)
	}
	if details["from"] != "in_consultation" || details["requested"] != "absent" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestChangeStateTicketNotFound(t *testing.T) {
	st := fakeStore{
		changeFn: func(ctx context.Context, ticketID int64, target string, occurredAt time.Time) (models.Ticket, error) {
			return models.Ticket{}, store.ErrTicketNotFound
		},
	}

	recorder := doRequest(t, st, http.MethodPost, "/api/tickets/5/actions/state", map[string]interface{}{"state": "closed"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestGetTicket(t *testing.T) {
	st := fakeStore{
		getFn: func(ctx context.Context, ticketID int64) (models.Ticket, error) {
			return models.Ticket{ID: ticketID, Status: models.StatusPending}, nil
		},
	}

	recorder := doRequest(t, st, http.MethodGet, "/api/tickets/12", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	recorder = doRequest(t, st, http.MethodGet, "/api/tickets/abc", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", recorder.Code)
	}
}

func TestQueue(t *testing.T) {
	now := time.Now().UTC()
	st := fakeStore{
		queueFn: func(ctx context.Context, clinicID int64, limit int) ([]models.QueueEntry, error) {
			if clinicID != 4 {
				t.Fatalf("unexpected clinic %d", clinicID)
			}
			if limit != 10 {
				t.Fatalf("expected per-clinic limit 10, got %d", limit)
			}
			return []models.QueueEntry{
				{TicketID: 2, PatientName: "Ana", Status: models.StatusCalling, CreatedAt: now, ClinicID: 4, ClinicName: "General"},
				{TicketID: 1, PatientName: "Luis", Status: models.StatusPending, CreatedAt: now, ClinicID: 4, ClinicName: "General"},
			}, nil
		},
	}

	recorder := doRequest(t, st, http.MethodGet, "/api/queue?clinic_id=4", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var entries []models.QueueEntry
	if err := json.Unmarshal(recorder.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Status != models.StatusCalling {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestQueueGlobal(t *testing.T) {
	st := fakeStore{
		queueFn: func(ctx context.Context, clinicID int64, limit int) ([]models.QueueEntry, error) {
			if clinicID != 0 {
				t.Fatalf("expected all-clinics query, got clinic %d", clinicID)
			}
			if limit != 100 {
				t.Fatalf("expected global limit 100, got %d", limit)
			}
			return nil, nil
		},
	}

	recorder := doRequest(t, st, http.MethodGet, "/api/queue", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if body := recorder.Body.String(); body != "[]\n" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestActiveTicket(t *testing.T) {
	st := fakeStore{
		activeFn: func(ctx context.Context, patientID int64) (bool, error) {
			return patientID == 7, nil
		},
	}

	recorder := doRequest(t, st, http.MethodGet, "/api/patients/7/active-ticket", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body["active"] {
		t.Fatalf("expected active=true, got %v", body)
	}

	recorder = doRequest(t, st, http.MethodGet, "/api/patients/8/active-ticket", nil)
	var second map[string]bool
	if err := json.Unmarshal(recorder.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if second["active"] {
		t.Fatalf("expected active=false, got %v", second)
	}
}
