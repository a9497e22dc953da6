package store

import (
	"context"
	"encoding/json"
	"time"

	"turnero/turno-service/internal/models"
)

type CreateTicketInput struct {
	PatientID int64
	ClinicID  int64
	Priority  int
	CreatedAt time.Time
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	CallNext(ctx context.Context, clinicID int64, calledAt time.Time) (models.Ticket, error)
	ChangeState(ctx context.Context, ticketID int64, target string, occurredAt time.Time) (models.Ticket, error)
	PublicQueue(ctx context.Context, clinicID int64, limit int) ([]models.QueueEntry, error)
	HasActiveTicketToday(ctx context.Context, patientID int64) (bool, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Session struct {
	SessionID   string
	UserID      int64
	Role        string
	Permissions []string
	ExpiresAt   time.Time
}

func (s Session) HasPermission(permission string) bool {
	for _, item := range s.Permissions {
		if item == permission {
			return true
		}
	}
	return false
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Offset marks the last outbox event handed to the broadcast publisher.
type Offset struct {
	LastEventTime time.Time
	LastEventID   string
}

type OutboxSource interface {
	GetOffset(ctx context.Context, consumer string) (Offset, error)
	UpdateOffset(ctx context.Context, consumer string, offset Offset) error
	ListOutboxEvents(ctx context.Context, after Offset, limit int) ([]OutboxEvent, error)
	CleanupOutbox(ctx context.Context, before time.Time) error
}
