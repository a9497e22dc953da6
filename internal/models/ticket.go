package models

import "time"

type Ticket struct {
	ID         int64      `json:"id"`
	PatientID  int64      `json:"patient_id"`
	ClinicID   int64      `json:"clinic_id"`
	Priority   int        `json:"priority"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
	AttendedAt *time.Time `json:"attended_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

const (
	StatusPending        = "pending"
	StatusCalling        = "calling"
	StatusInConsultation = "in_consultation"
	StatusClosed         = "closed"
	StatusAbsent         = "absent"
)

// QueueEntry is one row of the public "now serving / up next" board.
type QueueEntry struct {
	TicketID    int64     `json:"ticket_id"`
	PatientName string    `json:"patient_name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ClinicID    int64     `json:"clinic_id"`
	ClinicName  string    `json:"clinic_name"`
}
