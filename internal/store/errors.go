package store

import (
	"errors"
	"fmt"
)

var (
	ErrPatientNotFound       = errors.New("patient not found")
	ErrClinicNotFound        = errors.New("clinic not found or inactive")
	ErrDuplicateActiveTicket = errors.New("patient already has an active ticket today")
	ErrNoPendingTickets      = errors.New("no pending tickets")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrInvalidTransition     = errors.New("invalid ticket state transition")
	ErrSessionNotFound       = errors.New("session not found")
	ErrUnavailable           = errors.New("store unavailable")
)

// DuplicateError carries the blocking ticket for diagnostics. It matches
// ErrDuplicateActiveTicket under errors.Is. ConflictingTicketID may be
// zero when the conflict was detected by the unique index rather than
// the pre-check.
type DuplicateError struct {
	ConflictingTicketID int64
}

func (e *DuplicateError) Error() string {
	if e.ConflictingTicketID == 0 {
		return ErrDuplicateActiveTicket.Error()
	}
	return fmt.Sprintf("patient already has active ticket %d today", e.ConflictingTicketID)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateActiveTicket
}

// TransitionError reports the rejected (from, requested) state pair.
// It matches ErrInvalidTransition under errors.Is.
type TransitionError struct {
	From      string
	Requested string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.Requested)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
