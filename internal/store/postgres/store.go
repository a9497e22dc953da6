package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"turnero/turno-service/internal/models"
	"turnero/turno-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// duplicateIndexName is the partial unique index backing the
// one-active-ticket-per-patient-per-day invariant.
const duplicateIndexName = "tickets_one_active_per_day"

const ticketColumns = "id, patient_id, clinic_id, priority, status, created_at, called_at, attended_at, closed_at"

var activeStatuses = []string{models.StatusPending, models.StatusCalling, models.StatusInConsultation}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var patientExists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, input.PatientID)
	if err = row.Scan(&patientExists); err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	if !patientExists {
		err = store.ErrPatientNotFound
		return models.Ticket{}, err
	}

	var clinicActive bool
	row = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clinics WHERE id = $1 AND active)`, input.ClinicID)
	if err = row.Scan(&clinicActive); err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	if !clinicActive {
		err = store.ErrClinicNotFound
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// Diagnostic pre-check; the unique index below closes the race.
	var conflictID int64
	row = tx.QueryRow(ctx, `
		SELECT id
		FROM tickets
		WHERE patient_id = $1
			AND status = ANY($2)
			AND active_day = (timezone('UTC', $3::timestamptz))::date
		LIMIT 1
	`, input.PatientID, activeStatuses, createdAt)
	if err = row.Scan(&conflictID); err == nil {
		err = &store.DuplicateError{ConflictingTicketID: conflictID}
		return models.Ticket{}, err
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, wrapErr(err)
	}

	ticket := models.Ticket{
		PatientID: input.PatientID,
		ClinicID:  input.ClinicID,
		Priority:  input.Priority,
		Status:    models.StatusPending,
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (patient_id, clinic_id, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, input.PatientID, input.ClinicID, input.Priority, models.StatusPending, createdAt)
	if err = row.Scan(&ticket.ID, &ticket.CreatedAt); err != nil {
		if isDuplicateViolation(err) {
			err = &store.DuplicateError{ConflictingTicketID: s.findActiveTicketID(ctx, input.PatientID, createdAt)}
			return models.Ticket{}, err
		}
		return models.Ticket{}, wrapErr(err)
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.created", map[string]interface{}{
		"ticket":    ticket,
		"clinic_id": ticket.ClinicID,
	}); err != nil {
		return models.Ticket{}, wrapErr(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return ticket, nil
}

// findActiveTicketID is best-effort: it runs outside the failed insert
// transaction and may return 0 if the conflicting ticket closed meanwhile.
func (s *Store) findActiveTicketID(ctx context.Context, patientID int64, createdAt time.Time) int64 {
	var id int64
	row := s.pool.QueryRow(ctx, `
		SELECT id
		FROM tickets
		WHERE patient_id = $1
			AND status = ANY($2)
			AND active_day = (timezone('UTC', $3::timestamptz))::date
		LIMIT 1
	`, patientID, activeStatuses, createdAt)
	if err := row.Scan(&id); err != nil {
		return 0
	}
	return id
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, wrapErr(err)
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, clinicID int64, calledAt time.Time) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	// SKIP LOCKED keeps concurrent dispatchers for the same clinic from
	// claiming one row twice without blocking other clinics.
	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT id
			FROM tickets
			WHERE clinic_id = $1 AND status = $2
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET status = $3,
			called_at = $4
		FROM next_ticket
		WHERE tickets.id = next_ticket.id
		RETURNING tickets.id, tickets.patient_id, tickets.clinic_id, tickets.priority, tickets.status, tickets.created_at, tickets.called_at, tickets.attended_at, tickets.closed_at
	`, clinicID, models.StatusPending, models.StatusCalling, calledAt)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoPendingTickets
			return models.Ticket{}, err
		}
		return models.Ticket{}, wrapErr(err)
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.called", map[string]interface{}{
		"ticket_id": ticket.ID,
		"clinic_id": ticket.ClinicID,
		"called_at": ticket.CalledAt,
	}); err != nil {
		return models.Ticket{}, wrapErr(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return ticket, nil
}

func (s *Store) ChangeState(ctx context.Context, ticketID int64, target string, occurredAt time.Time) (models.Ticket, error) {
	allowed := store.AllowedFrom(target)
	if len(allowed) == 0 {
		return models.Ticket{}, &store.TransitionError{Requested: target}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	set := "status = $2"
	args := []interface{}{ticketID, target}
	if column, ok := store.StampColumn(target); ok {
		args = append(args, occurredAt)
		set = fmt.Sprintf("status = $2, %s = $3", column)
	}
	args = append(args, allowed)
	query := fmt.Sprintf(`
		UPDATE tickets
		SET %s
		WHERE id = $1 AND status = ANY($%d)
		RETURNING %s
	`, set, len(args), ticketColumns)

	row := tx.QueryRow(ctx, query, args...)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var current string
			row = tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1`, ticketID)
			if scanErr := row.Scan(&current); scanErr != nil {
				if errors.Is(scanErr, pgx.ErrNoRows) {
					err = store.ErrTicketNotFound
					return models.Ticket{}, err
				}
				err = scanErr
				return models.Ticket{}, wrapErr(err)
			}
			err = &store.TransitionError{From: current, Requested: target}
			return models.Ticket{}, err
		}
		return models.Ticket{}, wrapErr(err)
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.state_changed", map[string]interface{}{
		"ticket_id": ticket.ID,
		"clinic_id": ticket.ClinicID,
		"state":     ticket.Status,
	}); err != nil {
		return models.Ticket{}, wrapErr(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return ticket, nil
}

func (s *Store) PublicQueue(ctx context.Context, clinicID int64, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT t.id, p.full_name, t.status, t.created_at, c.id, c.name
		FROM tickets t
		JOIN patients p ON p.id = t.patient_id
		JOIN clinics c ON c.id = t.clinic_id
		WHERE t.status = ANY($1)
	`
	args := []interface{}{activeStatuses}
	if clinicID != 0 {
		query += " AND t.clinic_id = $2"
		args = append(args, clinicID)
	}
	query += fmt.Sprintf(`
		ORDER BY CASE t.status WHEN 'calling' THEN 0 WHEN 'in_consultation' THEN 1 ELSE 2 END, t.created_at ASC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		if err := rows.Scan(&entry.TicketID, &entry.PatientName, &entry.Status, &entry.CreatedAt, &entry.ClinicID, &entry.ClinicName); err != nil {
			return nil, wrapErr(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return entries, nil
}

func (s *Store) HasActiveTicketToday(ctx context.Context, patientID int64) (bool, error) {
	var active bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM tickets
			WHERE patient_id = $1
				AND status = ANY($2)
				AND active_day = (timezone('UTC', now()))::date
		)
	`, patientID, activeStatuses)
	if err := row.Scan(&active); err != nil {
		return false, wrapErr(err)
	}
	return active, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, role, permissions, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > now()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.Role, &session.Permissions, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, wrapErr(err)
	}
	return session, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload map[string]interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	return err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAtNull sql.NullTime
	var attendedAtNull sql.NullTime
	var closedAtNull sql.NullTime
	if err := row.Scan(&ticket.ID, &ticket.PatientID, &ticket.ClinicID, &ticket.Priority, &ticket.Status, &ticket.CreatedAt, &calledAtNull, &attendedAtNull, &closedAtNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.AttendedAt = nullTimePtr(attendedAtNull)
	ticket.ClosedAt = nullTimePtr(closedAtNull)
	return ticket, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func isDuplicateViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == duplicateIndexName
}

// wrapErr tags transport-level failures as retryable; domain sentinels
// pass through untouched.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{
		store.ErrPatientNotFound,
		store.ErrClinicNotFound,
		store.ErrDuplicateActiveTicket,
		store.ErrNoPendingTickets,
		store.ErrTicketNotFound,
		store.ErrInvalidTransition,
		store.ErrSessionNotFound,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
