package postgres

import (
	"context"
	"errors"
	"time"

	"turnero/turno-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.Offset, error) {
	var offset store.Offset
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM broadcast_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Offset{}, nil
		}
		return store.Offset{}, wrapErr(err)
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO broadcast_offsets (consumer, last_event_time, last_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer)
		DO UPDATE SET last_event_time = EXCLUDED.last_event_time, last_event_id = EXCLUDED.last_event_id
	`, consumer, offset.LastEventTime, offset.LastEventID)
	return wrapErr(err)
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	lastTime := after.LastEventTime
	if lastTime.IsZero() {
		lastTime = time.Unix(0, 0).UTC()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
			OR (created_at = $1 AND event_id > $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, lastTime, after.LastEventID, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return events, nil
}

func (s *Store) CleanupOutbox(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE created_at < $1
	`, before)
	return wrapErr(err)
}
