package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"splat-orchestrator/core/models"
)

// EventRepository handles database operations for training events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordEvent stores one published event. Replays of the same id are ignored.
func (r *EventRepository) RecordEvent(ctx context.Context, event models.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	query := `
		INSERT INTO training_events (id, job_id, room, step, status, message, payload, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.JobID,
		event.Room,
		string(event.Step),
		string(event.Status),
		event.Message,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events for room, newest first
func (r *EventRepository) ListEvents(ctx context.Context, room string, limit int) ([]models.StatusEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT payload
		FROM training_events
		WHERE room = $1
		ORDER BY at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.StatusEvent{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var event models.StatusEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
