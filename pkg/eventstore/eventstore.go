// Package eventstore is an append-only journal of aggregate events with
// optimistic concurrency per aggregate and a global cursor for followers.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shelfshare/internal/errs"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is one journal entry. Version counts from 1 per aggregate; ID is
// global and increasing.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Metadata      Metadata        `json:"metadata" db:"metadata"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// EventStore keeps events in the events table.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("shelfshare/eventstore"),
	}
}

const eventColumns = `id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at`

// AppendEvents atomically appends events after expectedVersion. It returns
// ErrConcurrencyConflict when another writer got there first.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	tx, err := es.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", errs.FromDB(err))
	}
	defer tx.Rollback()

	var currentVersion int
	if err := tx.GetContext(ctx, &currentVersion, `
		SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1
	`, aggregateID); err != nil {
		return fmt.Errorf("query current version: %w", errs.FromDB(err))
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	for i, event := range events {
		version := expectedVersion + i + 1
		var eventID int64
		err := tx.GetContext(ctx, &eventID, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, aggregateID, aggregateType, event.EventType, string(event.EventData), event.Metadata, version, now)
		if err != nil {
			// the unique (aggregate_id, version) index catches racing appends
			if errs.IsUniqueViolation(err, "") {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, errs.FromDB(err))
		}
		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", errs.FromDB(err))
	}
	return nil
}

// LoadEvents returns an aggregate's events from fromVersion, up to
// toVersion when it is positive.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
		),
	)
	defer span.End()

	query := `SELECT ` + eventColumns + ` FROM events WHERE aggregate_id = $1 AND version >= $2`
	args := []interface{}{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	var events []Event
	if err := es.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", errs.FromDB(err))
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version of an aggregate, 0 if none.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	var version int
	err := es.db.GetContext(ctx, &version, `
		SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1
	`, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", errs.FromDB(err))
	}
	return version, nil
}

// StreamEvents returns up to batchSize events with an id above fromID.
func (es *EventStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	var events []Event
	err := es.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", errs.FromDB(err))
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// LoadCursor returns a follower's saved position, 0 when it has none.
func (es *EventStore) LoadCursor(ctx context.Context, name string) (int64, error) {
	var pos int64
	err := es.db.GetContext(ctx, &pos, `SELECT position FROM projection_cursors WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor %s: %w", name, errs.FromDB(err))
	}
	return pos, nil
}

// SaveCursor stores a follower's position. Positions never move backwards.
func (es *EventStore) SaveCursor(ctx context.Context, name string, pos int64) error {
	_, err := es.db.ExecContext(ctx, `
		INSERT INTO projection_cursors (name, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET position = EXCLUDED.position, updated_at = EXCLUDED.updated_at
		WHERE projection_cursors.position < EXCLUDED.position
	`, name, pos)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", name, errs.FromDB(err))
	}
	return nil
}
