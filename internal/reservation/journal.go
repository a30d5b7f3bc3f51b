package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"shelfshare/internal/projector"
	"shelfshare/pkg/eventstore"
)

const aggregateOrder = "order"

// Appender is the part of the event store the journal writes through.
type Appender interface {
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error
}

// EventJournal appends each entry to the order's event stream, tagged with
// its listing so the reconciler can re-project it.
type EventJournal struct {
	store    Appender
	maxTries uint
}

func NewEventJournal(store Appender) *EventJournal {
	return &EventJournal{store: store, maxTries: 5}
}

// Record appends e at the stream's current version, retrying when a racing
// writer takes that version first.
func (j *EventJournal) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", e.Type, err)
	}
	event := eventstore.Event{
		AggregateID:   e.OrderID,
		AggregateType: aggregateOrder,
		EventType:     e.Type,
		EventData:     data,
		Metadata:      eventstore.Metadata{projector.ListingKey: e.ListingID.String()},
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		version, err := j.store.GetCurrentVersion(ctx, e.OrderID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		event.Version = version + 1
		err = j.store.AppendEvents(ctx, e.OrderID, aggregateOrder, version, []eventstore.Event{event})
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(j.maxTries))
	if err != nil {
		return fmt.Errorf("failed to journal %s for order %s: %w", e.Type, e.OrderID, err)
	}
	return nil
}

// MemoryJournal keeps entries in process.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
	Fail    error
}

func (j *MemoryJournal) Record(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Fail != nil {
		return j.Fail
	}
	j.entries = append(j.entries, e)
	return nil
}

// Entries returns what has been recorded so far.
func (j *MemoryJournal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}
