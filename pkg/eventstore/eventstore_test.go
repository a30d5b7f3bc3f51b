package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfshare/internal/pgtest"
)

type noteEvent struct {
	Message string `json:"message"`
}

func note(t testing.TB, msg string) Event {
	data, err := json.Marshal(noteEvent{Message: msg})
	require.NoError(t, err)
	return Event{EventType: "Noted", EventData: data, Metadata: Metadata{"listing_id": "l-1"}}
}

func TestAppendAndLoad(t *testing.T) {
	store := NewEventStore(pgtest.Open(t))
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.AppendEvents(ctx, id, "order", 0, []Event{note(t, "a"), note(t, "b")}))
	require.NoError(t, store.AppendEvents(ctx, id, "order", 2, []Event{note(t, "c")}))

	version, err := store.GetCurrentVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	events, err := store.LoadEvents(ctx, id, 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Version)
	assert.Equal(t, "l-1", events[0].Metadata["listing_id"])

	var body noteEvent
	require.NoError(t, json.Unmarshal(events[1].EventData, &body))
	assert.Equal(t, "c", body.Message)
}

func TestAppendDetectsStaleVersion(t *testing.T) {
	store := NewEventStore(pgtest.Open(t))
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.AppendEvents(ctx, id, "order", 0, []Event{note(t, "a")}))
	err := store.AppendEvents(ctx, id, "order", 0, []Event{note(t, "b")})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	assert.ErrorIs(t, store.AppendEvents(ctx, id, "order", -1, nil), ErrInvalidVersion)
}

func TestStreamAndCursor(t *testing.T) {
	store := NewEventStore(pgtest.Open(t))
	ctx := context.Background()

	start, err := store.StreamEvents(ctx, 0, 1<<30)
	require.NoError(t, err)
	var from int64
	if len(start) > 0 {
		from = start[len(start)-1].ID
	}

	id := uuid.New()
	require.NoError(t, store.AppendEvents(ctx, id, "order", 0, []Event{note(t, "a"), note(t, "b")}))

	batch, err := store.StreamEvents(ctx, from, 10)
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	assert.Greater(t, batch[0].ID, from)

	name := "test-" + uuid.NewString()
	pos, err := store.LoadCursor(ctx, name)
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, store.SaveCursor(ctx, name, 42))
	require.NoError(t, store.SaveCursor(ctx, name, 7))
	pos, err = store.LoadCursor(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(42), pos)
}

func BenchmarkAppendEvents(b *testing.B) {
	store := NewEventStore(pgtest.Open(b))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		events := []Event{note(b, fmt.Sprintf("event %d", i))}
		b.StartTimer()

		if err := store.AppendEvents(ctx, uuid.New(), "order", 0, events); err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}
