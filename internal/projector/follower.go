package projector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shelfshare/pkg/eventstore"
)

// ListingKey is the event metadata key naming the listing an event touched.
const ListingKey = "listing_id"

// settleLag is how old an event must be before the follower consumes it.
// Event ids are handed out before commit, so a young event may still have
// a lower id in flight behind it.
const settleLag = 5 * time.Second

// Journal is the part of the event store a Follower reads.
type Journal interface {
	StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]eventstore.Event, error)
	LoadCursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, pos int64) error
}

// Follower re-projects only the listings touched by new journal events.
type Follower struct {
	projector *Projector
	journal   Journal
	name      string
	batchSize int
	interval  time.Duration
	lag       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewFollower(p *Projector, journal Journal, interval time.Duration, logger *zap.Logger) *Follower {
	return &Follower{
		projector: p,
		journal:   journal,
		name:      "listing-availability",
		batchSize: 500,
		interval:  interval,
		lag:       settleLag,
		now:       time.Now,
		logger:    logger,
	}
}

// Run polls the journal until ctx ends.
func (f *Follower) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		if _, err := f.CatchUp(ctx); err != nil {
			f.logger.Warn("journal catch-up failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CatchUp projects listings named by events after the saved cursor and
// returns how many events it consumed. The cursor only advances past a
// batch whose listings all projected; failed batches are retried next time.
// Events younger than the settle lag are left for a later pass.
func (f *Follower) CatchUp(ctx context.Context) (int, error) {
	pos, err := f.journal.LoadCursor(ctx, f.name)
	if err != nil {
		return 0, err
	}
	consumed := 0
	for {
		events, err := f.journal.StreamEvents(ctx, pos, f.batchSize)
		if err != nil {
			return consumed, err
		}
		full := len(events) == f.batchSize
		events = settled(events, f.now().Add(-f.lag))
		if len(events) == 0 {
			return consumed, nil
		}

		ids := touchedListings(events, f.logger)
		if len(ids) > 0 {
			report := f.projector.ProjectMany(ctx, ids)
			if report.Failed() > 0 {
				f.logger.Warn("journal batch left listings unprojected",
					zap.Int64("from", pos),
					zap.Int("failed", report.Failed()))
				return consumed, nil
			}
		}

		pos = events[len(events)-1].ID
		if err := f.journal.SaveCursor(ctx, f.name, pos); err != nil {
			return consumed, err
		}
		consumed += len(events)
		if !full || len(events) < f.batchSize {
			return consumed, nil
		}
	}
}

// settled returns the leading events created before cutoff.
func settled(events []eventstore.Event, cutoff time.Time) []eventstore.Event {
	for i, e := range events {
		if !e.CreatedAt.Before(cutoff) {
			return events[:i]
		}
	}
	return events
}

func touchedListings(events []eventstore.Event, logger *zap.Logger) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, e := range events {
		raw, ok := e.Metadata[ListingKey]
		if !ok {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			logger.Warn("event has malformed listing id", zap.Int64("event_id", e.ID), zap.String("value", raw))
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
