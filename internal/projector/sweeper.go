package projector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shelfshare/internal/resync"
)

// Sweeper runs full sweeps on an interval and partial ones on demand. It
// satisfies resync.Trigger so it can be handed signals in process.
type Sweeper struct {
	projector *Projector
	interval  time.Duration
	signals   chan resync.Signal
	logger    *zap.Logger
}

func NewSweeper(p *Projector, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		projector: p,
		interval:  interval,
		signals:   make(chan resync.Signal, 256),
		logger:    logger,
	}
}

// Notify queues sig without blocking. When the queue is full the signal is
// dropped; the next periodic sweep covers it.
func (s *Sweeper) Notify(_ context.Context, sig resync.Signal) error {
	select {
	case s.signals <- sig:
	default:
		s.logger.Warn("resync queue full, dropping signal", zap.String("reason", sig.Reason))
	}
	return nil
}

// Run sweeps once at start and then until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepAll(ctx)
		case sig := <-s.signals:
			if sig.IsFull() {
				s.sweepAll(ctx)
				continue
			}
			ids := s.drain(sig)
			if ids == nil {
				s.sweepAll(ctx)
				continue
			}
			report := s.projector.ProjectMany(ctx, ids)
			s.logger.Debug("partial sweep finished",
				zap.Int("listings", report.Total),
				zap.Int("failed", report.Failed()))
		}
	}
}

// drain merges sig with whatever else is queued. It returns nil if any
// queued signal asked for a full sweep.
func (s *Sweeper) drain(first resync.Signal) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	add := func(sig resync.Signal) {
		for _, id := range sig.ListingIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	add(first)
	for {
		select {
		case sig := <-s.signals:
			if sig.IsFull() {
				return nil
			}
			add(sig)
		default:
			return ids
		}
	}
}

func (s *Sweeper) sweepAll(ctx context.Context) {
	report, err := s.projector.ProjectAll(ctx)
	if err != nil {
		s.logger.Error("sweep could not list listings", zap.Error(err))
		return
	}
	s.logger.Info("sweep finished",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.Duration))
}
