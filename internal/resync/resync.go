// Package resync carries out-of-band requests for a projection sweep.
// Senders never wait for delivery; a lost signal is healed by the next
// periodic sweep.
package resync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Signal asks the reconciler to re-project listings. No ids means every
// listing.
type Signal struct {
	ListingIDs []uuid.UUID `json:"listing_ids,omitempty"`
	Reason     string      `json:"reason"`
	At         time.Time   `json:"at"`
}

// Full requests a sweep over every listing.
func Full(reason string) Signal {
	return Signal{Reason: reason, At: time.Now().UTC()}
}

// ForListings requests a partial sweep.
func ForListings(reason string, ids ...uuid.UUID) Signal {
	return Signal{ListingIDs: ids, Reason: reason, At: time.Now().UTC()}
}

func (s Signal) IsFull() bool { return len(s.ListingIDs) == 0 }

// Trigger delivers a signal to whoever runs the sweep.
type Trigger interface {
	Notify(ctx context.Context, sig Signal) error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, sig Signal) error

func (f TriggerFunc) Notify(ctx context.Context, sig Signal) error { return f(ctx, sig) }

// Noop drops every signal. Used when RESYNC_TRANSPORT=none.
type Noop struct{}

func (Noop) Notify(context.Context, Signal) error { return nil }

// Async fires signals on background goroutines. Failures are logged and
// never reach the caller. Full sweeps are coalesced to one per second.
type Async struct {
	next    Trigger
	logger  *zap.Logger
	timeout time.Duration
	full    *rate.Limiter
	wg      sync.WaitGroup
}

func NewAsync(next Trigger, logger *zap.Logger) *Async {
	return &Async{
		next:    next,
		logger:  logger,
		timeout: 5 * time.Second,
		full:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Fire sends sig without blocking. The request context is not reused since
// the caller's request usually ends before delivery.
func (a *Async) Fire(sig Signal) {
	if sig.IsFull() && !a.full.Allow() {
		a.logger.Debug("coalesced full resync", zap.String("reason", sig.Reason))
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, sig); err != nil {
			a.logger.Warn("resync trigger failed",
				zap.String("reason", sig.Reason),
				zap.Int("listings", len(sig.ListingIDs)),
				zap.Error(err))
		}
	}()
}

// Notify satisfies Trigger; it always returns nil.
func (a *Async) Notify(_ context.Context, sig Signal) error {
	a.Fire(sig)
	return nil
}

// Wait blocks until in-flight signals finish.
func (a *Async) Wait() { a.wg.Wait() }
