package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"shelfshare/internal/config"
	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
	"shelfshare/internal/resync"
)

// ResyncClient posts resync signals to the reconciler.
type ResyncClient struct {
	url      string
	token    string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	maxTries uint
	initial  time.Duration
}

var _ resync.Trigger = (*ResyncClient)(nil)

func NewResyncClient(reconcilerURL, internalToken string, logger *zap.Logger) *ResyncClient {
	return &ResyncClient{
		url:      reconcilerURL + "/resync",
		token:    internalToken,
		http:     httpx.Client(),
		breaker:  newBreaker("reconciler", logger),
		maxTries: 3,
		initial:  100 * time.Millisecond,
	}
}

// Notify delivers sig, retrying transient failures with backoff.
func (c *ResyncClient) Notify(ctx context.Context, sig resync.Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.post(ctx, raw)
		})
		err = breakerError(err)
		if err != nil && !errs.IsRetriable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	return err
}

func (c *ResyncClient) post(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpx.InternalTokenHeader, c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Unavailable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return httpx.ReadError(resp)
	}
	return nil
}

// NewResyncTrigger builds the asynchronous resync trigger for the
// configured transport. closer releases the transport once the caller has
// waited for in-flight signals.
func NewResyncTrigger(cfg config.Resync, internalToken string, logger *zap.Logger) (trigger *resync.Async, closer func() error) {
	closer = func() error { return nil }
	var next resync.Trigger
	switch cfg.Transport {
	case "kafka":
		pub := resync.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		next, closer = pub, pub.Close
	case "none":
		next = resync.Noop{}
	default:
		next = NewResyncClient(cfg.ReconcilerURL, internalToken, logger)
	}
	logger.Info("resync transport selected", zap.String("transport", cfg.Transport))
	return resync.NewAsync(next, logger), closer
}
