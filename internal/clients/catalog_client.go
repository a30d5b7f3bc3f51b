// internal/clients/catalog_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"shelfshare/internal/catalog"
	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
)

// CatalogClient is a catalog.Store backed by the catalog service.
type CatalogClient struct {
	baseURL       string
	internalToken string
	http          *http.Client
	breaker       *gobreaker.CircuitBreaker
	maxTries      uint
	initial       time.Duration
}

var _ catalog.Store = (*CatalogClient)(nil)

func NewCatalogClient(baseURL, internalToken string, logger *zap.Logger) *CatalogClient {
	return &CatalogClient{
		baseURL:       baseURL,
		internalToken: internalToken,
		http:          httpx.Client(),
		breaker:       newBreaker("catalog", logger),
		maxTries:      3,
		initial:       100 * time.Millisecond,
	}
}

func (c *CatalogClient) GetListing(ctx context.Context, id uuid.UUID) (*catalog.Listing, error) {
	var listing catalog.Listing
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/listings/%s", id), nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

func (c *CatalogClient) UpdateListingAvailability(ctx context.Context, id uuid.UUID, a catalog.Availability) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/internal/listings/%s/availability", id), a, nil)
}

func (c *CatalogClient) ListAllListingIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := c.do(ctx, http.MethodGet, "/internal/listings/ids", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// do retries transient failures with backoff. Every catalog call is
// idempotent. An open breaker ends the retries.
func (c *CatalogClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var raw []byte
	if in != nil {
		var err error
		if raw, err = json.Marshal(in); err != nil {
			return err
		}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.attempt(ctx, method, path, raw, out)
		if err != nil && (!errs.IsRetriable(err) || errors.Is(err, gobreaker.ErrOpenState)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	return err
}

func (c *CatalogClient) attempt(ctx context.Context, method, path string, raw []byte, out interface{}) error {
	var body io.Reader
	if raw != nil {
		body = bytes.NewReader(raw)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set(httpx.InternalTokenHeader, c.internalToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errs.Unavailable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, httpx.ReadError(resp)
		}
		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil, nil
	})
	return breakerError(err)
}
