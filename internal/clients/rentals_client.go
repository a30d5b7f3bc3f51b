package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
)

// RentalsClient calls the rentals API as a member. It has no breaker:
// the chaos runner needs every request to reach the service.
type RentalsClient struct {
	baseURL string
	http    *http.Client
}

func NewRentalsClient(baseURL string) *RentalsClient {
	return &RentalsClient{baseURL: baseURL, http: httpx.Client()}
}

// Checkout rents one copy of the listing weekly for the bearer of token.
func (c *RentalsClient) Checkout(ctx context.Context, token string, listingID uuid.UUID) error {
	raw, err := json.Marshal(map[string]any{
		"items": []map[string]any{{"listing_id": listingID, "frequency": "weekly"}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Unavailable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return httpx.ReadError(resp)
	}
	return nil
}
