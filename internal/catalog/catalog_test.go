package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shelfshare/internal/errs"
	"shelfshare/internal/httpx"
	"shelfshare/internal/membership"
	"shelfshare/internal/resync"
)

type signals struct{ got []resync.Signal }

func (s *signals) Notify(_ context.Context, sig resync.Signal) error {
	s.got = append(s.got, sig)
	return nil
}

func newTestService() (Service, *MemoryRepository, *signals) {
	repo := NewMemoryRepository()
	sig := &signals{}
	return NewService(repo, sig, zap.NewNop()), repo, sig
}

func TestCreateListing(t *testing.T) {
	svc, _, sig := newTestService()
	ctx := context.Background()

	l, err := svc.CreateListing(ctx, NewListing{
		Title:          "  Dune ",
		ListedQuantity: 2,
		PricePerWeek:   decimal.RequireFromString("3.50"),
		PricePerMonth:  decimal.RequireFromString("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Dune", l.Title)
	assert.Equal(t, 2, l.ListedQuantity)
	// derived fields are left for the projector
	assert.Zero(t, l.AvailableQuantity)
	assert.Zero(t, l.RentedQuantity)
	assert.False(t, l.Available)
	require.Len(t, sig.got, 1)
	assert.Equal(t, "listing_created", sig.got[0].Reason)
	assert.Equal(t, []uuid.UUID{l.ID}, sig.got[0].ListingIDs)

	_, err = svc.CreateListing(ctx, NewListing{Title: "x", ListedQuantity: -1})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = svc.CreateListing(ctx, NewListing{Title: "x", PricePerWeek: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestSetListedQuantityRequestsResync(t *testing.T) {
	svc, _, sig := newTestService()
	ctx := context.Background()
	l, err := svc.CreateListing(ctx, NewListing{Title: "Emma", ListedQuantity: 1})
	require.NoError(t, err)

	got, err := svc.SetListedQuantity(ctx, l.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ListedQuantity)
	// derived fields are left for the projector
	assert.Zero(t, got.AvailableQuantity)

	require.Len(t, sig.got, 2)
	assert.Equal(t, "listed_quantity_changed", sig.got[1].Reason)
	assert.Equal(t, []uuid.UUID{l.ID}, sig.got[1].ListingIDs)

	_, err = svc.SetListedQuantity(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateListingAvailabilityRejectsInconsistentFields(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	l, err := svc.CreateListing(ctx, NewListing{Title: "Ulysses", ListedQuantity: 1})
	require.NoError(t, err)

	err = svc.UpdateListingAvailability(ctx, l.ID, Availability{AvailableQuantity: 0, RentedQuantity: 1, Available: true})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	require.NoError(t, svc.UpdateListingAvailability(ctx, l.ID, Availability{AvailableQuantity: 0, RentedQuantity: 1}))
	got, err := svc.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)
	assert.Equal(t, 1, got.RentedQuantity)
}

func TestListListingsFiltersAndPages(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for _, title := range []string{"A", "B", "C"} {
		l, err := svc.CreateListing(ctx, NewListing{Title: title, ListedQuantity: 1})
		require.NoError(t, err)
		require.NoError(t, svc.UpdateListingAvailability(ctx, l.ID, Availability{AvailableQuantity: 1, Available: true}))
	}
	_, err := svc.CreateListing(ctx, NewListing{Title: "D", ListedQuantity: 0})
	require.NoError(t, err)

	all, err := svc.ListListings(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	avail, err := svc.ListListings(ctx, ListFilter{AvailableOnly: true})
	require.NoError(t, err)
	assert.Len(t, avail, 3)

	page, err := svc.ListListings(ctx, ListFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "B", page[0].Title)
}

func TestHandlerRoutes(t *testing.T) {
	svc, _, _ := newTestService()
	tokens := membership.NewTokenManager("secret", time.Hour)
	srv := httptest.NewServer(NewHandler(svc, tokens, "internal", zap.NewNop()).Routes())
	defer srv.Close()

	body := `{"title":"Middlemarch","listed_quantity":1,"price_per_week":"2","price_per_month":"6"}`

	resp, err := http.Post(srv.URL+"/listings", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	admin, err := tokens.Issue(&membership.Member{ID: uuid.New(), Role: membership.RoleAdmin})
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/listings", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var created Listing
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	patch := `{"available_quantity":0,"rented_quantity":1,"available":false}`
	req, _ = http.NewRequest(http.MethodPatch, srv.URL+"/internal/listings/"+created.ID.String()+"/availability", bytes.NewBufferString(patch))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPatch, srv.URL+"/internal/listings/"+created.ID.String()+"/availability", bytes.NewBufferString(patch))
	req.Header.Set(httpx.InternalTokenHeader, "internal")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/listings/" + created.ID.String())
	require.NoError(t, err)
	var got Listing
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.False(t, got.Available)
	assert.True(t, got.PricePerWeek.Equal(decimal.NewFromInt(2)))
}
