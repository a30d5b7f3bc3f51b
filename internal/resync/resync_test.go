package resync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shelfshare/internal/httpx"
)

type recorder struct {
	mu   sync.Mutex
	sigs []Signal
	err  error
}

func (r *recorder) Notify(_ context.Context, sig Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, sig)
	return r.err
}

func TestAsyncDeliversListingSignals(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, zap.NewNop())
	id := uuid.New()

	require.NoError(t, a.Notify(context.Background(), ForListings("checkout", id)))
	a.Fire(ForListings("cancel", id))
	a.Wait()

	require.Len(t, rec.sigs, 2)
	for _, sig := range rec.sigs {
		assert.Equal(t, []uuid.UUID{id}, sig.ListingIDs)
	}
}

func TestAsyncSwallowsFailures(t *testing.T) {
	rec := &recorder{err: errors.New("reconciler down")}
	a := NewAsync(rec, zap.NewNop())

	assert.NoError(t, a.Notify(context.Background(), ForListings("return", uuid.New())))
	a.Wait()
	assert.Len(t, rec.sigs, 1)
}

func TestAsyncCoalescesFullSweeps(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, zap.NewNop())

	for i := 0; i < 5; i++ {
		a.Fire(Full("burst"))
	}
	a.Wait()
	assert.Len(t, rec.sigs, 1)
	assert.True(t, rec.sigs[0].IsFull())
}

func TestMessageKey(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "all", messageKey(Full("x")))
	assert.Equal(t, id.String(), messageKey(ForListings("x", id)))
}

func TestHandlerAcceptsSignals(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(NewHandler(rec, "internal", zap.NewNop()).Routes())
	defer srv.Close()

	id := uuid.New()
	post := func(token, body string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/resync", strings.NewReader(body))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set(httpx.InternalTokenHeader, token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post("", `{"reason":"x"}`))
	assert.Equal(t, http.StatusBadRequest, post("internal", `{"reason":"x","extra":1}`))
	assert.Equal(t, http.StatusAccepted, post("internal", `{"reason":"checkout","listing_ids":["`+id.String()+`"]}`))

	require.Len(t, rec.sigs, 1)
	assert.Equal(t, []uuid.UUID{id}, rec.sigs[0].ListingIDs)
	assert.Equal(t, "checkout", rec.sigs[0].Reason)
}
