package reservation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfshare/internal/errs"
	"shelfshare/internal/orders"
)

func exerciseGateway(t *testing.T, g Gateway) {
	ctx := context.Background()
	key := uuid.NewString()

	replay, err := g.Reserve(ctx, key)
	require.NoError(t, err)
	assert.False(t, replay)

	_, err = g.Reserve(ctx, key)
	assert.ErrorIs(t, err, errs.ErrInvalidState, "second caller while processing")

	require.NoError(t, g.MarkFailure(ctx, key))
	replay, err = g.Reserve(ctx, key)
	require.NoError(t, err, "failure releases the key")
	assert.False(t, replay)

	require.NoError(t, g.MarkSuccess(ctx, key))
	replay, err = g.Reserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, replay)
}

func TestMemoryGateway(t *testing.T) {
	exerciseGateway(t, NewMemoryGateway())
}

func TestMemoryGatewayExpires(t *testing.T) {
	g := NewMemoryGateway()
	now := time.Now()
	g.now = func() time.Time { return now }

	_, err := g.Reserve(context.Background(), "k")
	require.NoError(t, err)

	now = now.Add(processingTTL + time.Second)
	replay, err := g.Reserve(context.Background(), "k")
	require.NoError(t, err, "an unsettled key frees itself")
	assert.False(t, replay)

	require.NoError(t, g.MarkSuccess(context.Background(), "k"))
	now = now.Add(processingTTL + time.Second)
	replay, err = g.Reserve(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, replay, "success is kept for a day")

	now = now.Add(idempotencyTTL)
	replay, err = g.Reserve(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestProcessingKeyOutlivesCheckout(t *testing.T) {
	assert.Greater(t, processingTTL, checkoutTimeout)
	assert.Less(t, processingTTL, idempotencyTTL)
}

func TestRedisGateway(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	exerciseGateway(t, NewRedisGateway(client))
}

func TestCheckoutKeyIgnoresItemOrder(t *testing.T) {
	user := uuid.New()
	today := day(2026, 5, 1)
	a := CartItem{ListingID: uuid.New(), Frequency: orders.Weekly}
	b := CartItem{ListingID: uuid.New(), Frequency: orders.Monthly}

	assert.Equal(t,
		checkoutKey(user, today, []CartItem{a, b}),
		checkoutKey(user, today, []CartItem{b, a}))
	assert.NotEqual(t,
		checkoutKey(user, today, []CartItem{a}),
		checkoutKey(user, today.AddDate(0, 0, 1), []CartItem{a}))
}
