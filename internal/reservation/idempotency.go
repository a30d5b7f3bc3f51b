package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"shelfshare/internal/errs"
)

const (
	idempotencyKeyPrefix = "idempotency:checkout:"
	idempotencyTTL       = 24 * time.Hour

	// processingTTL outlives checkoutTimeout, so a key whose holder crashed
	// or failed to settle it frees itself shortly after the checkout ends.
	processingTTL   = 2 * time.Minute
	checkoutTimeout = 30 * time.Second

	stateProcessing = "processing"
	stateSuccess    = "success"
)

// checkoutKey identifies a checkout by caller, day and the cart's pairs in
// a stable order.
func checkoutKey(userID uuid.UUID, day time.Time, items []CartItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = describe(it)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s:%s:%s", userID, day.Format(time.DateOnly), strings.Join(parts, ","))
}

func inProgress(key string) error {
	return errs.InvalidState("checkout %s is already being processed", key)
}

type redisState struct {
	Status string `json:"status"`
}

// RedisGateway keeps completed checkout keys in Redis for a day. A key
// still processing lives for processingTTL.
type RedisGateway struct {
	client *redis.Client
}

func NewRedisGateway(client *redis.Client) *RedisGateway {
	return &RedisGateway{client: client}
}

func (g *RedisGateway) key(k string) string { return idempotencyKeyPrefix + k }

func (g *RedisGateway) Reserve(ctx context.Context, key string) (bool, error) {
	k := g.key(key)
	for {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		data, err := g.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			raw, _ := json.Marshal(redisState{Status: stateProcessing})
			ok, err := g.client.SetNX(ctx, k, raw, processingTTL).Result()
			if err != nil {
				return false, errs.Unavailable(fmt.Errorf("redis setnx: %w", err))
			}
			if !ok {
				continue
			}
			return false, nil
		}
		if err != nil {
			return false, errs.Unavailable(fmt.Errorf("redis get: %w", err))
		}

		var state redisState
		if err := json.Unmarshal(data, &state); err != nil {
			return false, fmt.Errorf("redis unmarshal: %w", err)
		}
		switch state.Status {
		case stateSuccess:
			return true, nil
		case stateProcessing:
			return false, inProgress(key)
		default:
			if err := g.client.Del(ctx, k).Err(); err != nil {
				return false, errs.Unavailable(fmt.Errorf("redis del: %w", err))
			}
		}
	}
}

func (g *RedisGateway) MarkFailure(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.key(key)).Err()
}

func (g *RedisGateway) MarkSuccess(ctx context.Context, key string) error {
	raw, err := json.Marshal(redisState{Status: stateSuccess})
	if err != nil {
		return err
	}
	return g.client.Set(ctx, g.key(key), raw, idempotencyTTL).Err()
}

// MemoryGateway is the in-process Gateway used when no Redis is
// configured and in tests.
type MemoryGateway struct {
	mu    sync.Mutex
	state map[string]memoryKey
	now   func() time.Time
}

type memoryKey struct {
	status  string
	expires time.Time
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{state: make(map[string]memoryKey), now: time.Now}
}

func (g *MemoryGateway) Reserve(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if s, ok := g.state[key]; ok && now.Before(s.expires) {
		if s.status == stateSuccess {
			return true, nil
		}
		return false, inProgress(key)
	}
	g.state[key] = memoryKey{status: stateProcessing, expires: now.Add(processingTTL)}
	return false, nil
}

func (g *MemoryGateway) MarkFailure(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.state, key)
	return nil
}

func (g *MemoryGateway) MarkSuccess(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state[key] = memoryKey{status: stateSuccess, expires: g.now().Add(idempotencyTTL)}
	return nil
}
