package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ShipmentLockKey builds redis keys for per-shipment critical sections.
func ShipmentLockKey(shipmentRef string) string {
	return fmt.Sprintf("fulfillment:shipment:%s:lock", shipmentRef)
}

// ErrLockHeld indicates another caller holds the lock.
var ErrLockHeld = errors.New("lock already held")

// Locker serialises critical sections across processes via redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker. TTL bounds how long a crashed holder can
// block other callers.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lock for key, returning a release function. Fails with
// ErrLockHeld when the key is already locked by someone else.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, nil
}
