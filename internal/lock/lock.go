// Package lock serialises settlement of a single booking across arbiter
// replicas with a Redis key per booking.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "arbiter:settle:"
	DefaultTTL = 10 * time.Minute
)

// ErrHeld means another worker is settling the booking.
var ErrHeld = errors.New("booking is locked by another worker")

// release deletes the key only if it still holds our token.
var release = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(redisURL string, ttl time.Duration) (*Locker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{rdb: redis.NewClient(opts), ttl: ttl}, nil
}

func (l *Locker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *Locker) Close() error {
	return l.rdb.Close()
}

// Acquire takes the settlement lock for a booking. The returned func
// releases it and is safe to call after the TTL has expired.
func (l *Locker) Acquire(ctx context.Context, bookingID uuid.UUID) (func(), error) {
	key := keyPrefix + bookingID.String()
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", bookingID, ErrHeld)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		release.Run(ctx, l.rdb, []string{key}, token)
	}, nil
}
