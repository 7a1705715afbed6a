package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow adapts a ulule limiter (fixed buckets per period) to Limiter.
type FixedWindow struct {
	l *limiter.Limiter
}

// NewFixedWindow builds a fixed window limiter on Redis, or on process memory
// when rdb is nil.
func NewFixedWindow(rdb *redis.Client, prefix string, window time.Duration, max int) (*FixedWindow, error) {
	var (
		store limiter.Store
		err   error
	)
	opts := limiter.StoreOptions{Prefix: prefix, CleanUpInterval: limiter.DefaultCleanUpInterval}
	if rdb != nil {
		store, err = limiterredis.NewStoreWithOptions(rdb, opts)
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStoreWithOptions(opts)
	}
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	return &FixedWindow{l: limiter.New(store, rate)}, nil
}

// Allow increments the current bucket for key.
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := f.l.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		Reset:     time.Unix(res.Reset, 0),
	}, nil
}
