package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rulesKeyPrefix = "shipping:rules:active:"
	rulesGenKey    = "shipping:rules:gen"
)

func rulesDataKey(gen int64) string { return rulesKeyPrefix + strconv.FormatInt(gen, 10) }

// RulesCache keeps the active rule set in Redis as JSON. Entries are stored
// per generation and Invalidate moves to the next generation, so a fill
// computed before an admin write lands under a key nobody reads any more.
type RulesCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRulesCache constructs a cache helper. A nil client disables caching.
func NewRulesCache(client *redis.Client, ttl time.Duration) *RulesCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RulesCache{client: client, ttl: ttl}
}

// Get returns the rules cached for the current generation and that
// generation. gen is -1 when it could not be read, and Set ignores it.
func (c *RulesCache) Get(ctx context.Context) (rules []Rule, gen int64, ok bool, err error) {
	if c == nil || c.client == nil {
		return nil, -1, false, nil
	}
	gen, err = c.client.Get(ctx, rulesGenKey).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		gen = 0
	case err != nil:
		return nil, -1, false, err
	}
	data, err := c.client.Get(ctx, rulesDataKey(gen)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, gen, false, nil
		}
		return nil, gen, false, err
	}
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, gen, false, err
	}
	return rules, gen, true, nil
}

// Set stores rules for generation gen with the configured TTL.
func (c *RulesCache) Set(ctx context.Context, gen int64, rules []Rule) error {
	if c == nil || c.client == nil || gen < 0 {
		return nil
	}
	if rules == nil {
		rules = []Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rulesDataKey(gen), data, c.ttl).Err()
}

// Invalidate retires the current generation.
func (c *RulesCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, rulesGenKey).Err()
}
