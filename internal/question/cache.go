package question

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 15 * time.Minute

// Cache is a read-through redis layer over another Provider. A nil
// redis client turns it into a pass-through, so local runs without
// redis still work.
type Cache struct {
	inner Provider
	redis *redis.Client
}

func NewCache(inner Provider, redisClient *redis.Client) *Cache {
	return &Cache{inner: inner, redis: redisClient}
}

func questionKey(id string) string {
	return "question:" + id
}

func progressKey(id string) string {
	return "question:" + id + ":progress"
}

func (c *Cache) Get(ctx context.Context, id string) (*Question, error) {
	if c.redis == nil {
		return c.inner.Get(ctx, id)
	}

	data, err := c.redis.Get(ctx, questionKey(id)).Bytes()
	if err == nil {
		var q Question
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	q, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(q); err == nil {
		c.redis.Set(ctx, questionKey(id), data, cacheTTL)
	}
	return q, nil
}

// List is not cached. It runs once per session and the per-question
// entries cover the hot path.
func (c *Cache) List(ctx context.Context, interviewID string) ([]*Question, error) {
	return c.inner.List(ctx, interviewID)
}

func (c *Cache) Progress(ctx context.Context, id string) (*Progress, error) {
	if c.redis == nil {
		return c.inner.Progress(ctx, id)
	}

	data, err := c.redis.Get(ctx, progressKey(id)).Bytes()
	if err == nil {
		var p Progress
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := c.inner.Progress(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		c.redis.Set(ctx, progressKey(id), data, cacheTTL)
	}
	return p, nil
}

// Invalidate drops the cached entries for one question.
func (c *Cache) Invalidate(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	c.redis.Del(ctx, questionKey(id), progressKey(id))
}
