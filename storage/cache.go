package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"tasksheet-sync/domain"
)

type backend interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	WriteTaskStatus(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error
}

// Cache wraps a Storage instance with Redis-backed caching for task reads.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	if task, ok := c.loadTaskFromCache(ctx, id); ok {
		return task, nil
	}

	task, err := c.base.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}

	c.storeTask(ctx, task)
	return task, nil
}

// WriteTaskStatus evicts the cached copy after a successful write so the
// next read observes the stored document rather than a stale snapshot.
func (c *Cache) WriteTaskStatus(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error {
	if err := c.base.WriteTaskStatus(ctx, id, checklist, done); err != nil {
		return err
	}

	c.evict(ctx, id)
	return nil
}

func (c *Cache) loadTaskFromCache(ctx context.Context, id string) (domain.Task, bool) {
	if c.redis == nil {
		return domain.Task{}, false
	}
	data, err := c.redis.Get(ctx, taskCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, taskCacheKey(id)).Err()
		}
		return domain.Task{}, false
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		_ = c.redis.Del(ctx, taskCacheKey(id)).Err()
		return domain.Task{}, false
	}
	return task, true
}

func (c *Cache) storeTask(ctx context.Context, task domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, taskCacheKey(task.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, taskCacheKey(id)).Result()
}

func taskCacheKey(id string) string {
	return "task:" + id
}
