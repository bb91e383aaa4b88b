package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasksheet-sync/domain"
)

type stubBackend struct {
	getTaskFn         func(ctx context.Context, id string) (domain.Task, error)
	writeTaskStatusFn func(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error
}

func (s *stubBackend) GetTask(ctx context.Context, id string) (domain.Task, error) {
	if s.getTaskFn == nil {
		return domain.Task{}, errors.New("unexpected GetTask call")
	}
	return s.getTaskFn(ctx, id)
}

func (s *stubBackend) WriteTaskStatus(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error {
	if s.writeTaskStatusFn == nil {
		return errors.New("unexpected WriteTaskStatus call")
	}
	return s.writeTaskStatusFn(ctx, id, checklist, done)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheGetTaskMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)

	ctx := context.Background()
	expected := domain.Task{ID: "t1", Title: "Write code", Checklist: []domain.ChecklistItem{{Text: "a"}}}

	var calls int
	cache := NewCache(&stubBackend{
		getTaskFn: func(ctx context.Context, id string) (domain.Task, error) {
			calls++
			if id != "t1" {
				t.Fatalf("unexpected task id: %s", id)
			}
			return expected.Clone(), nil
		},
	}, client, time.Minute)

	task, err := cache.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !reflect.DeepEqual(task, expected) {
		t.Fatalf("unexpected task: %#v", task)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(taskCacheKey("t1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get cached task: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached task: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheGetTaskBackendError(t *testing.T) {
	_, client := newTestRedis(t)

	wantErr := errors.New("table offline")
	cache := NewCache(&stubBackend{
		getTaskFn: func(ctx context.Context, id string) (domain.Task, error) {
			return domain.Task{}, wantErr
		},
	}, client, time.Minute)

	if _, err := cache.GetTask(context.Background(), "t1"); !errors.Is(err, wantErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set(taskCacheKey("t1"), "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var calls int
	cache := NewCache(&stubBackend{
		getTaskFn: func(ctx context.Context, id string) (domain.Task, error) {
			calls++
			return domain.Task{ID: "t1"}, nil
		},
	}, client, time.Minute)

	task, err := cache.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.ID != "t1" || calls != 1 {
		t.Fatalf("expected backend fallback, task=%+v calls=%d", task, calls)
	}
}

func TestCacheWriteEvicts(t *testing.T) {
	mr, client := newTestRedis(t)

	var writes int
	cache := NewCache(&stubBackend{
		getTaskFn: func(ctx context.Context, id string) (domain.Task, error) {
			return domain.Task{ID: id}, nil
		},
		writeTaskStatusFn: func(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error {
			writes++
			return nil
		},
	}, client, time.Minute)

	ctx := context.Background()
	if _, err := cache.GetTask(ctx, "t1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if !mr.Exists(taskCacheKey("t1")) {
		t.Fatal("expected cache entry after read")
	}

	if err := cache.WriteTaskStatus(ctx, "t1", nil, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if writes != 1 {
		t.Fatalf("expected 1 write, got %d", writes)
	}
	if mr.Exists(taskCacheKey("t1")) {
		t.Fatal("expected cache entry to be evicted after write")
	}
}

func TestCacheWriteErrorKeepsEntry(t *testing.T) {
	mr, client := newTestRedis(t)

	cache := NewCache(&stubBackend{
		getTaskFn: func(ctx context.Context, id string) (domain.Task, error) {
			return domain.Task{ID: id}, nil
		},
		writeTaskStatusFn: func(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error {
			return errors.New("write failed")
		},
	}, client, time.Minute)

	ctx := context.Background()
	if _, err := cache.GetTask(ctx, "t1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	if err := cache.WriteTaskStatus(ctx, "t1", nil, true); err == nil {
		t.Fatal("expected write error")
	}
	if !mr.Exists(taskCacheKey("t1")) {
		t.Fatal("failed write must not evict the cached copy")
	}
}

func TestNewCacheNilBasePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil base")
		}
	}()
	NewCache(nil, nil, time.Minute)
}
