package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

// Job points a worker at one EmailLog row.
type Job struct {
	LogID uuid.UUID `json:"log_id"`
}

// Queue hands jobs from Dispatch to the worker pool. Push never blocks.
type Queue interface {
	Push(ctx context.Context, job Job) error
	Pop(ctx context.Context) (Job, error)
	Close() error
}

// MemoryQueue is a bounded in-process queue. Jobs are lost on restart; the
// EmailLog rows they point at are not, and Recover re-enqueues them.
type MemoryQueue struct {
	ch        chan Job
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch:   make(chan Job, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Push(_ context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		return Job{}, ErrQueueClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// RedisQueue keeps jobs in a Redis list so queued work survives a restart
// of the process.
type RedisQueue struct {
	client  *redis.Client
	key     string
	limit   int64
	pollFor time.Duration
}

func NewRedisQueue(client *redis.Client, key string, limit int) *RedisQueue {
	return &RedisQueue{
		client:  client,
		key:     key,
		limit:   int64(limit),
		pollFor: time.Second,
	}
}

func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return fmt.Errorf("redis llen: %w", err)
	}
	if n >= q.limit {
		return ErrQueueFull
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Job, error) {
	for {
		res, err := q.client.BRPop(ctx, q.pollFor, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("redis brpop: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
