package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryQueue_Bounded(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Push(context.Background(), Job{LogID: uuid.New()}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(context.Background(), Job{LogID: uuid.New()}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push on full queue: got %v, want ErrQueueFull", err)
	}
}

func TestMemoryQueue_PopOrderAndCancel(t *testing.T) {
	q := NewMemoryQueue(2)
	a, b := uuid.New(), uuid.New()
	q.Push(context.Background(), Job{LogID: a})
	q.Push(context.Background(), Job{LogID: b})

	for _, want := range []uuid.UUID{a, b} {
		job, err := q.Pop(context.Background())
		if err != nil || job.LogID != want {
			t.Errorf("Pop: got %v/%v, want %v", job.LogID, err, want)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pop on empty queue: got %v, want deadline exceeded", err)
	}
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(1)
	q.Close()
	q.Close()
	if err := q.Push(context.Background(), Job{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after close: got %v", err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop after close: got %v", err)
	}
}
