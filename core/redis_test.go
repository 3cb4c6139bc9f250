package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client)
}

func TestRedisQueueReserveMovesPendingToProcessing(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "pending", "42"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Reserve(ctx, "pending", "processing", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if job != "42" {
		t.Fatalf("expected job 42, got %q", job)
	}

	if _, err := q.Reserve(ctx, "pending", "processing", time.Minute); err != redis.Nil {
		t.Fatalf("expected redis.Nil on empty queue, got %v", err)
	}
}

func TestRedisQueueAckRemovesFromProcessing(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "pending", "7"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "pending", "processing", time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := q.Ack(ctx, "processing", "7"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	expired, err := q.RequeueExpired(ctx, "processing", "pending", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired jobs after ack, got %v", expired)
	}
}

func TestRedisQueueRequeueExpiredReturnsJobsPastVisibility(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "pending", "99"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "pending", "processing", time.Millisecond); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	expired, err := q.RequeueExpired(ctx, "processing", "pending", time.Now())
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(expired) != 1 || expired[0] != "99" {
		t.Fatalf("expected job 99 to be reclaimed, got %v", expired)
	}

	job, err := q.Reserve(ctx, "pending", "processing", time.Minute)
	if err != nil {
		t.Fatalf("reserve after requeue: %v", err)
	}
	if job != "99" {
		t.Fatalf("expected reclaimed job back on pending queue, got %q", job)
	}
}
