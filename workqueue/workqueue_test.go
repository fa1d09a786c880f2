package workqueue_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	kvredis "github.com/convobridge/gateway/kv/redis"
	"github.com/convobridge/gateway/workqueue"
	goredis "github.com/redis/go-redis/v9"
)

func newQueue(t *testing.T) *workqueue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return workqueue.New(kvredis.NewFromClient(rdb))
}

func TestQueue_Dequeue_EmptyReturnsErrEmpty(t *testing.T) {
	q := newQueue(t)
	_, err := q.Dequeue(context.Background())
	if err != workqueue.ErrEmpty {
		t.Fatalf("Dequeue() error = %v, want ErrEmpty", err)
	}
}

func TestQueue_EnqueueDequeue_RoundTrips(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, workqueue.Default, "send_email_otp", map[string]string{"email": "user@example.com"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if job.Type != "send_email_otp" {
		t.Fatalf("job.Type = %q, want send_email_otp", job.Type)
	}

	if _, err := q.Dequeue(ctx); err != workqueue.ErrEmpty {
		t.Fatalf("second Dequeue() error = %v, want ErrEmpty", err)
	}
}

func TestQueue_Dequeue_DrainsHighBeforeDefaultBeforeLow(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, workqueue.Low, "low_job", nil); err != nil {
		t.Fatalf("Enqueue(low) error = %v", err)
	}
	if err := q.Enqueue(ctx, workqueue.Default, "default_job", nil); err != nil {
		t.Fatalf("Enqueue(default) error = %v", err)
	}
	if err := q.Enqueue(ctx, workqueue.High, "high_job", nil); err != nil {
		t.Fatalf("Enqueue(high) error = %v", err)
	}

	wantOrder := []string{"high_job", "default_job", "low_job"}
	for _, want := range wantOrder {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if job.Type != want {
			t.Fatalf("Dequeue() type = %q, want %q", job.Type, want)
		}
	}
}

func TestQueue_Dequeue_OrdersFIFOWithinALane(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, workqueue.Default, "first", nil); err != nil {
		t.Fatalf("Enqueue(first) error = %v", err)
	}
	if err := q.Enqueue(ctx, workqueue.Default, "second", nil); err != nil {
		t.Fatalf("Enqueue(second) error = %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if job.Type != "first" {
		t.Fatalf("Dequeue() type = %q, want first", job.Type)
	}
}

func TestQueue_Depths_ReflectsPendingCounts(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, workqueue.High, "a", nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, workqueue.High, "b", nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	depths, err := q.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths() error = %v", err)
	}
	if depths[workqueue.High] != 2 {
		t.Fatalf("depths[High] = %d, want 2", depths[workqueue.High])
	}
	if depths[workqueue.Default] != 0 {
		t.Fatalf("depths[Default] = %d, want 0", depths[workqueue.Default])
	}
}
