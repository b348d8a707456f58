package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eaglebank/transaction-core/internal/logging"
	"github.com/redis/go-redis/v9"
)

const testStream = "transaction.tasks"

func newWorker(t *testing.T, maxDeliveries int64) (*Worker, *Dispatcher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	w := NewWorker(client, WorkerConfig{
		Stream:        testStream,
		Group:         "transaction-workers",
		Consumer:      "test",
		BatchSize:     10,
		BlockDuration: 10 * time.Millisecond,
		ClaimIdle:     time.Millisecond,
		MaxDeliveries: maxDeliveries,
	}, logging.Discard())

	if err := client.XGroupCreateMkStream(context.Background(), testStream, "transaction-workers", "0").Err(); err != nil {
		t.Fatal(err)
	}
	return w, NewDispatcher(client, testStream), client
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	p, err := client.XPending(context.Background(), testStream, "transaction-workers").Result()
	if err != nil {
		t.Fatal(err)
	}
	return p.Count
}

func TestEnqueueAndProcess(t *testing.T) {
	w, d, client := newWorker(t, 5)
	ctx := context.Background()

	var got TransactionPayload
	w.Handle(TaskProcessRiskCheck, func(ctx context.Context, task Task) error {
		return task.Decode(&got)
	})

	if err := d.Enqueue(ctx, TaskProcessRiskCheck, TransactionPayload{TransactionID: "tan-1"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := w.poll(ctx, "test-0"); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if got.TransactionID != "tan-1" {
		t.Errorf("expected payload to reach handler, got %+v", got)
	}
	if n := pendingCount(t, client); n != 0 {
		t.Errorf("expected task to be acked, %d pending", n)
	}
}

func TestFailedTaskIsRetriedByReclaim(t *testing.T) {
	w, d, client := newWorker(t, 5)
	ctx := context.Background()

	calls := 0
	w.Handle(TaskAssignAtm, func(ctx context.Context, task Task) error {
		calls++
		if calls == 1 {
			return errors.New("lock timeout")
		}
		return nil
	})

	if err := d.Enqueue(ctx, TaskAssignAtm, TransactionPayload{TransactionID: "tan-2"}); err != nil {
		t.Fatal(err)
	}
	if err := w.poll(ctx, "test-0"); err != nil {
		t.Fatal(err)
	}
	if n := pendingCount(t, client); n != 1 {
		t.Fatalf("expected failed task to stay pending, got %d", n)
	}

	time.Sleep(5 * time.Millisecond)
	if err := w.reclaim(ctx); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a retry, handler called %d times", calls)
	}
	if n := pendingCount(t, client); n != 0 {
		t.Errorf("expected retried task to be acked, %d pending", n)
	}
}

func TestDeadLetterAfterMaxDeliveries(t *testing.T) {
	w, d, client := newWorker(t, 1)
	ctx := context.Background()

	w.Handle(TaskProcessAtmOperation, func(ctx context.Context, task Task) error {
		return errors.New("verifier down")
	})
	var dead []string
	w.OnDeadLetter(func(ctx context.Context, task Task, reason string) {
		var p TransactionPayload
		_ = task.Decode(&p)
		dead = append(dead, p.TransactionID)
	})

	if err := d.Enqueue(ctx, TaskProcessAtmOperation, TransactionPayload{TransactionID: "tan-3"}); err != nil {
		t.Fatal(err)
	}
	if err := w.poll(ctx, "test-0"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := w.reclaim(ctx); err != nil {
		t.Fatal(err)
	}

	if len(dead) != 1 || dead[0] != "tan-3" {
		t.Fatalf("expected dead-letter hook for tan-3, got %v", dead)
	}
	if n := pendingCount(t, client); n != 0 {
		t.Errorf("expected dead letter to be acked, %d pending", n)
	}
	entries, err := client.XRange(ctx, testStream+".dead", "-", "+").Result()
	if err != nil || len(entries) != 1 {
		t.Errorf("expected one dead-letter entry, got %d (%v)", len(entries), err)
	}
}

func TestUnknownTaskIsDeadLettered(t *testing.T) {
	w, d, client := newWorker(t, 5)
	ctx := context.Background()

	if err := d.Enqueue(ctx, "send_postcard", map[string]string{"to": "nobody"}); err != nil {
		t.Fatal(err)
	}
	if err := w.poll(ctx, "test-0"); err != nil {
		t.Fatal(err)
	}

	if n := pendingCount(t, client); n != 0 {
		t.Errorf("expected unknown task to be acked, %d pending", n)
	}
	entries, _ := client.XRange(ctx, testStream+".dead", "-", "+").Result()
	if len(entries) != 1 || entries[0].Values["reason"] != "no handler for send_postcard" {
		t.Errorf("unexpected dead letters %+v", entries)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	w, _, _ := newWorker(t, 5)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
