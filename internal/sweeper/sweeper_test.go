package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/logging"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newLocks(t *testing.T) *lock.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewManager(client, lock.Config{PollInterval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}, logging.Discard())
}

func TestSweepResetsOnlyUnheldMirrors(t *testing.T) {
	ctx := context.Background()
	locks := newLocks(t)
	store := repository.NewMemoryStore()
	store.PutAccount(models.Account{ID: "acc-stale", Balance: decimal.Zero, Status: models.ResourceBusy})
	store.PutAccount(models.Account{ID: "acc-held", Balance: decimal.Zero, Status: models.ResourceBusy})
	store.PutAccount(models.Account{ID: "acc-idle", Balance: decimal.Zero})
	store.PutAtm(models.AtmDevice{ID: "atm-stale", Status: models.ResourceBusy})
	store.PutAtm(models.AtmDevice{ID: "atm-held", Status: models.ResourceBusy})

	if _, err := locks.TryAcquire(ctx, lock.AccountKey("acc-held"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := locks.TryAcquire(ctx, lock.AtmKey("atm-held"), time.Minute); err != nil {
		t.Fatal(err)
	}

	s, err := New(store, locks, "@every 1m", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	reset, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reset != 2 {
		t.Errorf("expected 2 resets, got %d", reset)
	}

	tests := []struct {
		get  func() string
		want string
	}{
		{func() string { a, _ := store.GetAccount(ctx, "acc-stale"); return a.Status }, models.ResourceActive},
		{func() string { a, _ := store.GetAccount(ctx, "acc-held"); return a.Status }, models.ResourceBusy},
		{func() string { d, _ := store.GetAtm(ctx, "atm-stale"); return d.Status }, models.ResourceActive},
		{func() string { d, _ := store.GetAtm(ctx, "atm-held"); return d.Status }, models.ResourceBusy},
	}
	for i, tt := range tests {
		if got := tt.get(); got != tt.want {
			t.Errorf("case %d: expected %s, got %s", i, tt.want, got)
		}
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(repository.NewMemoryStore(), newLocks(t), "every minute", logging.Discard()); err == nil {
		t.Error("expected invalid schedule to fail")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s, err := New(repository.NewMemoryStore(), newLocks(t), "@every 1h", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
