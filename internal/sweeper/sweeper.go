package sweeper

import (
	"context"
	"fmt"

	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Locker interface {
	Held(ctx context.Context, key string) (bool, error)
}

// Sweeper resets busy status mirrors left behind by crashed holders. A mirror
// is only reset once its lock key has expired.
type Sweeper struct {
	store repository.Reader
	locks Locker
	log   *logrus.Entry
	cron  *cron.Cron
}

// New schedules Sweep on schedule, a standard cron expression or descriptor such
// as "@every 1m".
func New(store repository.Reader, locks Locker, schedule string, log *logrus.Entry) (*Sweeper, error) {
	s := &Sweeper{
		store: store,
		locks: locks,
		log:   log,
		cron:  cron.New(),
	}
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is cancelled and waits for a running
// sweep to finish.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// Sweep resets every busy account and ATM whose lock is gone and returns how
// many were reset.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	var keys []string

	accountIDs, err := s.store.ListBusyAccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range accountIDs {
		keys = append(keys, lock.AccountKey(id))
	}

	atms, err := s.store.ListAtmsByStatus(ctx, models.ResourceBusy)
	if err != nil {
		return 0, err
	}
	for _, d := range atms {
		keys = append(keys, lock.AtmKey(d.ID))
	}

	reset := 0
	for _, key := range keys {
		held, err := s.locks.Held(ctx, key)
		if err != nil {
			return reset, err
		}
		if held {
			continue
		}
		if err := repository.SetMirror(ctx, s.store, key, models.ResourceActive); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("failed to reset status mirror")
			continue
		}
		reset++
	}

	if reset > 0 {
		s.log.WithField("reset", reset).Info("stale busy mirrors reset")
	}
	return reset, nil
}
