package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
)

// resourceKeys lists the lock keys guarding t's accounts and device.
func resourceKeys(t *models.Transaction) []string {
	var keys []string
	for _, id := range t.AccountIDs() {
		keys = append(keys, lock.AccountKey(id))
	}
	if t.DeviceID != "" {
		keys = append(keys, lock.AtmKey(t.DeviceID))
	}
	return keys
}

// holdResources claims every lock guarding t for this call. Locks handed off
// in t's lease are taken over atomically; anything the lease no longer owns is
// acquired afresh, which waits out a concurrent holder or fails with
// ResourceBusy. The returned lease holds only tokens this call owns and is
// not published, so no other caller can claim them.
func (o *Orchestrator) holdResources(ctx context.Context, t *models.Transaction) (*lock.Lease, error) {
	handoff := make(map[string]*lock.Lock)
	for _, l := range o.Leases.Load(ctx, t.ID).Locks {
		handoff[l.Key] = l
	}

	held := &lock.Lease{TransactionID: t.ID}
	var missing []string
	for _, key := range resourceKeys(t) {
		if l, ok := handoff[key]; ok {
			owned, err := o.Locks.Takeover(ctx, l, o.cfg.LockTTL)
			if err == nil {
				held.Add(owned)
				continue
			}
			if !errors.Is(err, lock.ErrLockHeld) {
				o.releaseLocks(ctx, held)
				return nil, err
			}
		}
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		acquired, err := o.Locks.AcquireAll(ctx, missing, o.cfg.LockTTL)
		if err != nil {
			o.releaseLocks(ctx, held)
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		for _, l := range acquired {
			held.Add(l)
		}
	}

	for _, l := range held.Locks {
		o.setMirror(ctx, l.Key, models.ResourceBusy)
	}
	return held, nil
}

// extendResources pushes every lock's expiry out before a slow step.
func (o *Orchestrator) extendResources(ctx context.Context, lease *lock.Lease) {
	for _, l := range lease.Locks {
		if ok, err := o.Locks.Extend(ctx, l, o.cfg.LockTTL); err != nil || !ok {
			o.log.WithError(err).WithField("key", l.Key).Warn("could not extend lock")
		}
	}
}

// releaseResources releases the lease's locks and forgets the lease. It runs
// on a context detached from cancellation so cleanup survives shutdown.
func (o *Orchestrator) releaseResources(ctx context.Context, t *models.Transaction, lease *lock.Lease) {
	ctx = context.WithoutCancel(ctx)
	o.releaseLocks(ctx, lease)
	o.Leases.Delete(ctx, t.ID)
}

// releaseLocks restores each mirror to active while its token still owns the
// lock, then releases it. Tokens that lost their lock release nothing; their
// mirror is reset only when no one else holds the key.
func (o *Orchestrator) releaseLocks(ctx context.Context, lease *lock.Lease) {
	ctx = context.WithoutCancel(ctx)

	for _, l := range lease.Locks {
		owned, err := o.Locks.Extend(ctx, l, o.cfg.LockTTL)
		if err != nil {
			o.log.WithError(err).WithField("key", l.Key).Error("failed to check lock ownership")
			continue
		}
		if !owned {
			if held, err := o.Locks.Held(ctx, l.Key); err == nil && !held {
				o.setMirror(ctx, l.Key, models.ResourceActive)
			}
			continue
		}

		o.setMirror(ctx, l.Key, models.ResourceActive)
		if _, err := o.Locks.Release(ctx, l); err != nil {
			o.log.WithError(err).WithField("key", l.Key).Error("failed to release lock")
		}
	}
}

func (o *Orchestrator) setMirror(ctx context.Context, key, status string) {
	if err := repository.SetMirror(ctx, o.Store, key, status); err != nil {
		o.log.WithError(err).WithField("key", key).Warn("failed to update status mirror")
	}
}
