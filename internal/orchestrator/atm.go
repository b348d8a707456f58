package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-core/internal/dispatch"
	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
)

// AssignAtm finds a free ATM for a pending transaction, binds it and hands
// the transaction on to ProcessAtmOperation. When no device frees up before
// the lock timeout the transaction fails.
func (o *Orchestrator) AssignAtm(ctx context.Context, transactionID string) error {
	t, err := o.Store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if t.Status != models.StatusPending {
		return nil
	}
	if t.DeviceID != "" {
		return o.enqueueAtmOperation(ctx, t.ID)
	}

	deadline := o.now().Add(o.Locks.Timeout())
	for {
		devices, err := o.Store.ListAtmsByStatus(ctx, models.ResourceActive)
		if err != nil {
			return err
		}
		for _, d := range devices {
			l, err := o.Locks.TryAcquire(ctx, lock.AtmKey(d.ID), o.cfg.LockTTL)
			if errors.Is(err, lock.ErrLockHeld) {
				continue
			}
			if err != nil {
				return err
			}
			return o.bindAtm(ctx, t, d.ID, l)
		}

		if !o.now().Add(o.Locks.PollInterval()).Before(deadline) {
			o.log.WithField("transactionId", t.ID).Warn("no atm became available")
			return o.FailTransaction(ctx, t.ID, "no ATM available")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.Locks.PollInterval()):
		}
	}
}

func (o *Orchestrator) bindAtm(ctx context.Context, t *models.Transaction, deviceID string, l *lock.Lock) error {
	err := o.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		current, err := uow.LockTransaction(ctx, t.ID)
		if err != nil {
			return err
		}
		if current.Status != models.StatusPending || current.DeviceID != "" {
			return fmt.Errorf("%w: transaction %s no longer awaits an atm", models.ErrInvalidTransition, t.ID)
		}
		return uow.SetTransactionDevice(ctx, t.ID, deviceID)
	})
	if err != nil {
		if _, relErr := o.Locks.Release(context.WithoutCancel(ctx), l); relErr != nil {
			o.log.WithError(relErr).Error("failed to release atm lock")
		}
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	o.setMirror(ctx, l.Key, models.ResourceBusy)
	lease := o.Leases.Load(ctx, t.ID)
	lease.Add(l)
	o.extendResources(ctx, lease)
	if err := o.Leases.Save(ctx, lease); err != nil {
		o.log.WithError(err).WithField("transactionId", t.ID).Warn("failed to persist lease")
	}

	t.DeviceID = deviceID
	t.UpdatedAt = o.now()
	o.Projector.Project(ctx, t, "")
	o.log.WithField("transactionId", t.ID).WithField("deviceId", deviceID).Info("atm assigned")

	return o.enqueueAtmOperation(ctx, t.ID)
}

func (o *Orchestrator) enqueueAtmOperation(ctx context.Context, transactionID string) error {
	return o.Tasks.Enqueue(ctx, dispatch.TaskProcessAtmOperation, dispatch.TransactionPayload{TransactionID: transactionID})
}
