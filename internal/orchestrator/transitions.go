package orchestrator

import (
	"context"

	"github.com/eaglebank/transaction-core/internal/events"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/sirupsen/logrus"
)

// transition moves t from one status to another in its own unit of work and
// announces the change.
func (o *Orchestrator) transition(ctx context.Context, t *models.Transaction, from, to models.Status, reason string) error {
	err := o.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return uow.UpdateTransactionStatus(ctx, t.ID, from, to)
	})
	if err != nil {
		return err
	}
	t.Status = to
	t.UpdatedAt = o.now()
	o.announce(ctx, t, from, reason)
	return nil
}

// announce publishes the status change and refreshes projections. Neither
// step can undo a committed transition, so failures are only logged.
func (o *Orchestrator) announce(ctx context.Context, t *models.Transaction, from models.Status, reason string) {
	entry := o.log.WithFields(logrus.Fields{
		"transactionId": t.ID,
		"from":          from,
		"to":            t.Status,
	})
	if reason != "" {
		entry = entry.WithField("reason", reason)
	}
	entry.Info("transaction status changed")

	err := o.Events.Publish(ctx, events.TransactionUpdated, events.TransactionUpdatedEvent{
		TransactionID: t.ID,
		From:          string(from),
		To:            string(t.Status),
		Reason:        reason,
	})
	if err != nil {
		entry.WithError(err).Warn("failed to publish transaction event")
	}
	o.Projector.Project(ctx, t, reason)
}
