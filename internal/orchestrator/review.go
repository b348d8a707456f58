package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/eaglebank/transaction-core/internal/events"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/eaglebank/transaction-core/internal/risk"
)

// blockedWithFlag loads a blocked transaction and its unreviewed flag.
func (o *Orchestrator) blockedWithFlag(ctx context.Context, transactionID string) (*models.Transaction, *models.RiskFlag, error) {
	t, err := o.Store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if t.Status != models.StatusBlocked {
		return nil, nil, fmt.Errorf("%w: transaction %s is %s, not blocked", models.ErrInvalidTransition, t.ID, t.Status)
	}
	flag, err := o.Store.GetRiskFlagByTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if flag.Reviewed() {
		return nil, nil, fmt.Errorf("%w: risk flag %s already %s", models.ErrInvalidTransition, flag.ID, flag.Decision)
	}
	return t, flag, nil
}

// Accept releases a blocked transaction for settlement on a reviewer's word.
// The resource locks are taken again for the duration of settlement.
func (o *Orchestrator) Accept(ctx context.Context, transactionID, reviewerID string) (*models.Transaction, error) {
	t, flag, err := o.blockedWithFlag(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	lease, err := o.holdResources(ctx, t)
	if err != nil {
		return nil, err
	}
	defer o.releaseResources(ctx, t, lease)

	// A concurrent decision may have landed while the locks were contended.
	if t, flag, err = o.blockedWithFlag(ctx, transactionID); err != nil {
		return nil, err
	}

	if o.cfg.AcceptPolicy == config.AcceptRescreen {
		if err := o.rescreen(ctx, t, flag); err != nil {
			return nil, err
		}
	}

	now := o.now()
	err = o.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		if err := uow.UpdateTransactionStatus(ctx, t.ID, models.StatusBlocked, models.StatusApproved); err != nil {
			return err
		}
		return uow.ReviewRiskFlag(ctx, flag.ID, models.DecisionAccepted, reviewerID, now)
	})
	if err != nil {
		return nil, err
	}

	t.Status = models.StatusApproved
	t.UpdatedAt = now
	o.announce(ctx, t, models.StatusBlocked, "accepted by reviewer")
	o.publishReview(ctx, flag, models.DecisionAccepted, reviewerID)

	if _, err := o.settle(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// rescreen re-runs the rules and keeps t blocked when a rule fires that the
// reviewer has not seen.
func (o *Orchestrator) rescreen(ctx context.Context, t *models.Transaction, flag *models.RiskFlag) error {
	rules, _, err := o.rules(ctx, t)
	if err != nil {
		return err
	}
	added := risk.NewRules(risk.ParseReasoning(flag.Reasoning), rules)
	if len(added) == 0 {
		return nil
	}

	reasoning := risk.Reasoning(append(risk.ParseReasoning(flag.Reasoning), added...))
	err = o.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return uow.UpdateRiskFlagReasoning(ctx, flag.ID, reasoning)
	})
	if err != nil {
		return err
	}
	o.Projector.Project(ctx, t, "Transaction held for manual review: "+reasoning)
	return fmt.Errorf("%w: new findings %s", models.ErrRiskBlocked, risk.Reasoning(added))
}

// Reject fails a blocked transaction. Balances are not touched.
func (o *Orchestrator) Reject(ctx context.Context, transactionID, reviewerID string) (*models.Transaction, error) {
	t, flag, err := o.blockedWithFlag(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	err = o.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		if err := uow.UpdateTransactionStatus(ctx, t.ID, models.StatusBlocked, models.StatusFailed); err != nil {
			return err
		}
		return uow.ReviewRiskFlag(ctx, flag.ID, models.DecisionRejected, reviewerID, now)
	})
	if err != nil {
		return nil, err
	}

	t.Status = models.StatusFailed
	t.UpdatedAt = now
	o.announce(ctx, t, models.StatusBlocked, "rejected by reviewer")
	o.publishReview(ctx, flag, models.DecisionRejected, reviewerID)
	o.releaseResources(ctx, t, o.Leases.Load(ctx, t.ID))
	return t, nil
}

func (o *Orchestrator) publishReview(ctx context.Context, flag *models.RiskFlag, decision, reviewerID string) {
	err := o.Events.Publish(ctx, events.RiskFlagReviewed, events.RiskFlagReviewedEvent{
		FlagID:        flag.ID,
		TransactionID: flag.TransactionID,
		Decision:      decision,
		ReviewerID:    reviewerID,
	})
	if err != nil {
		o.log.WithError(err).Warn("failed to publish review event")
	}
}

// Cancel is the explicit free path: a transaction still pending is failed and
// whatever locks its lease holds are released. Blocked transactions are left
// to the reviewer.
func (o *Orchestrator) Cancel(ctx context.Context, transactionID string) (*models.Transaction, error) {
	t, err := o.Store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case models.StatusPending:
		if err := o.transition(ctx, t, models.StatusPending, models.StatusFailed, "cancelled"); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				return nil, fmt.Errorf("%w: transaction %s was picked up for processing", models.ErrResourceBusy, t.ID)
			}
			return nil, err
		}
	case models.StatusProcessingRisk, models.StatusApproved:
		return nil, fmt.Errorf("%w: transaction %s is being processed", models.ErrResourceBusy, t.ID)
	case models.StatusBlocked:
		return nil, fmt.Errorf("%w: transaction %s awaits review", models.ErrInvalidTransition, t.ID)
	}

	o.releaseResources(ctx, t, o.Leases.Load(ctx, t.ID))
	return t, nil
}

// FailTransaction moves any unfinished transaction to failed and frees its
// resources.
func (o *Orchestrator) FailTransaction(ctx context.Context, transactionID, reason string) error {
	t, err := o.Store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}
	if err := o.transition(ctx, t, t.Status, models.StatusFailed, reason); err != nil {
		return err
	}
	o.releaseResources(ctx, t, o.Leases.Load(ctx, t.ID))
	return nil
}
