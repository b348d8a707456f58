package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/shopspring/decimal"
)

// settle applies an approved transaction's balance changes and completes it
// in one unit of work. A completed transaction is left alone, so redelivered
// tasks cannot apply the movement twice. Insufficient funds at this point
// fail the transaction without touching balances.
func (o *Orchestrator) settle(ctx context.Context, t *models.Transaction) (models.Status, error) {
	var (
		outcome models.Status
		reason  string
		noop    bool
	)

	err := o.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		current, err := uow.LockTransaction(ctx, t.ID)
		if err != nil {
			return err
		}
		if current.Status == models.StatusCompleted {
			noop = true
			outcome = models.StatusCompleted
			return nil
		}
		if current.Status != models.StatusApproved {
			return fmt.Errorf("%w: cannot settle %s transaction %s", models.ErrInvalidTransition, current.Status, current.ID)
		}

		ids := current.AccountIDs()
		sort.Strings(ids)
		balances := make(map[string]decimal.Decimal, len(ids))
		for _, id := range ids {
			acct, err := uow.LockAccount(ctx, id)
			if err != nil {
				return err
			}
			balances[id] = acct.Balance
		}

		var debit, credit string
		switch current.Type {
		case models.TypeWithdrawal:
			debit = current.FromAccountID
		case models.TypeDeposit:
			credit = current.ToAccountID
		case models.TypeTransfer:
			debit, credit = current.FromAccountID, current.ToAccountID
		default:
			return fmt.Errorf("%w: %q", models.ErrUnsupportedTransactionType, current.Type)
		}

		if debit != "" {
			balances[debit] = balances[debit].Sub(current.Amount)
			if balances[debit].IsNegative() {
				outcome = models.StatusFailed
				reason = "insufficient funds"
				return uow.UpdateTransactionStatus(ctx, current.ID, models.StatusApproved, models.StatusFailed)
			}
		}
		if credit != "" {
			balances[credit] = balances[credit].Add(current.Amount)
		}

		for _, id := range ids {
			if err := uow.UpdateAccountBalance(ctx, id, balances[id]); err != nil {
				return err
			}
		}
		outcome = models.StatusCompleted
		return uow.UpdateTransactionStatus(ctx, current.ID, models.StatusApproved, models.StatusCompleted)
	})
	if err != nil {
		return "", err
	}
	if noop {
		t.Status = models.StatusCompleted
		return outcome, nil
	}

	t.Status = outcome
	t.UpdatedAt = o.now()
	o.announce(ctx, t, models.StatusApproved, reason)

	if outcome == models.StatusCompleted && t.Type == models.TypeTransfer && o.Flows != nil {
		if err := o.Flows.RecordTransfer(ctx, t); err != nil {
			o.log.WithError(err).WithField("transactionId", t.ID).Warn("failed to project fund flow")
		}
	}
	return outcome, nil
}
