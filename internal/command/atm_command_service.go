package command

import (
	"context"
	"fmt"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/dispatch"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/utils"
	"github.com/shopspring/decimal"
)

// banknote is the smallest amount an ATM can dispense or accept.
var banknote = decimal.NewFromInt(10)

// AtmOperation opens a card-authenticated withdrawal or deposit. Without a
// device id the transaction waits for a free ATM to be assigned.
func (s *TransactionCommandService) AtmOperation(ctx context.Context, cmd cqrs.AtmOperationCommand) (*models.Transaction, error) {
	if cmd.Type != models.TypeWithdrawal && cmd.Type != models.TypeDeposit {
		return nil, fmt.Errorf("%w: %q at an ATM", models.ErrUnsupportedTransactionType, cmd.Type)
	}
	if !models.ValidAmount(cmd.Amount) || !cmd.Amount.Mod(banknote).IsZero() {
		return nil, fmt.Errorf("%w: %s cannot be handled in notes of %s", models.ErrInvalidAmount, cmd.Amount.String(), banknote.String())
	}

	card, err := s.Store.GetCard(ctx, cmd.CardID)
	if err != nil {
		return nil, err
	}
	if !utils.CheckPIN(cmd.PIN, card.PINHash) {
		return nil, fmt.Errorf("%w: the PIN is incorrect", models.ErrInvalidCredential)
	}
	if cmd.DeviceID != "" {
		if _, err := s.Store.GetAtm(ctx, cmd.DeviceID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	txn := &models.Transaction{
		ID:        utils.GenerateID("tan"),
		Amount:    cmd.Amount,
		Type:      cmd.Type,
		Status:    models.StatusPending,
		DeviceID:  cmd.DeviceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cmd.Type == models.TypeWithdrawal {
		txn.FromAccountID = card.AccountID
	} else {
		txn.ToAccountID = card.AccountID
	}

	next := dispatch.TaskProcessAtmOperation
	if cmd.DeviceID == "" {
		next = dispatch.TaskAssignAtm
	}
	return s.open(ctx, txn, next)
}
