package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/dispatch"
	"github.com/eaglebank/transaction-core/internal/events"
	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/eaglebank/transaction-core/internal/utils"
	"github.com/eaglebank/transaction-core/internal/verify"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Locker interface {
	AcquireAll(ctx context.Context, keys []string, ttl time.Duration) ([]*lock.Lock, error)
	ReleaseAll(ctx context.Context, locks []*lock.Lock)
}

type LeaseStore interface {
	Save(ctx context.Context, lease *lock.Lease) error
}

type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

type Projector interface {
	Project(ctx context.Context, t *models.Transaction, message string)
}

// Reviewer is the part of the orchestrator request handlers drive directly.
type Reviewer interface {
	Accept(ctx context.Context, transactionID, reviewerID string) (*models.Transaction, error)
	Reject(ctx context.Context, transactionID, reviewerID string) (*models.Transaction, error)
	Cancel(ctx context.Context, transactionID string) (*models.Transaction, error)
}

type Deps struct {
	Store     repository.Store
	Locks     Locker
	Leases    LeaseStore
	Tasks     dispatch.Enqueuer
	Events    Publisher
	Projector Projector
	Reviewer  Reviewer
}

type Config struct {
	LockTTL             time.Duration
	AutoApprovalCeiling decimal.Decimal
}

// TransactionCommandService opens transactions. It takes the resource locks,
// checks the balance while holding them, writes the pending transaction and
// hands the rest to the workers.
type TransactionCommandService struct {
	Deps
	cfg Config
	log *logrus.Entry
	now func() time.Time
}

func NewTransactionCommandService(deps Deps, cfg Config, log *logrus.Entry) *TransactionCommandService {
	return &TransactionCommandService{
		Deps: deps,
		cfg:  cfg,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Register wires the deferred create handler onto w.
func (s *TransactionCommandService) Register(w *dispatch.Worker) {
	w.Handle(dispatch.TaskCreateTransaction, s.handleCreateTransaction)
}

func (s *TransactionCommandService) CreateTransfer(ctx context.Context, cmd cqrs.CreateTransferCommand) (*models.Transaction, error) {
	if !models.ValidAmount(cmd.Amount) {
		return nil, fmt.Errorf("%w: amount must be greater than zero with at most two decimal places", models.ErrInvalidAmount)
	}

	sender, err := s.Store.GetAccountByNumber(ctx, cmd.SenderAccountNumber)
	if err != nil {
		return nil, err
	}
	if sender.UserID != cmd.UserID {
		return nil, fmt.Errorf("%w: you can only send money from your own account", models.ErrForbidden)
	}

	id := cmd.TransactionID
	if id == "" {
		id = utils.GenerateID("tan")
	}
	now := s.now()
	txn := &models.Transaction{
		ID:            id,
		FromAccountID: sender.ID,
		Amount:        cmd.Amount,
		Type:          models.TypeTransfer,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	receiver, err := s.Store.GetAccountByNumber(ctx, cmd.ReceiverAccountNumber)
	switch {
	case err == nil:
		if receiver.ID == sender.ID {
			return nil, fmt.Errorf("%w: sender and receiver are the same account", models.ErrInvalidAmount)
		}
		txn.ToAccountID = receiver.ID
	case errors.Is(err, models.ErrResourceNotFound):
		txn.ExternalAccount = cmd.ReceiverAccountNumber
	default:
		return nil, err
	}

	return s.open(ctx, txn, dispatch.TaskProcessRiskCheck)
}

// CreateTransferAsync issues the transaction id now and defers the create to
// a worker. Validation failures surface later on the confirmation.
func (s *TransactionCommandService) CreateTransferAsync(ctx context.Context, cmd cqrs.CreateTransferCommand) (string, error) {
	if !cmd.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be greater than zero", models.ErrInvalidAmount)
	}
	cmd.TransactionID = utils.GenerateID("tan")

	if err := s.Tasks.Enqueue(ctx, dispatch.TaskCreateTransaction, cmd); err != nil {
		return "", fmt.Errorf("failed to defer transfer: %w", err)
	}
	now := s.now()
	s.Projector.Project(ctx, &models.Transaction{
		ID:        cmd.TransactionID,
		Amount:    cmd.Amount,
		Type:      models.TypeTransfer,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, "")
	return cmd.TransactionID, nil
}

// handleCreateTransaction runs a deferred create. Busy resources are retried
// by redelivery; every other rejection is final and recorded on the
// confirmation.
func (s *TransactionCommandService) handleCreateTransaction(ctx context.Context, task dispatch.Task) error {
	var cmd cqrs.CreateTransferCommand
	if err := task.Decode(&cmd); err != nil {
		return err
	}
	if _, err := s.Store.GetTransaction(ctx, cmd.TransactionID); err == nil {
		return nil
	}
	_, err := s.CreateTransfer(ctx, cmd)
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrResourceBusy) || models.ErrorKind(err) == "Internal" {
		return err
	}

	s.log.WithError(err).WithField("transactionId", cmd.TransactionID).Info("deferred transfer rejected")
	now := s.now()
	s.Projector.Project(ctx, &models.Transaction{
		ID:        cmd.TransactionID,
		Amount:    cmd.Amount,
		Type:      models.TypeTransfer,
		Status:    models.StatusFailed,
		CreatedAt: now,
		UpdatedAt: now,
	}, "Transfer rejected: "+err.Error())
	return nil
}

// open locks txn's resources, re-checks the balance under the locks, persists
// txn as pending and enqueues next. On any failure before the enqueue the
// locks are released again.
func (s *TransactionCommandService) open(ctx context.Context, txn *models.Transaction, next string) (*models.Transaction, error) {
	var keys []string
	for _, id := range txn.AccountIDs() {
		keys = append(keys, lock.AccountKey(id))
	}
	if txn.DeviceID != "" {
		keys = append(keys, lock.AtmKey(txn.DeviceID))
	}

	locks, err := s.Locks.AcquireAll(ctx, keys, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	for _, l := range locks {
		s.setMirror(ctx, l.Key, models.ResourceBusy)
	}
	release := func() {
		ctx := context.WithoutCancel(ctx)
		s.Locks.ReleaseAll(ctx, locks)
		for _, l := range locks {
			s.setMirror(ctx, l.Key, models.ResourceActive)
		}
	}

	if txn.Type != models.TypeDeposit {
		acct, err := s.Store.GetAccount(ctx, txn.FromAccountID)
		if err != nil {
			release()
			return nil, err
		}
		if acct.Balance.LessThan(txn.Amount) {
			release()
			return nil, fmt.Errorf("%w: balance %s is below %s", models.ErrInsufficientFunds, acct.Balance.StringFixed(2), txn.Amount.StringFixed(2))
		}
	}

	err = s.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return uow.CreateTransaction(ctx, txn)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		release()
		return s.Store.GetTransaction(ctx, txn.ID)
	}
	if err != nil {
		release()
		return nil, err
	}

	lease := &lock.Lease{TransactionID: txn.ID}
	for _, l := range locks {
		lease.Add(l)
	}
	if err := s.Leases.Save(ctx, lease); err != nil {
		s.log.WithError(err).WithField("transactionId", txn.ID).Warn("failed to persist lease")
	}

	if err := s.Tasks.Enqueue(ctx, next, dispatch.TransactionPayload{TransactionID: txn.ID}); err != nil {
		s.abandon(ctx, txn)
		release()
		return nil, fmt.Errorf("%w: failed to dispatch %s: %v", models.ErrDownstreamUnavailable, next, err)
	}

	if err := s.Events.Publish(ctx, events.TransactionCreated, events.TransactionCreatedEvent{
		TransactionID: txn.ID,
		Type:          txn.Type,
		FromAccountID: txn.FromAccountID,
		ToAccountID:   txn.ToAccountID,
		DeviceID:      txn.DeviceID,
		Amount:        txn.Amount,
	}); err != nil {
		s.log.WithError(err).Warn("failed to publish transaction.created event")
	}
	s.Projector.Project(ctx, txn, "")

	s.log.WithFields(logrus.Fields{
		"transactionId": txn.ID,
		"type":          txn.Type,
		"next":          next,
	}).Info("transaction opened")
	return txn, nil
}

// abandon fails a pending transaction that could not be dispatched.
func (s *TransactionCommandService) abandon(ctx context.Context, txn *models.Transaction) {
	ctx = context.WithoutCancel(ctx)
	err := s.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return uow.UpdateTransactionStatus(ctx, txn.ID, models.StatusPending, models.StatusFailed)
	})
	if err != nil {
		s.log.WithError(err).WithField("transactionId", txn.ID).Error("failed to abandon undispatched transaction")
		return
	}
	txn.Status = models.StatusFailed
	s.Projector.Project(ctx, txn, "Transaction could not be dispatched")
}

func (s *TransactionCommandService) setMirror(ctx context.Context, key, status string) {
	if err := repository.SetMirror(ctx, s.Store, key, status); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("failed to update status mirror")
	}
}

// Free cancels a transaction that has not been picked up yet.
func (s *TransactionCommandService) Free(ctx context.Context, cmd cqrs.FreeTransactionCommand) (*models.Transaction, error) {
	return s.Reviewer.Cancel(ctx, cmd.TransactionID)
}

func (s *TransactionCommandService) Accept(ctx context.Context, cmd cqrs.ReviewCommand) (*models.Transaction, error) {
	return s.Reviewer.Accept(ctx, cmd.TransactionID, cmd.ReviewerID)
}

func (s *TransactionCommandService) Reject(ctx context.Context, cmd cqrs.ReviewCommand) (*models.Transaction, error) {
	return s.Reviewer.Reject(ctx, cmd.TransactionID, cmd.ReviewerID)
}

// AutoVerify answers the verification collaborator's question for a
// transaction under screening.
func (s *TransactionCommandService) AutoVerify(ctx context.Context, cmd cqrs.AutoVerifyCommand) (*verify.Result, error) {
	txn, err := s.Store.GetTransaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	return verify.AutoVerify(txn, s.cfg.AutoApprovalCeiling)
}
