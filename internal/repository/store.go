package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/risk"
	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned when inserting a transaction whose id already exists.
var ErrDuplicate = errors.New("duplicate record")

// FlagFilter selects risk flags by review state.
type FlagFilter string

const (
	FlagsPending  FlagFilter = "pending"
	FlagsReviewed FlagFilter = "reviewed"
	FlagsAll      FlagFilter = "all"
)

// Reader covers lookups that need no row locks.
type Reader interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByNumber(ctx context.Context, accountNumber string) (*models.Account, error)
	GetCard(ctx context.Context, id string) (*models.Card, error)
	GetAtm(ctx context.Context, id string) (*models.AtmDevice, error)
	ListAtmsByStatus(ctx context.Context, status string) ([]models.AtmDevice, error)
	ListBusyAccountIDs(ctx context.Context) ([]string, error)
	// History returns the account's transactions created at or after since,
	// excluding excludeID. The account is matched as source for transfers and
	// withdrawals and as destination for deposits.
	History(ctx context.Context, accountID, excludeID string, since time.Time) ([]risk.HistoryEntry, error)
	GetRiskFlagByTransaction(ctx context.Context, transactionID string) (*models.RiskFlag, error)
	ListRiskFlags(ctx context.Context, filter FlagFilter) ([]models.RiskFlag, error)
	SetAccountStatus(ctx context.Context, id, status string) error
	SetAtmStatus(ctx context.Context, id, status string) error
}

// UnitOfWork is the set of operations available inside RunInTx. Lock* methods
// take row locks held until the unit commits or rolls back.
type UnitOfWork interface {
	Reader
	LockAccount(ctx context.Context, id string) (*models.Account, error)
	LockTransaction(ctx context.Context, id string) (*models.Transaction, error)
	UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	// UpdateTransactionStatus moves id from one status to another only if it
	// is still in from.
	UpdateTransactionStatus(ctx context.Context, id string, from, to models.Status) error
	SetTransactionDevice(ctx context.Context, id, deviceID string) error
	CreateRiskFlag(ctx context.Context, flag *models.RiskFlag) error
	UpdateRiskFlagReasoning(ctx context.Context, flagID, reasoning string) error
	ReviewRiskFlag(ctx context.Context, flagID, decision, reviewerID string, at time.Time) error
}

// Store is the transactional ledger.
type Store interface {
	Reader
	RunInTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

var (
	_ Store      = (*PostgresStore)(nil)
	_ Store      = (*MemoryStore)(nil)
	_ UnitOfWork = (*queries)(nil)
	_ UnitOfWork = (*memState)(nil)
)
