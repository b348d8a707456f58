package query

import (
	"context"
	"fmt"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/graph"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/sirupsen/logrus"
)

// counterpartyLimit caps the peers listed alongside a risk flag.
const counterpartyLimit = 5

type Views interface {
	GetTransaction(ctx context.Context, id string) (*models.TransactionView, error)
	GetConfirmation(ctx context.Context, id string) (*models.Confirmation, error)
}

type Counterparties interface {
	Counterparties(ctx context.Context, accountID string, limit int) ([]graph.Counterparty, error)
}

// FlagDetail is a risk flag with the context a reviewer needs to decide it.
type FlagDetail struct {
	Flag           models.RiskFlag        `json:"flag"`
	Transaction    models.TransactionView `json:"transaction"`
	Counterparties []graph.Counterparty   `json:"counterparties,omitempty"`
}

// TransactionQueryService serves polling clients from the Redis projections
// and reviewers from the store. Flows may be nil when the graph is disabled.
type TransactionQueryService struct {
	views Views
	store repository.Reader
	flows Counterparties
	log   *logrus.Entry
}

func NewTransactionQueryService(views Views, store repository.Reader, flows Counterparties, log *logrus.Entry) *TransactionQueryService {
	return &TransactionQueryService{views: views, store: store, flows: flows, log: log}
}

func (s *TransactionQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
	return s.views.GetTransaction(ctx, q.TransactionID)
}

func (s *TransactionQueryService) GetConfirmation(ctx context.Context, q cqrs.GetConfirmationQuery) (*models.Confirmation, error) {
	return s.views.GetConfirmation(ctx, q.TransactionID)
}

// ListFlags returns flags by review state, pending ones when no state is given.
func (s *TransactionQueryService) ListFlags(ctx context.Context, q cqrs.ListFlagsQuery) ([]models.RiskFlag, error) {
	filter := repository.FlagFilter(q.Status)
	switch filter {
	case "":
		filter = repository.FlagsPending
	case repository.FlagsPending, repository.FlagsReviewed, repository.FlagsAll:
	default:
		return nil, fmt.Errorf("unknown flag status %q", q.Status)
	}
	flags, err := s.store.ListRiskFlags(ctx, filter)
	if err != nil {
		return nil, err
	}
	if flags == nil {
		flags = []models.RiskFlag{}
	}
	return flags, nil
}

func (s *TransactionQueryService) GetFlag(ctx context.Context, q cqrs.GetFlagQuery) (*FlagDetail, error) {
	flag, err := s.store.GetRiskFlagByTransaction(ctx, q.TransactionID)
	if err != nil {
		return nil, err
	}
	txn, err := s.store.GetTransaction(ctx, q.TransactionID)
	if err != nil {
		return nil, err
	}

	detail := &FlagDetail{Flag: *flag, Transaction: *txn.ToView()}
	if s.flows != nil && txn.SubjectAccountID() != "" {
		peers, err := s.flows.Counterparties(ctx, txn.SubjectAccountID(), counterpartyLimit)
		if err != nil {
			s.log.WithError(err).WithField("transactionId", txn.ID).Warn("counterparties unavailable")
		}
		detail.Counterparties = peers
	}
	return detail, nil
}
