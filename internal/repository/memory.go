package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/risk"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. RunInTx serialises units of work behind
// one mutex and works on a copy of the state that is swapped in on commit, so
// a failing unit leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) read(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (t *models.Transaction, err error) {
	err = s.read(func(st *memState) error { t, err = st.GetTransaction(ctx, id); return err })
	return t, err
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (a *models.Account, err error) {
	err = s.read(func(st *memState) error { a, err = st.GetAccount(ctx, id); return err })
	return a, err
}

func (s *MemoryStore) GetAccountByNumber(ctx context.Context, number string) (a *models.Account, err error) {
	err = s.read(func(st *memState) error { a, err = st.GetAccountByNumber(ctx, number); return err })
	return a, err
}

func (s *MemoryStore) GetCard(ctx context.Context, id string) (c *models.Card, err error) {
	err = s.read(func(st *memState) error { c, err = st.GetCard(ctx, id); return err })
	return c, err
}

func (s *MemoryStore) GetAtm(ctx context.Context, id string) (d *models.AtmDevice, err error) {
	err = s.read(func(st *memState) error { d, err = st.GetAtm(ctx, id); return err })
	return d, err
}

func (s *MemoryStore) ListAtmsByStatus(ctx context.Context, status string) (out []models.AtmDevice, err error) {
	err = s.read(func(st *memState) error { out, err = st.ListAtmsByStatus(ctx, status); return err })
	return out, err
}

func (s *MemoryStore) ListBusyAccountIDs(ctx context.Context) (out []string, err error) {
	err = s.read(func(st *memState) error { out, err = st.ListBusyAccountIDs(ctx); return err })
	return out, err
}

func (s *MemoryStore) History(ctx context.Context, accountID, excludeID string, since time.Time) (out []risk.HistoryEntry, err error) {
	err = s.read(func(st *memState) error { out, err = st.History(ctx, accountID, excludeID, since); return err })
	return out, err
}

func (s *MemoryStore) GetRiskFlagByTransaction(ctx context.Context, transactionID string) (f *models.RiskFlag, err error) {
	err = s.read(func(st *memState) error { f, err = st.GetRiskFlagByTransaction(ctx, transactionID); return err })
	return f, err
}

func (s *MemoryStore) ListRiskFlags(ctx context.Context, filter FlagFilter) (out []models.RiskFlag, err error) {
	err = s.read(func(st *memState) error { out, err = st.ListRiskFlags(ctx, filter); return err })
	return out, err
}

func (s *MemoryStore) SetAccountStatus(ctx context.Context, id, status string) error {
	return s.read(func(st *memState) error { return st.SetAccountStatus(ctx, id, status) })
}

func (s *MemoryStore) SetAtmStatus(ctx context.Context, id, status string) error {
	return s.read(func(st *memState) error { return st.SetAtmStatus(ctx, id, status) })
}

// PutAccount seeds or replaces an account.
func (s *MemoryStore) PutAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == "" {
		a.Status = models.ResourceActive
	}
	s.state.accounts[a.ID] = a
}

// PutAtm seeds or replaces an ATM device.
func (s *MemoryStore) PutAtm(d models.AtmDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Status == "" {
		d.Status = models.ResourceActive
	}
	s.state.atms[d.ID] = d
}

// PutCard seeds or replaces a card.
func (s *MemoryStore) PutCard(c models.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.cards[c.ID] = c
}

// PutTransaction seeds or replaces a transaction, bypassing status checks.
func (s *MemoryStore) PutTransaction(t models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.transactions[t.ID] = t
}

type memState struct {
	accounts     map[string]models.Account
	atms         map[string]models.AtmDevice
	cards        map[string]models.Card
	transactions map[string]models.Transaction
	flags        map[string]models.RiskFlag
}

func newMemState() *memState {
	return &memState{
		accounts:     map[string]models.Account{},
		atms:         map[string]models.AtmDevice{},
		cards:        map[string]models.Card{},
		transactions: map[string]models.Transaction{},
		flags:        map[string]models.RiskFlag{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.atms {
		c.atms[k] = v
	}
	for k, v := range st.cards {
		c.cards[k] = v
	}
	for k, v := range st.transactions {
		c.transactions[k] = v
	}
	for k, v := range st.flags {
		c.flags[k] = v
	}
	return c
}

func missing(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, models.ErrResourceNotFound)
}

func (st *memState) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	t, ok := st.transactions[id]
	if !ok {
		return nil, missing("transaction", id)
	}
	return &t, nil
}

func (st *memState) LockTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return st.GetTransaction(ctx, id)
}

func (st *memState) GetAccount(_ context.Context, id string) (*models.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return nil, missing("account", id)
	}
	return &a, nil
}

func (st *memState) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	return st.GetAccount(ctx, id)
}

func (st *memState) GetAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	for _, a := range st.accounts {
		if a.AccountNumber == number {
			a := a
			return &a, nil
		}
	}
	return nil, missing("account", number)
}

func (st *memState) GetCard(_ context.Context, id string) (*models.Card, error) {
	c, ok := st.cards[id]
	if !ok {
		return nil, missing("card", id)
	}
	return &c, nil
}

func (st *memState) GetAtm(_ context.Context, id string) (*models.AtmDevice, error) {
	d, ok := st.atms[id]
	if !ok {
		return nil, missing("atm device", id)
	}
	return &d, nil
}

func (st *memState) ListAtmsByStatus(_ context.Context, status string) ([]models.AtmDevice, error) {
	var out []models.AtmDevice
	for _, d := range st.atms {
		if d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *memState) ListBusyAccountIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id, a := range st.accounts {
		if a.Status == models.ResourceBusy {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (st *memState) History(_ context.Context, accountID, excludeID string, since time.Time) ([]risk.HistoryEntry, error) {
	var out []risk.HistoryEntry
	for _, t := range st.transactions {
		if t.ID == excludeID || t.CreatedAt.Before(since) || t.SubjectAccountID() != accountID {
			continue
		}
		h := risk.HistoryEntry{TransactionID: t.ID, Amount: t.Amount, Type: t.Type, Timestamp: t.CreatedAt}
		if d, ok := st.atms[t.DeviceID]; ok {
			h.Location = d.Location
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (st *memState) GetRiskFlagByTransaction(_ context.Context, transactionID string) (*models.RiskFlag, error) {
	for _, f := range st.flags {
		if f.TransactionID == transactionID {
			f := f
			return &f, nil
		}
	}
	return nil, missing("risk flag for transaction", transactionID)
}

func (st *memState) ListRiskFlags(_ context.Context, filter FlagFilter) ([]models.RiskFlag, error) {
	var out []models.RiskFlag
	for _, f := range st.flags {
		switch {
		case filter == FlagsPending && f.Reviewed():
			continue
		case filter == FlagsReviewed && !f.Reviewed():
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (st *memState) SetAccountStatus(_ context.Context, id, status string) error {
	a, ok := st.accounts[id]
	if !ok {
		return missing("account", id)
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	st.accounts[id] = a
	return nil
}

func (st *memState) SetAtmStatus(_ context.Context, id, status string) error {
	d, ok := st.atms[id]
	if !ok {
		return missing("atm device", id)
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	st.atms[id] = d
	return nil
}

func (st *memState) UpdateAccountBalance(_ context.Context, id string, balance decimal.Decimal) error {
	a, ok := st.accounts[id]
	if !ok {
		return missing("account", id)
	}
	if balance.IsNegative() {
		return fmt.Errorf("account %s: %w", id, models.ErrInsufficientFunds)
	}
	a.Balance = balance
	a.UpdatedAt = time.Now().UTC()
	st.accounts[id] = a
	return nil
}

func (st *memState) CreateTransaction(_ context.Context, t *models.Transaction) error {
	if _, ok := st.transactions[t.ID]; ok {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrDuplicate)
	}
	st.transactions[t.ID] = *t
	return nil
}

func (st *memState) UpdateTransactionStatus(_ context.Context, id string, from, to models.Status) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	t, ok := st.transactions[id]
	if !ok {
		return missing("transaction", id)
	}
	if t.Status != from {
		return fmt.Errorf("%w: transaction %s is no longer %s", models.ErrInvalidTransition, id, from)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	st.transactions[id] = t
	return nil
}

func (st *memState) SetTransactionDevice(_ context.Context, id, deviceID string) error {
	t, ok := st.transactions[id]
	if !ok {
		return missing("transaction", id)
	}
	t.DeviceID = deviceID
	t.UpdatedAt = time.Now().UTC()
	st.transactions[id] = t
	return nil
}

func (st *memState) CreateRiskFlag(_ context.Context, flag *models.RiskFlag) error {
	for _, f := range st.flags {
		if f.TransactionID == flag.TransactionID {
			return fmt.Errorf("risk flag for %s: %w", flag.TransactionID, ErrDuplicate)
		}
	}
	st.flags[flag.ID] = *flag
	return nil
}

func (st *memState) UpdateRiskFlagReasoning(_ context.Context, flagID, reasoning string) error {
	f, ok := st.flags[flagID]
	if !ok {
		return missing("risk flag", flagID)
	}
	f.Reasoning = reasoning
	st.flags[flagID] = f
	return nil
}

func (st *memState) ReviewRiskFlag(_ context.Context, flagID, decision, reviewerID string, at time.Time) error {
	f, ok := st.flags[flagID]
	if !ok || f.Reviewed() {
		return missing("risk flag", flagID)
	}
	f.Decision = decision
	f.ReviewerID = reviewerID
	f.ReviewedAt = &at
	st.flags[flagID] = f
	return nil
}
