package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/risk"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type queries struct {
	q dbtx
}

const transactionColumns = `id, from_account_id, to_account_id, external_account, amount, type, status, device_id, created_at, updated_at`

const accountColumns = `id, account_number, user_id, balance, status, created_at, updated_at`

const flagColumns = `id, transaction_id, reasoning, decision, reviewer_id, reviewed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t                            models.Transaction
		from, to, external, deviceID sql.NullString
		status                       string
	)
	if err := row.Scan(&t.ID, &from, &to, &external, &t.Amount, &t.Type, &status, &deviceID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.FromAccountID = from.String
	t.ToAccountID = to.String
	t.ExternalAccount = external.String
	t.DeviceID = deviceID.String
	t.Status = models.Status(status)
	return &t, nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.AccountNumber, &a.UserID, &a.Balance, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanFlag(row rowScanner) (*models.RiskFlag, error) {
	var (
		f                    models.RiskFlag
		decision, reviewerID sql.NullString
		reviewedAt           sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.TransactionID, &f.Reasoning, &decision, &reviewerID, &reviewedAt, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Decision = decision.String
	f.ReviewerID = reviewerID.String
	if reviewedAt.Valid {
		at := reviewedAt.Time
		f.ReviewedAt = &at
	}
	return &f, nil
}

func notFound(what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrResourceNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *queries) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("transaction", id, err)
	}
	return t, nil
}

func (r *queries) LockTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	t, err := scanTransaction(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("transaction", id, err)
	}
	return t, nil
}

func (r *queries) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("account", id, err)
	}
	return a, nil
}

func (r *queries) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	a, err := scanAccount(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("account", id, err)
	}
	return a, nil
}

func (r *queries) GetAccountByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	a, err := scanAccount(r.q.QueryRowContext(ctx, query, accountNumber))
	if err != nil {
		return nil, notFound("account", accountNumber, err)
	}
	return a, nil
}

func (r *queries) GetCard(ctx context.Context, id string) (*models.Card, error) {
	var c models.Card
	err := r.q.QueryRowContext(ctx, `SELECT id, account_id, pin_hash FROM cards WHERE id = $1`, id).
		Scan(&c.ID, &c.AccountID, &c.PINHash)
	if err != nil {
		return nil, notFound("card", id, err)
	}
	return &c, nil
}

func (r *queries) GetAtm(ctx context.Context, id string) (*models.AtmDevice, error) {
	var d models.AtmDevice
	err := r.q.QueryRowContext(ctx, `SELECT id, location, status, updated_at FROM atm_devices WHERE id = $1`, id).
		Scan(&d.ID, &d.Location, &d.Status, &d.UpdatedAt)
	if err != nil {
		return nil, notFound("atm device", id, err)
	}
	return &d, nil
}

func (r *queries) ListAtmsByStatus(ctx context.Context, status string) ([]models.AtmDevice, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, location, status, updated_at FROM atm_devices WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list atm devices: %w", err)
	}
	defer rows.Close()

	var devices []models.AtmDevice
	for rows.Next() {
		var d models.AtmDevice
		if err := rows.Scan(&d.ID, &d.Location, &d.Status, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan atm device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *queries) ListBusyAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM accounts WHERE status = $1 ORDER BY id`, models.ResourceBusy)
	if err != nil {
		return nil, fmt.Errorf("failed to list busy accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *queries) History(ctx context.Context, accountID, excludeID string, since time.Time) ([]risk.HistoryEntry, error) {
	query := `
		SELECT t.id, t.amount, t.type, t.created_at, COALESCE(d.location, '')
		FROM transactions t
		LEFT JOIN atm_devices d ON d.id = t.device_id
		WHERE ((t.type IN ('transfer', 'withdrawal') AND t.from_account_id = $1)
			OR (t.type = 'deposit' AND t.to_account_id = $1))
			AND t.id <> $2
			AND t.created_at >= $3
		ORDER BY t.created_at
	`
	rows, err := r.q.QueryContext(ctx, query, accountID, excludeID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []risk.HistoryEntry
	for rows.Next() {
		var h risk.HistoryEntry
		if err := rows.Scan(&h.TransactionID, &h.Amount, &h.Type, &h.Timestamp, &h.Location); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (r *queries) GetRiskFlagByTransaction(ctx context.Context, transactionID string) (*models.RiskFlag, error) {
	query := `SELECT ` + flagColumns + ` FROM risk_flags WHERE transaction_id = $1`
	f, err := scanFlag(r.q.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		return nil, notFound("risk flag for transaction", transactionID, err)
	}
	return f, nil
}

func (r *queries) ListRiskFlags(ctx context.Context, filter FlagFilter) ([]models.RiskFlag, error) {
	query := `SELECT ` + flagColumns + ` FROM risk_flags`
	switch filter {
	case FlagsPending:
		query += ` WHERE decision IS NULL`
	case FlagsReviewed:
		query += ` WHERE decision IS NOT NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk flags: %w", err)
	}
	defer rows.Close()

	var flags []models.RiskFlag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk flag: %w", err)
		}
		flags = append(flags, *f)
	}
	return flags, rows.Err()
}

func (r *queries) SetAccountStatus(ctx context.Context, id, status string) error {
	return r.execOne(ctx, "account", id,
		`UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *queries) SetAtmStatus(ctx context.Context, id, status string) error {
	return r.execOne(ctx, "atm device", id,
		`UPDATE atm_devices SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *queries) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("account %s: %w", id, models.ErrInsufficientFunds)
	}
	return r.execOne(ctx, "account", id,
		`UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, id, balance)
}

func (r *queries) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, from_account_id, to_account_id, external_account, amount, type, status, device_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.q.ExecContext(ctx, query,
		t.ID, nullString(t.FromAccountID), nullString(t.ToAccountID), nullString(t.ExternalAccount),
		t.Amount, t.Type, string(t.Status), nullString(t.DeviceID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrDuplicate)
	}
	return nil
}

func (r *queries) UpdateTransactionStatus(ctx context.Context, id string, from, to models.Status) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE transactions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %s is no longer %s", models.ErrInvalidTransition, id, from)
	}
	return nil
}

func (r *queries) SetTransactionDevice(ctx context.Context, id, deviceID string) error {
	return r.execOne(ctx, "transaction", id,
		`UPDATE transactions SET device_id = $2, updated_at = NOW() WHERE id = $1`, id, deviceID)
}

func (r *queries) CreateRiskFlag(ctx context.Context, flag *models.RiskFlag) error {
	query := `
		INSERT INTO risk_flags (id, transaction_id, reasoning, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.q.ExecContext(ctx, query, flag.ID, flag.TransactionID, flag.Reasoning, flag.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("risk flag for %s: %w", flag.TransactionID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create risk flag: %w", err)
	}
	return nil
}

func (r *queries) UpdateRiskFlagReasoning(ctx context.Context, flagID, reasoning string) error {
	return r.execOne(ctx, "risk flag", flagID,
		`UPDATE risk_flags SET reasoning = $2 WHERE id = $1`, flagID, reasoning)
}

func (r *queries) ReviewRiskFlag(ctx context.Context, flagID, decision, reviewerID string, at time.Time) error {
	return r.execOne(ctx, "risk flag", flagID,
		`UPDATE risk_flags SET decision = $2, reviewer_id = $3, reviewed_at = $4 WHERE id = $1 AND decision IS NULL`,
		flagID, decision, reviewerID, at)
}

// execOne runs an update expected to touch exactly one row.
func (r *queries) execOne(ctx context.Context, what, id, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrResourceNotFound)
	}
	return nil
}
