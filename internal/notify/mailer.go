package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// sendFunc matches (*email.Email).Send so tests can capture messages.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Mailer tells AML reviewers about new risk flags.
type Mailer struct {
	cfg    config.SMTPConfig
	logger *logrus.Entry
	send   sendFunc
}

func NewMailer(cfg config.SMTPConfig, logger *logrus.Entry) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Enabled reports whether a host and at least one reviewer are configured.
func (m *Mailer) Enabled() bool {
	return m.cfg.Host != "" && len(m.cfg.Reviewers) > 0
}

// RiskFlagCreated sends the review request for flag.
func (m *Mailer) RiskFlagCreated(flag *models.RiskFlag, txn *models.Transaction) error {
	if !m.Enabled() {
		return nil
	}

	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = m.cfg.Reviewers
	e.Subject = fmt.Sprintf("AML review required: %s", txn.ID)

	var body strings.Builder
	body.WriteString("A transaction has been held for review.\n\n")
	fmt.Fprintf(&body, "Transaction: %s\n", txn.ID)
	fmt.Fprintf(&body, "Type: %s\n", txn.Type)
	fmt.Fprintf(&body, "Amount: %s\n", txn.Amount.StringFixed(2))
	if txn.FromAccountID != "" {
		fmt.Fprintf(&body, "From account: %s\n", txn.FromAccountID)
	}
	if txn.ToAccountID != "" {
		fmt.Fprintf(&body, "To account: %s\n", txn.ToAccountID)
	}
	if txn.ExternalAccount != "" {
		fmt.Fprintf(&body, "External account: %s\n", txn.ExternalAccount)
	}
	fmt.Fprintf(&body, "Reasons: %s\n", strings.ReplaceAll(flag.Reasoning, ",", ", "))
	fmt.Fprintf(&body, "Flagged at: %s\n", flag.CreatedAt.Format("2006-01-02 15:04:05"))
	e.Text = []byte(body.String())

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(e, addr, auth); err != nil {
		m.logger.WithError(err).WithField("transactionId", txn.ID).Error("failed to send review notification")
		return fmt.Errorf("failed to send review notification: %w", err)
	}

	m.logger.WithField("transactionId", txn.ID).Info("review notification sent")
	return nil
}
