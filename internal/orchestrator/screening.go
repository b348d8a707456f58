package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-core/internal/events"
	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/eaglebank/transaction-core/internal/risk"
	"github.com/eaglebank/transaction-core/internal/utils"
	"github.com/eaglebank/transaction-core/internal/verify"
)

// ScreenRisk runs the risk engine on a transfer and settles it when approved.
func (o *Orchestrator) ScreenRisk(ctx context.Context, transactionID string) error {
	return o.process(ctx, transactionID, false)
}

// ProcessAtmOperation screens an ATM deposit or withdrawal, has it verified
// downstream and settles it.
func (o *Orchestrator) ProcessAtmOperation(ctx context.Context, transactionID string) error {
	return o.process(ctx, transactionID, true)
}

func (o *Orchestrator) process(ctx context.Context, transactionID string, verifyFirst bool) error {
	t, err := o.Store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, models.ErrResourceNotFound) {
			o.log.WithField("transactionId", transactionID).Warn("task for unknown transaction dropped")
			return nil
		}
		return err
	}

	switch t.Status {
	case models.StatusCompleted, models.StatusFailed, models.StatusBlocked:
		o.log.WithField("transactionId", t.ID).WithField("status", t.Status).Debug("nothing to do")
		return nil
	}

	lease, err := o.holdResources(ctx, t)
	if err != nil {
		return err
	}
	defer o.releaseResources(ctx, t, lease)

	// Another holder may have moved t on while this call waited for the locks.
	if t, err = o.Store.GetTransaction(ctx, transactionID); err != nil {
		return err
	}
	switch t.Status {
	case models.StatusCompleted, models.StatusFailed, models.StatusBlocked:
		return nil
	}

	if t.Status == models.StatusPending || t.Status == models.StatusProcessingRisk {
		if err := o.screen(ctx, t, lease, verifyFirst); err != nil {
			return err
		}
	}
	if t.Status != models.StatusApproved {
		return nil
	}
	_, err = o.settle(ctx, t)
	return err
}

// screen takes t to approved, blocked or failed.
func (o *Orchestrator) screen(ctx context.Context, t *models.Transaction, lease *lock.Lease, verifyFirst bool) error {
	if t.Status == models.StatusPending {
		if err := o.transition(ctx, t, models.StatusPending, models.StatusProcessingRisk, ""); err != nil {
			return err
		}
	}

	decision, err := o.assess(ctx, t)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedTransactionType) {
			return o.transition(ctx, t, models.StatusProcessingRisk, models.StatusFailed, err.Error())
		}
		return err
	}

	if !decision.Blocked() && verifyFirst {
		o.extendResources(ctx, lease)
		res, err := o.verify(ctx, t.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.WithError(err).WithField("transactionId", t.ID).Warn("verification failed")
			return o.transition(ctx, t, models.StatusProcessingRisk, models.StatusFailed, "downstream verification failed")
		}
		if res.Status == verify.ResultPending {
			rules := []risk.Rule{risk.RuleManualVerification}
			decision = risk.Decision{Status: models.StatusBlocked, Rules: rules, Reasoning: risk.Reasoning(rules)}
		}
	}

	if decision.Blocked() {
		return o.block(ctx, t, decision.Reasoning)
	}
	return o.transition(ctx, t, models.StatusProcessingRisk, models.StatusApproved, "")
}

func (o *Orchestrator) assess(ctx context.Context, t *models.Transaction) (risk.Decision, error) {
	rules, subject, err := o.rules(ctx, t)
	if err != nil {
		return risk.Decision{}, err
	}
	return o.Engine.Decide(subject, rules), nil
}

// rules evaluates t against its account history.
func (o *Orchestrator) rules(ctx context.Context, t *models.Transaction) ([]risk.Rule, risk.Subject, error) {
	subject := risk.Subject{
		TransactionID: t.ID,
		AccountID:     t.SubjectAccountID(),
		Type:          t.Type,
		Amount:        t.Amount,
		Timestamp:     t.CreatedAt,
	}
	if t.DeviceID != "" {
		if d, err := o.Store.GetAtm(ctx, t.DeviceID); err == nil {
			subject.Location = d.Location
		}
	}

	since := t.CreatedAt.Add(-historyWindow(o.Engine.Thresholds()))
	history, err := o.Store.History(ctx, subject.AccountID, t.ID, since)
	if err != nil {
		return nil, subject, err
	}

	rules, err := o.Engine.Assess(subject, history)
	return rules, subject, err
}

// historyWindow is the widest lookback any rule needs.
func historyWindow(th risk.Thresholds) time.Duration {
	window := th.SpikeRecentWindow + th.SpikeBaselineWindow
	for _, w := range []time.Duration{th.RapidWindow, th.LocationWindow, th.SmurfingWindow} {
		if w > window {
			window = w
		}
	}
	return window
}

// block parks t for review and records the reasoning on its risk flag.
func (o *Orchestrator) block(ctx context.Context, t *models.Transaction, reasoning string) error {
	flag := &models.RiskFlag{
		ID:            utils.GenerateID("flg"),
		TransactionID: t.ID,
		Reasoning:     reasoning,
		CreatedAt:     o.now(),
	}

	err := o.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		if err := uow.UpdateTransactionStatus(ctx, t.ID, models.StatusProcessingRisk, models.StatusBlocked); err != nil {
			return err
		}
		existing, err := uow.GetRiskFlagByTransaction(ctx, t.ID)
		switch {
		case err == nil:
			flag = existing
			flag.Reasoning = reasoning
			return uow.UpdateRiskFlagReasoning(ctx, existing.ID, reasoning)
		case errors.Is(err, models.ErrResourceNotFound):
			return uow.CreateRiskFlag(ctx, flag)
		default:
			return err
		}
	})
	if err != nil {
		return err
	}

	t.Status = models.StatusBlocked
	t.UpdatedAt = o.now()
	o.announce(ctx, t, models.StatusProcessingRisk, "Transaction held for manual review: "+reasoning)

	if err := o.Events.Publish(ctx, events.RiskFlagCreated, events.RiskFlagCreatedEvent{
		FlagID:        flag.ID,
		TransactionID: t.ID,
		Reasoning:     reasoning,
	}); err != nil {
		o.log.WithError(err).Warn("failed to publish risk flag event")
	}
	if o.Notifier != nil {
		if err := o.Notifier.RiskFlagCreated(flag, t); err != nil {
			o.log.WithError(err).WithField("transactionId", t.ID).Warn("reviewer notification failed")
		}
	}
	return nil
}

// verify asks the downstream verifier, retrying unavailability with a linear
// backoff.
func (o *Orchestrator) verify(ctx context.Context, transactionID string) (*verify.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.VerifyAttempts; attempt++ {
		res, err := o.Verifier.Verify(ctx, transactionID)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, models.ErrDownstreamUnavailable) || attempt == o.cfg.VerifyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.VerifyBackoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("verification of %s failed after %d attempts: %w", transactionID, o.cfg.VerifyAttempts, lastErr)
}
