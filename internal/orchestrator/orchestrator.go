package orchestrator

import (
	"context"
	"time"

	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/eaglebank/transaction-core/internal/dispatch"
	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/eaglebank/transaction-core/internal/risk"
	"github.com/eaglebank/transaction-core/internal/verify"
	"github.com/sirupsen/logrus"
)

// Locker is the lock manager surface the orchestrator needs.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lock, error)
	AcquireAll(ctx context.Context, keys []string, ttl time.Duration) ([]*lock.Lock, error)
	Release(ctx context.Context, l *lock.Lock) (bool, error)
	Takeover(ctx context.Context, l *lock.Lock, ttl time.Duration) (*lock.Lock, error)
	Extend(ctx context.Context, l *lock.Lock, ttl time.Duration) (bool, error)
	Held(ctx context.Context, key string) (bool, error)
	PollInterval() time.Duration
	Timeout() time.Duration
}

type LeaseStore interface {
	Save(ctx context.Context, lease *lock.Lease) error
	Load(ctx context.Context, transactionID string) *lock.Lease
	Delete(ctx context.Context, transactionID string)
}

type Verifier interface {
	Verify(ctx context.Context, transactionID string) (*verify.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// Projector refreshes the read-side projections of a transaction.
type Projector interface {
	Project(ctx context.Context, t *models.Transaction, message string)
}

type FlowRecorder interface {
	RecordTransfer(ctx context.Context, t *models.Transaction) error
}

type Notifier interface {
	RiskFlagCreated(flag *models.RiskFlag, t *models.Transaction) error
}

type Config struct {
	LockTTL        time.Duration
	VerifyAttempts int
	VerifyBackoff  time.Duration
	AcceptPolicy   string
}

// Deps groups collaborators. Flows and Notifier are optional.
type Deps struct {
	Store     repository.Store
	Engine    *risk.Engine
	Locks     Locker
	Leases    LeaseStore
	Verifier  Verifier
	Tasks     dispatch.Enqueuer
	Events    Publisher
	Projector Projector
	Flows     FlowRecorder
	Notifier  Notifier
}

// Orchestrator drives transactions through screening, verification and
// settlement.
type Orchestrator struct {
	Deps
	cfg Config
	log *logrus.Entry
	now func() time.Time
}

func New(deps Deps, cfg Config, log *logrus.Entry) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = 1
	}
	if cfg.AcceptPolicy == "" {
		cfg.AcceptPolicy = config.AcceptSettle
	}
	return &Orchestrator{
		Deps: deps,
		cfg:  cfg,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Register wires the task handlers onto w.
func (o *Orchestrator) Register(w *dispatch.Worker) {
	w.Handle(dispatch.TaskProcessRiskCheck, o.transactionTask(o.ScreenRisk))
	w.Handle(dispatch.TaskProcessAtmOperation, o.transactionTask(o.ProcessAtmOperation))
	w.Handle(dispatch.TaskAssignAtm, o.transactionTask(o.AssignAtm))
	w.OnDeadLetter(func(ctx context.Context, task dispatch.Task, reason string) {
		var p dispatch.TransactionPayload
		if err := task.Decode(&p); err != nil || p.TransactionID == "" {
			return
		}
		if err := o.FailTransaction(ctx, p.TransactionID, "processing abandoned: "+reason); err != nil {
			o.log.WithError(err).WithField("transactionId", p.TransactionID).Error("failed to fail dead-lettered transaction")
		}
	})
}

func (o *Orchestrator) transactionTask(fn func(ctx context.Context, id string) error) dispatch.HandlerFunc {
	return func(ctx context.Context, task dispatch.Task) error {
		var p dispatch.TransactionPayload
		if err := task.Decode(&p); err != nil {
			return err
		}
		return fn(ctx, p.TransactionID)
	}
}
