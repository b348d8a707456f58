package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-core/internal/command"
	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/eaglebank/transaction-core/internal/dispatch"
	"github.com/eaglebank/transaction-core/internal/events"
	"github.com/eaglebank/transaction-core/internal/graph"
	"github.com/eaglebank/transaction-core/internal/lock"
	"github.com/eaglebank/transaction-core/internal/logging"
	"github.com/eaglebank/transaction-core/internal/notify"
	"github.com/eaglebank/transaction-core/internal/orchestrator"
	redisClient "github.com/eaglebank/transaction-core/internal/redis"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/eaglebank/transaction-core/internal/risk"
	"github.com/eaglebank/transaction-core/internal/verify"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Leases outlive the locks so a blocked transaction can still find what it
// reserved when the reviewer decides it.
const leaseTTL = 24 * time.Hour

// app holds the clients and collaborators shared by serve and worker.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	db    *sql.DB
	redis *redisClient.Client
	graph graph.Client

	store     *repository.PostgresStore
	readModel *repository.ReadModel
	locks     *lock.Manager
	leases    *lock.Leases
	tasks     *dispatch.Dispatcher
	events    *events.Publisher
	flows     *graph.FlowRecorder
	orch      *orchestrator.Orchestrator
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging)

	a := &app{cfg: cfg, logger: logger}

	a.db, err = repository.OpenDB(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	a.redis, err = redisClient.NewClient(ctx, cfg.Redis)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.graph, err = graph.NewNeo4jClient(ctx, cfg.Graph)
	switch {
	case errors.Is(err, graph.ErrGraphDisabled):
		logger.Info("fund-flow graph disabled")
	case err != nil:
		a.close(ctx)
		return nil, err
	default:
		a.flows = graph.NewFlowRecorder(a.graph)
	}

	thresholds, err := risk.ThresholdsFromConfig(cfg.Risk)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}

	rdb := a.redis.Client
	a.store = repository.NewPostgresStore(a.db, logging.Component(logger, "repository"))
	a.readModel = repository.NewReadModel(a.store, rdb, logging.Component(logger, "read_model"))
	a.locks = lock.NewManager(rdb, lock.Config{
		PollInterval: cfg.Lock.PollInterval,
		Timeout:      cfg.Lock.Timeout,
	}, logging.Component(logger, "lock"))
	a.leases = lock.NewLeases(rdb, leaseTTL, logging.Component(logger, "lease"))
	a.tasks = dispatch.NewDispatcher(rdb, cfg.Worker.Stream)
	a.events = events.NewPublisher(rdb, events.TransactionEventsStream)

	deps := orchestrator.Deps{
		Store:     a.store,
		Engine:    risk.NewEngine(thresholds),
		Locks:     a.locks,
		Leases:    a.leases,
		Verifier:  verify.NewClient(cfg.Verify.URL, cfg.Verify.Timeout),
		Tasks:     a.tasks,
		Events:    a.events,
		Projector: a.readModel,
	}
	// Optional collaborators stay nil interfaces when disabled.
	if a.flows != nil {
		deps.Flows = a.flows
	}
	if mailer := notify.NewMailer(cfg.SMTP, logging.Component(logger, "notify")); mailer.Enabled() {
		deps.Notifier = mailer
	}

	a.orch = orchestrator.New(deps, orchestrator.Config{
		LockTTL:        cfg.Lock.TTL,
		VerifyAttempts: cfg.Verify.Attempts,
		VerifyBackoff:  cfg.Verify.Backoff,
		AcceptPolicy:   cfg.Review.AcceptPolicy,
	}, logging.Component(logger, "orchestrator"))

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			a.logger.WithError(err).Warn("failed to close graph client")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close database")
		}
	}
}

func (a *app) commandService() (*command.TransactionCommandService, error) {
	ceiling, err := decimal.NewFromString(a.cfg.Risk.AutoApprovalCeiling)
	if err != nil {
		return nil, fmt.Errorf("invalid risk.auto_approval_ceiling: %w", err)
	}
	return command.NewTransactionCommandService(command.Deps{
		Store:     a.store,
		Locks:     a.locks,
		Leases:    a.leases,
		Tasks:     a.tasks,
		Events:    a.events,
		Projector: a.readModel,
		Reviewer:  a.orch,
	}, command.Config{
		LockTTL:             a.cfg.Lock.TTL,
		AutoApprovalCeiling: ceiling,
	}, logging.Component(a.logger, "command")), nil
}
