package repository

import (
	"context"

	"github.com/eaglebank/transaction-core/internal/models"
	rediscache "github.com/eaglebank/transaction-core/internal/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ReadModel serves transaction views and confirmations from Redis, falling
// back to the store on a miss.
type ReadModel struct {
	store         Reader
	views         *rediscache.ViewCache[models.TransactionView]
	confirmations *rediscache.ViewCache[models.Confirmation]
}

func NewReadModel(store Reader, client *goredis.Client, log *logrus.Entry) *ReadModel {
	return &ReadModel{
		store:         store,
		views:         rediscache.NewViewCache[models.TransactionView](client, 0, log),
		confirmations: rediscache.NewViewCache[models.Confirmation](client, 0, log),
	}
}

// Project refreshes both cached projections of t.
func (r *ReadModel) Project(ctx context.Context, t *models.Transaction, message string) {
	r.views.Set(ctx, models.TransactionViewKey(t.ID), t.ToView())
	r.confirmations.Set(ctx, models.ConfirmationKey(t.ID), models.NewConfirmation(t, message))
}

func (r *ReadModel) GetTransaction(ctx context.Context, id string) (*models.TransactionView, error) {
	if view, ok := r.views.Get(ctx, models.TransactionViewKey(id)); ok {
		return view, nil
	}
	t, err := r.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	view := t.ToView()
	r.views.Set(ctx, models.TransactionViewKey(id), view)
	return view, nil
}

func (r *ReadModel) GetConfirmation(ctx context.Context, id string) (*models.Confirmation, error) {
	if c, ok := r.confirmations.Get(ctx, models.ConfirmationKey(id)); ok {
		return c, nil
	}
	t, err := r.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	message := ""
	if t.Status == models.StatusBlocked {
		if flag, err := r.store.GetRiskFlagByTransaction(ctx, id); err == nil {
			message = "Transaction held for manual review: " + flag.Reasoning
		}
	}
	c := models.NewConfirmation(t, message)
	r.confirmations.Set(ctx, models.ConfirmationKey(id), c)
	return c, nil
}
