package lock

import (
	"context"
	"time"

	rediscache "github.com/eaglebank/transaction-core/internal/redis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Lease records the locks a request handler took for one transaction so a
// worker or the free path can release exactly those.
type Lease struct {
	TransactionID string  `json:"transactionId"`
	Locks         []*Lock `json:"locks"`
}

// Add appends l, replacing an earlier lock on the same key.
func (l *Lease) Add(lk *Lock) {
	for i, existing := range l.Locks {
		if existing.Key == lk.Key {
			l.Locks[i] = lk
			return
		}
	}
	l.Locks = append(l.Locks, lk)
}

type Leases struct {
	cache *rediscache.ViewCache[Lease]
}

func NewLeases(client *redis.Client, ttl time.Duration, log *logrus.Entry) *Leases {
	return &Leases{cache: rediscache.NewViewCache[Lease](client, ttl, log)}
}

func leaseKey(transactionID string) string { return "lease:" + transactionID }

func (s *Leases) Save(ctx context.Context, lease *Lease) error {
	return s.cache.Put(ctx, leaseKey(lease.TransactionID), lease)
}

// Load returns the stored lease, or an empty one when it has expired.
func (s *Leases) Load(ctx context.Context, transactionID string) *Lease {
	if lease, ok := s.cache.Get(ctx, leaseKey(transactionID)); ok {
		return lease
	}
	return &Lease{TransactionID: transactionID}
}

func (s *Leases) Delete(ctx context.Context, transactionID string) {
	s.cache.Delete(ctx, leaseKey(transactionID))
}
