package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrLockTimeout is returned when Acquire exhausts its retry budget.
	ErrLockTimeout = fmt.Errorf("lock acquisition timed out: %w", models.ErrResourceBusy)
	// ErrLockHeld is returned by TryAcquire when another holder owns the key.
	ErrLockHeld = fmt.Errorf("lock held by another owner: %w", models.ErrResourceBusy)
)

// Release only deletes the key when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Takeover hands a lock to a new owner only while the old token still holds
// it, so at most one caller can claim a handed-off lock.
var takeoverScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

func AccountKey(accountID string) string { return "lock:account:" + accountID }
func AtmKey(deviceID string) string      { return "lock:atm:" + deviceID }

// Lock is a held resource lock. Token proves ownership on release.
type Lock struct {
	Key   string `json:"key"`
	Token string `json:"token"`
}

type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

type Manager struct {
	client       *redis.Client
	pollInterval time.Duration
	timeout      time.Duration
	log          *logrus.Entry
}

func NewManager(client *redis.Client, cfg Config, log *logrus.Entry) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Manager{
		client:       client,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		log:          log,
	}
}

// PollInterval is the retry cadence used by Acquire.
func (m *Manager) PollInterval() time.Duration { return m.pollInterval }

// Timeout bounds how long Acquire keeps retrying.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// TryAcquire makes a single SET NX attempt.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	m.log.WithField("key", key).Debug("lock acquired")
	return &Lock{Key: key, Token: token}, nil
}

// Acquire retries TryAcquire every poll interval until the manager timeout
// elapses or ctx is cancelled.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	deadline := time.Now().Add(m.timeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		l, err := m.TryAcquire(ctx, key, ttl)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if !time.Now().Add(m.pollInterval).Before(deadline) {
			m.log.WithField("key", key).Warn("lock acquisition timed out")
			return nil, fmt.Errorf("%s: %w", key, ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AcquireAll takes every key in sorted order so that two callers contending
// for the same set cannot deadlock. Partially acquired locks are released on
// failure.
func (m *Manager) AcquireAll(ctx context.Context, keys []string, ttl time.Duration) ([]*Lock, error) {
	sorted := dedupe(keys)
	sort.Strings(sorted)

	held := make([]*Lock, 0, len(sorted))
	for _, key := range sorted {
		l, err := m.Acquire(ctx, key, ttl)
		if err != nil {
			m.ReleaseAll(context.WithoutCancel(ctx), held)
			return nil, err
		}
		held = append(held, l)
	}
	return held, nil
}

// Release deletes the key if l still owns it. A lost or expired lock is
// reported as released=false without error.
func (m *Manager) Release(ctx context.Context, l *Lock) (bool, error) {
	if l == nil {
		return false, nil
	}
	n, err := releaseScript.Run(ctx, m.client, []string{l.Key}, l.Token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release %s: %w", l.Key, err)
	}
	if n == 0 {
		m.log.WithField("key", l.Key).Info("lock already expired or taken over")
		return false, nil
	}
	return true, nil
}

// ReleaseAll releases every lock, logging failures.
func (m *Manager) ReleaseAll(ctx context.Context, locks []*Lock) {
	for i := len(locks) - 1; i >= 0; i-- {
		if _, err := m.Release(ctx, locks[i]); err != nil {
			m.log.WithError(err).Error("release failed")
		}
	}
}

// Extend resets the TTL of an owned lock. It returns false when the lock is
// no longer owned.
func (m *Manager) Extend(ctx context.Context, l *Lock, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.client, []string{l.Key}, l.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend %s: %w", l.Key, err)
	}
	return n == 1, nil
}

// Takeover swaps l's token for a fresh one and resets the TTL. It returns
// ErrLockHeld when l's token no longer owns the key, either because it
// expired or because another caller took it over first.
func (m *Manager) Takeover(ctx context.Context, l *Lock, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	n, err := takeoverScript.Run(ctx, m.client, []string{l.Key}, l.Token, token, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to take over %s: %w", l.Key, err)
	}
	if n == 0 {
		return nil, ErrLockHeld
	}
	m.log.WithField("key", l.Key).Debug("lock taken over")
	return &Lock{Key: l.Key, Token: token}, nil
}

// Held reports whether anyone currently owns key.
func (m *Manager) Held(ctx context.Context, key string) (bool, error) {
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n == 1, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Resource kinds encoded in lock keys
const (
	KindAccount = "account"
	KindAtm     = "atm"
)

// ParseKey splits a lock key into its resource kind and id.
func ParseKey(key string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(key, "lock:account:"):
		return KindAccount, strings.TrimPrefix(key, "lock:account:"), true
	case strings.HasPrefix(key, "lock:atm:"):
		return KindAtm, strings.TrimPrefix(key, "lock:atm:"), true
	default:
		return "", "", false
	}
}
