package repository

import (
	"context"

	"github.com/eaglebank/transaction-core/internal/lock"
)

// SetMirror writes status onto the account or ATM a lock key guards. Only the
// holder of that key may call it. Keys of unknown kind are ignored.
func SetMirror(ctx context.Context, r Reader, key, status string) error {
	kind, id, ok := lock.ParseKey(key)
	if !ok {
		return nil
	}
	switch kind {
	case lock.KindAccount:
		return r.SetAccountStatus(ctx, id, status)
	case lock.KindAtm:
		return r.SetAtmStatus(ctx, id, status)
	}
	return nil
}
