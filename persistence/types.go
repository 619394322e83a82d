package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/tcriess/lightspeed-meeting/types"
)

var ErrLocked = errors.New("notification store is locked by another process")

// Notifier receives the notifications produced by peer events. The live
// session does not depend on it: a failing Notifier is logged, the
// broadcast already happened.
type Notifier interface {
	Notify(ctx context.Context, notification *types.Notification) error
	Close() error
}

// Pruner is implemented by notifiers which keep notifications and can drop
// old ones.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}
