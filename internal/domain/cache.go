package domain

import (
	"context"
	"time"
)

// BookCache stores the latest normalized snapshot per token so the scanner can
// reuse last-known books and the monitor can warm-start.
type BookCache interface {
	SetBook(ctx context.Context, book OrderBook) error
	GetBook(ctx context.Context, tokenID string) (OrderBook, error)
}

// SignalBus is a lightweight pub/sub fabric for core events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager serializes wallet-affecting actions across goroutines and, in
// the Redis implementation, across processes. Acquire returns ErrLockHeld when
// the lock is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
