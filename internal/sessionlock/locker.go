package sessionlock

import (
	"context"
	"errors"
	"time"
)

// ErrLockTimeout means another mutation held the session for longer than
// the configured wait.
var ErrLockTimeout = errors.New("session_lock_timeout")

// Locker serializes cart and checkout mutations of one session.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

type locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Chain acquires the in-process lock first and then, when configured, the
// distributed one, so concurrent requests in one replica queue locally
// instead of polling redis.
type Chain struct {
	local  *Local
	remote locker
	wait   func() time.Duration
}

func NewChain(local *Local, remote *Redis, wait func() time.Duration) *Chain {
	c := &Chain{local: local, wait: wait}
	if remote != nil {
		c.remote = remote
	}
	return c
}

func (c *Chain) Lock(ctx context.Context, sessionID string) (func(), error) {
	lockCtx := ctx
	if c.wait != nil {
		if wait := c.wait(); wait > 0 {
			var cancel context.CancelFunc
			lockCtx, cancel = context.WithTimeout(ctx, wait)
			defer cancel()
		}
	}

	unlockLocal, err := c.local.Lock(lockCtx, sessionID)
	if err != nil {
		return nil, lockErr(ctx, err)
	}
	if c.remote == nil {
		return unlockLocal, nil
	}

	unlockRemote, err := c.remote.Lock(lockCtx, sessionID)
	if err != nil {
		unlockLocal()
		return nil, lockErr(ctx, err)
	}
	return func() {
		unlockRemote()
		unlockLocal()
	}, nil
}

// lockErr reports a wait timeout as ErrLockTimeout while keeping caller
// cancellation visible as such.
func lockErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	return err
}
