package client

import (
	"context"

	"github.com/pixperk/zkmutex/pkg/lock"
)

type Lock struct {
	mutex *lock.Mutex
	token uint64
}

func (l *Lock) Root() string { return l.mutex.Root() }

// Token is the fencing token of this acquisition.
func (l *Lock) Token() uint64 {
	return l.token
}

func (l *Lock) Node() string { return l.mutex.Node() }

func (l *Lock) Held() bool { return l.mutex.Held() }

func (l *Lock) Release(ctx context.Context) error {
	return l.mutex.Release(ctx)
}
