package distlock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Factory for single-process deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal returns an empty in-process lock table.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// New implements Factory. ttl is ignored: locks live until released.
func (f *Local) New(key string, _ time.Duration) DistLock {
	return &localLock{table: f, key: key}
}

type localLock struct {
	table *Local
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.held[l.key] {
		return false, nil
	}
	l.table.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	if !l.owned {
		return nil
	}
	l.table.mu.Lock()
	delete(l.table.held, l.key)
	l.table.mu.Unlock()
	l.owned = false
	return nil
}
