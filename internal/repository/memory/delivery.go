package memory

import (
	"context"
	"sync"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/delivery"
)

// DeliveryLog implements delivery.Log.
type DeliveryLog struct {
	mu      sync.Mutex
	entries map[string]domain.DeliveryLogEntry
}

// NewDeliveryLog returns an empty log.
func NewDeliveryLog() *DeliveryLog {
	return &DeliveryLog{entries: make(map[string]domain.DeliveryLogEntry)}
}

func (l *DeliveryLog) FindByIdempotencyKey(_ context.Context, key string) (*domain.DeliveryLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &e, nil
}

func (l *DeliveryLog) Create(_ context.Context, entry *domain.DeliveryLogEntry) (*domain.DeliveryLogEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[entry.IdempotencyKey]; ok {
		return &e, false, nil
	}
	l.entries[entry.IdempotencyKey] = *entry
	out := *entry
	return &out, true, nil
}

// Len reports how many entries exist.
func (l *DeliveryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
