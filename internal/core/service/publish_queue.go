package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

var (
	ErrPublishQueueFull   = errors.New("publish queue full")
	ErrPublishQueueClosed = errors.New("publish queue closed")
)

// PublishQueue decouples commits from the event stream. Events for one SKU
// always land on the same shard, so a single worker per shard keeps each
// SKU's events in commit order.
type PublishQueue struct {
	mu     sync.RWMutex
	closed bool
	shards []chan domain.LedgerEvent
}

func NewPublishQueue(shards, size int) *PublishQueue {
	if shards <= 0 {
		shards = 1
	}
	if size <= 0 {
		size = 1
	}
	q := &PublishQueue{shards: make([]chan domain.LedgerEvent, shards)}
	for i := range q.shards {
		q.shards[i] = make(chan domain.LedgerEvent, size)
	}
	return q
}

// Publish enqueues without blocking the committing request.
func (q *PublishQueue) Publish(_ context.Context, ev domain.LedgerEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrPublishQueueClosed
	}

	select {
	case q.shards[q.shardFor(ev.SKU)] <- ev:
		return nil
	default:
		return ErrPublishQueueFull
	}
}

func (q *PublishQueue) shardFor(sku string) int {
	h := fnv.New32a()
	h.Write([]byte(sku))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Queues returns one receive channel per shard. Each is closed by Close.
func (q *PublishQueue) Queues() []<-chan domain.LedgerEvent {
	out := make([]<-chan domain.LedgerEvent, len(q.shards))
	for i, ch := range q.shards {
		out[i] = ch
	}
	return out
}

func (q *PublishQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	return nil
}
