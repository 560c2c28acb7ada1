package usecase

import (
	"context"
	"sync"

	"github.com/semmidev/logship/internal/domain"
)

// WorkQueue is an unbounded FIFO of restore work. Enqueue never blocks;
// Dequeue blocks until an item is available or ctx is done.
type WorkQueue struct {
	mu     sync.Mutex
	items  []domain.QueueItem
	signal chan struct{}
}

func NewWorkQueue() *WorkQueue {
	return &WorkQueue{signal: make(chan struct{}, 1)}
}

func (q *WorkQueue) Enqueue(item domain.QueueItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.notify()
}

func (q *WorkQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *WorkQueue) Dequeue(ctx context.Context) (domain.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = domain.QueueItem{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			// wake another waiter for the remaining items
			if more {
				q.notify()
			}
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.QueueItem{}, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
