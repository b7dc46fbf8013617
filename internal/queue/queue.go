// Package queue provides the bounded hand-off buffer between the fetch
// loop and the enrichment pipeline. A full queue blocks the producer,
// so a slow consumer throttles fetching instead of growing memory.
package queue

import (
	"context"

	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/observability"
)

// Queue is a bounded FIFO of raw posts, safe for one producer group and
// one consumer group.
type Queue struct {
	ch      chan domain.RawPost
	metrics *observability.Metrics
}

// New creates a queue with the given capacity.
func New(capacity int, metrics *observability.Metrics) *Queue {
	return &Queue{
		ch:      make(chan domain.RawPost, capacity),
		metrics: metrics,
	}
}

// Put enqueues a post, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, post domain.RawPost) error {
	select {
	case q.ch <- post:
		q.metrics.PostsEnqueued.Inc()
		q.metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next post, blocking while the queue is empty.
func (q *Queue) Get(ctx context.Context) (domain.RawPost, error) {
	select {
	case post := <-q.ch:
		q.metrics.QueueDepth.Set(float64(len(q.ch)))
		return post, nil
	case <-ctx.Done():
		return domain.RawPost{}, ctx.Err()
	}
}

// Len reports the number of posts currently buffered.
func (q *Queue) Len() int { return len(q.ch) }
