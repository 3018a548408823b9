package queue

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker hands out Queue handles over one shared Redis client and offers
// name-addressed enqueue for the dispatch side.
type Broker struct {
	client *redis.Client

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewBroker creates a broker over an existing client.
func NewBroker(client *redis.Client) *Broker {
	return &Broker{client: client, queues: make(map[string]*Queue)}
}

// Get returns the handle for a named queue, creating it on first use.
func (b *Broker) Get(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = New(name, b.client)
		b.queues[name] = q
	}
	return q
}

// Enqueue adds a job to a named queue.
func (b *Broker) Enqueue(ctx context.Context, queueName, jobID string, payload any, opts Options) error {
	return b.Get(queueName).Enqueue(ctx, jobID, payload, opts)
}
