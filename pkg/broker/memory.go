package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryBroker is an in-process Broker for tests. Each named queue is
// backed by a buffered channel; Consume drains it onto the returned
// channel respecting ctx cancellation. Prefetch is accepted for
// interface compatibility but has no effect beyond single-consumer
// ordering, which MemoryBroker already provides.
type MemoryBroker struct {
	mu      sync.Mutex
	queues  map[string]chan Delivery
	seq     atomic.Uint64
	closed  bool
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]chan Delivery)}
}

func (b *MemoryBroker) queue(name string) chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan Delivery, 256)
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) DeclareQueue(ctx context.Context, name string) error {
	b.queue(name)
	return nil
}

func (b *MemoryBroker) DeclareReplyQueue(ctx context.Context) (string, error) {
	name := fmt.Sprintf("reply.%d", b.seq.Add(1))
	b.queue(name)
	return name, nil
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte, replyTo, correlationID string) error {
	q := b.queue(queue)
	delivery := Delivery{
		Body:          body,
		ReplyTo:       replyTo,
		CorrelationID: correlationID,
		ack:           func() error { return nil },
		nack:          func(bool) error { return nil },
	}
	select {
	case q <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	q := b.queue(queue)
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-q:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
