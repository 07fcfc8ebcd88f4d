// Package rpctransport implements the correlated request/reply
// protocol the mount coordinator uses to call the per-node mount
// executor over a message broker.
package rpctransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dittomount/dms/internal/telemetry"
	"github.com/dittomount/dms/pkg/broker"
	"github.com/dittomount/dms/pkg/model"
)

// Client publishes requests to a node's inbound queue and waits for
// the matching reply on its own exclusive reply queue. One Client is
// meant to live for the lifetime of the coordinator process; it owns
// exactly one reply queue, matching spec.md §4.3.
type Client struct {
	b          broker.Broker
	replyQueue string

	mu      sync.Mutex
	pending map[string]chan broker.Delivery

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient declares the client's reply queue and starts the
// background loop that demultiplexes replies by correlation id.
func NewClient(ctx context.Context, b broker.Broker) (*Client, error) {
	replyQueue, err := b.DeclareReplyQueue(ctx)
	if err != nil {
		return nil, err
	}

	deliveries, err := b.Consume(ctx, replyQueue, 0)
	if err != nil {
		return nil, err
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		b:          b,
		replyQueue: replyQueue,
		pending:    make(map[string]chan broker.Delivery),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.dispatchLoop(consumeCtx, deliveries)
	return c, nil
}

func (c *Client) dispatchLoop(ctx context.Context, deliveries <-chan broker.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.mu.Lock()
			slot, found := c.pending[d.CorrelationID]
			if found {
				delete(c.pending, d.CorrelationID)
			}
			c.mu.Unlock()
			if found {
				slot <- d
			}
			d.Ack()
		}
	}
}

// Call publishes body to the node's inbound queue and blocks until a
// correlated reply arrives, ctx is canceled, or timeout elapses.
func (c *Client) Call(ctx context.Context, nodeID string, body []byte, timeout time.Duration) ([]byte, error) {
	queue := InboundQueueName(nodeID)
	correlationID := uuid.NewString()

	ctx, span := telemetry.StartRPCSpan(ctx, telemetry.SpanRPCCall, queue, correlationID)
	defer span.End()

	slot := make(chan broker.Delivery, 1)
	c.mu.Lock()
	c.pending[correlationID] = slot
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	if err := c.b.Publish(ctx, queue, body, c.replyQueue, correlationID); err != nil {
		return nil, &model.TransportError{Op: "call", Queue: queue, Message: "failed to publish request", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-slot:
		return d.Body, nil
	case <-timer.C:
		return nil, &model.TransportError{Op: "call", Queue: queue, Message: fmt.Sprintf("no reply within %s", timeout)}
	case <-ctx.Done():
		return nil, &model.TransportError{Op: "call", Queue: queue, Message: "context canceled", Err: ctx.Err()}
	}
}

// Close stops the reply dispatch loop. It does not close the
// underlying broker, which the owning process manages.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

// InboundQueueName returns the per-node durable queue name a server
// for nodeID listens on.
func InboundQueueName(nodeID string) string {
	return "dms." + nodeID
}
