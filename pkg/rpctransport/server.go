package rpctransport

import (
	"context"

	"github.com/dittomount/dms/internal/telemetry"
	"github.com/dittomount/dms/pkg/broker"
)

// Handler processes one request body and returns the reply body to
// publish back to the caller.
type Handler func(ctx context.Context, body []byte) []byte

// Listener serves RPCs for a single node id from its durable inbound
// queue, processing one message at a time (prefetch=1), matching
// spec.md §4.3's backpressure-by-design contract.
type Listener struct {
	b      broker.Broker
	nodeID string
}

// NewListener returns a Listener bound to nodeID's inbound queue.
func NewListener(b broker.Broker, nodeID string) *Listener {
	return &Listener{b: b, nodeID: nodeID}
}

// Serve declares the inbound queue and processes deliveries until ctx
// is canceled. Acknowledgement happens only after the reply has been
// published, so a crash mid-handler causes broker redelivery; handler
// must be idempotent.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	queue := InboundQueueName(l.nodeID)
	if err := l.b.DeclareQueue(ctx, queue); err != nil {
		return err
	}

	deliveries, err := l.b.Consume(ctx, queue, 1)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			l.handle(ctx, d, handler)
		}
	}
}

func (l *Listener) handle(ctx context.Context, d broker.Delivery, handler Handler) {
	ctx, span := telemetry.StartRPCSpan(ctx, telemetry.SpanRPCHandle, InboundQueueName(l.nodeID), d.CorrelationID)
	defer span.End()

	reply := handler(ctx, d.Body)

	if d.ReplyTo != "" {
		if err := l.b.Publish(ctx, d.ReplyTo, reply, "", d.CorrelationID); err != nil {
			d.Nack(true)
			return
		}
	}
	d.Ack()
}
