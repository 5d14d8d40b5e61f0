package mq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/cppla/bbspoints/metrics"
)

// Message is a delivery as seen by handlers.
type Message struct {
	RoutingKey  string
	MessageID   string
	Redelivered bool
	Body        []byte
}

// Handler processes one delivery. A nil error acks it; an error marked with
// Requeue nacks it back onto the queue; any other error rejects it for good.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

type requeueError struct{ err error }

func (e requeueError) Error() string { return "requeue: " + e.err.Error() }
func (e requeueError) Unwrap() error { return e.err }

// Requeue marks err as transient so the delivery goes back to the queue.
func Requeue(err error) error {
	if err == nil {
		return nil
	}
	return requeueError{err: err}
}

// IsRequeue reports whether err was marked with Requeue.
func IsRequeue(err error) bool {
	var re requeueError
	return errors.As(err, &re)
}

// Settlement outcomes.
const (
	OutcomeAck     = "ack"
	OutcomeRequeue = "requeue"
	OutcomeReject  = "reject"
)

// settle runs the handler and acks, requeues or rejects the delivery accordingly.
func settle(ctx context.Context, h Handler, d amqp.Delivery, log *zap.Logger) string {
	msg := Message{
		RoutingKey:  d.RoutingKey,
		MessageID:   d.MessageId,
		Redelivered: d.Redelivered,
		Body:        d.Body,
	}
	err := safeHandle(ctx, h, msg)

	outcome := OutcomeAck
	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case IsRequeue(err):
		outcome = OutcomeRequeue
		log.Warn("delivery requeued", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		ackErr = d.Nack(false, true)
	default:
		outcome = OutcomeReject
		log.Error("delivery rejected without requeue",
			zap.String("routing_key", d.RoutingKey),
			zap.ByteString("body", d.Body),
			zap.Error(err))
		ackErr = d.Reject(false)
	}
	if ackErr != nil {
		log.Warn("settle delivery failed", zap.String("outcome", outcome), zap.Error(ackErr))
	}
	metrics.RecordConsume(d.RoutingKey, outcome)
	return outcome
}

func safeHandle(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, msg)
}

// consume settles deliveries one by one until the channel closes or ctx ends.
// Handlers run on a context detached from ctx so an in-flight message finishes.
// It reports true when the broker closed the deliveries channel.
func consume(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler, log *zap.Logger) bool {
	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			settle(handlerCtx, h, d, log)
		}
	}
}
