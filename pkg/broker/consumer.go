package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// ConsumerState is the state of the poll loop of a consumer
type ConsumerState int32

// Consumer claims messages from a queue and its delayed queue. Next must
// not be called concurrently, but messages it returns can be settled from
// any goroutine.
type Consumer struct {
	broker   *Broker
	queue    string
	prefetch int
	timeout  time.Duration
	state    atomic.Int32

	// Poll loop
	mu       sync.Mutex
	listener pg.Listener
	backlog  [][]byte

	// Claimed but not settled messages, each holding a prefetch slot
	slots     chan struct{}
	unsettled sync.Map
}

// MessageProxy is a message claimed by a consumer
type MessageProxy struct {
	*schema.Message

	// Row id and the time the message was claimed
	Id    uint64    `json:"id"`
	Mtime time.Time `json:"mtime"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	StateUninitialized ConsumerState = iota
	StateListening
	StateDraining
	StateWaiting
	StateClosed
)

const (
	// Time to wait for notifications which arrive together, and the most
	// collected before claiming
	notifyGrace = 5 * time.Millisecond
	notifyBatch = 100

	// Time allowed to close a listener
	closeTimeout = 5 * time.Second
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Consume returns a consumer for a queue and its delayed queue. Next returns
// nil when no message arrives within the timeout. A prefetch greater than
// zero limits the number of claimed messages not yet settled.
func (broker *Broker) Consume(queue string, prefetch int, timeout time.Duration) (*Consumer, error) {
	if err := schema.ValidateQueueName(broker.ns, queue); err != nil {
		return nil, errors.Join(ErrInvalidQueue, err)
	}
	if prefetch < 0 {
		return nil, pg.ErrBadParameter.Withf("prefetch %d", prefetch)
	}
	if timeout <= 0 {
		return nil, pg.ErrBadParameter.Withf("timeout %v", timeout)
	}

	self := &Consumer{
		broker:   broker,
		queue:    queue,
		prefetch: prefetch,
		timeout:  timeout,
	}
	if prefetch > 0 {
		self.slots = make(chan struct{}, prefetch)
	}

	return self, nil
}

// Close stops listening, returns the connection to the pool and drops the
// local backlog. Claimed messages can still be settled.
func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ConsumerState(c.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	c.backlog = nil
	if c.listener == nil {
		return nil
	}

	err := c.listener.Close(ctx)
	c.listener = nil
	return err
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (s ConsumerState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateListening:
		return "LISTENING"
	case StateDraining:
		return "DRAINING"
	case StateWaiting:
		return "WAITING"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("ConsumerState(%d)", int32(s))
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Queue returns the canonical queue name
func (c *Consumer) Queue() string {
	return c.queue
}

// State returns the state of the poll loop
func (c *Consumer) State() ConsumerState {
	return ConsumerState(c.state.Load())
}

// Next claims the next message. The first call subscribes to the queue
// channels and loads the queued messages. Returns nil with no error when no
// message could be claimed before the timeout. Connection errors are
// returned, and the caller should close the consumer and create another.
func (c *Consumer) Next(ctx context.Context) (*MessageProxy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return nil, ErrClosed
	}

	// The timeout covers subscribing, waiting for a slot and waiting for
	// notifications
	parent := ctx
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	if c.State() == StateUninitialized {
		if err := c.listen(ctx); err != nil {
			return nil, err
		}
	}

	// Wait for a prefetch slot
	if c.slots != nil {
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			return c.expired(parent)
		}
	}

	proxy, err := c.next(parent, ctx)
	if proxy == nil && c.slots != nil {
		<-c.slots
	}
	return proxy, err
}

// Ack marks a claimed message as done and notifies result waiters. It
// succeeds when the message is no longer in the consumed state.
func (c *Consumer) Ack(ctx context.Context, message *MessageProxy) error {
	return c.settle(ctx, message, schema.StateDone)
}

// Nack marks a message as rejected and notifies result waiters
func (c *Consumer) Nack(ctx context.Context, message *MessageProxy) error {
	return c.settle(ctx, message, schema.StateRejected)
}

// Requeue returns claimed messages to the queued state, and returns the
// number of rows changed. No notifications are sent, so the messages are
// picked up when a consumer next loads its backlog.
func (c *Consumer) Requeue(ctx context.Context, messages ...*MessageProxy) (uint64, error) {
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		if message != nil {
			ids = append(ids, message.MessageId)
		}
	}
	count, err := c.broker.Requeue(ctx, ids...)
	for _, id := range ids {
		c.release(id)
	}
	return count, err
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// listen subscribes to both queues, then loads the backlog so that no
// message enqueued in between is missed
func (c *Consumer) listen(ctx context.Context) error {
	delayed := schema.DelayedQueueName(c.queue)
	listener := c.broker.conn.Listener()
	if err := listener.Listen(ctx,
		schema.Channel(c.broker.ns, c.queue, schema.ChannelEnqueue),
		schema.Channel(c.broker.ns, delayed, schema.ChannelEnqueue),
	); err != nil {
		return errors.Join(err, c.closeListener(listener))
	}

	var backlog schema.Backlog
	if err := c.broker.conn.List(ctx, &backlog, schema.BacklogRequest{c.queue, delayed}); err != nil {
		return errors.Join(err, c.closeListener(listener))
	}

	c.listener = listener
	c.backlog = append(c.backlog, backlog...)
	c.state.Store(int32(StateListening))

	return nil
}

// next drains the backlog, and waits for notifications when it is empty
func (c *Consumer) next(parent, ctx context.Context) (*MessageProxy, error) {
	for {
		c.state.Store(int32(StateDraining))
		for len(c.backlog) > 0 {
			data := c.backlog[0]
			c.backlog = c.backlog[1:]

			message, err := schema.DecodeMessage(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
			}
			proxy, err := c.claim(ctx, message)
			switch {
			case err == nil:
				return proxy, nil
			case errors.Is(err, pg.ErrNotFound):
				c.broker.metrics.lost.WithLabelValues(c.queue).Inc()
				c.broker.log.With("queue", message.QueueName, "message_id", message.MessageId).Debug(ctx, "claim lost")
			default:
				// Keep the message for the next call
				c.backlog = append([][]byte{data}, c.backlog...)
				if ctx.Err() != nil {
					return c.expired(parent)
				}
				return nil, err
			}
		}

		// Wait for a notification
		c.state.Store(int32(StateWaiting))
		notification, err := c.listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.expired(parent)
			}
			return nil, err
		}
		c.backlog = append(c.backlog, notification.Payload)

		// Collect notifications which arrived together
		if err := c.drain(ctx); err != nil {
			return nil, err
		}
	}
}

// drain appends buffered notifications to the backlog. It returns when no
// notification arrives within the grace period, after a batch, or when the
// timeout of the call is reached.
func (c *Consumer) drain(ctx context.Context) error {
	for i := 0; i < notifyBatch && ctx.Err() == nil; i++ {
		graceCtx, cancel := context.WithTimeout(ctx, notifyGrace)
		notification, err := c.listener.WaitForNotification(graceCtx)
		expired := graceCtx.Err() != nil
		cancel()
		switch {
		case err == nil:
			c.backlog = append(c.backlog, notification.Payload)
		case expired:
			return nil
		default:
			return err
		}
	}
	return nil
}

// expired is called when the timeout is reached. The parent context error
// is returned if it is done, otherwise settled messages are purged with a
// small probability.
func (c *Consumer) expired(parent context.Context) (*MessageProxy, error) {
	if err := parent.Err(); err != nil {
		return nil, err
	}
	if p := c.broker.probability; p > 0 && rand.Float64() < p {
		if n, err := c.broker.Purge(parent, c.broker.retention); err != nil {
			c.broker.log.Print(parent, "purge error: ", err)
		} else {
			c.broker.log.With("count", n).Debug(parent, "purged settled messages")
		}
	}
	return nil, nil
}

func (c *Consumer) claim(ctx context.Context, message *schema.Message) (*MessageProxy, error) {
	ctx, endspan := c.broker.startSpan(ctx, "claim",
		attribute.String("queue", c.queue),
		attribute.String("message_id", message.MessageId),
	)

	var record schema.Record
	err := c.broker.conn.Update(ctx, &record, schema.MessageId(message.MessageId), nil)
	endspan(err)
	if err != nil {
		return nil, err
	}

	// The row id text is the canonical form of the id. A message claimed
	// again while still held keeps its existing slot.
	record.Message.MessageId = record.MessageId
	if _, held := c.unsettled.LoadOrStore(record.MessageId, struct{}{}); held && c.slots != nil {
		<-c.slots
	}
	c.broker.metrics.claimed.WithLabelValues(c.queue).Inc()
	return &MessageProxy{
		Message: &record.Message,
		Id:      record.Id,
		Mtime:   record.Mtime,
	}, nil
}

func (c *Consumer) settle(ctx context.Context, message *MessageProxy, state schema.State) error {
	if message == nil || message.Message == nil {
		return pg.ErrBadParameter.With("message is nil")
	}
	defer c.release(message.MessageId)

	ctx, endspan := c.broker.startSpan(ctx, string(state),
		attribute.String("queue", message.QueueName),
		attribute.String("message_id", message.MessageId),
	)

	var count schema.Count
	err := c.broker.conn.Update(ctx, &count, schema.MessageSettle{Message: message.Message, State: state}, nil)
	endspan(err)
	if err != nil {
		return err
	}
	c.broker.metrics.settled.WithLabelValues(schema.CanonicalQueueName(message.QueueName), string(state)).Inc()
	return nil
}

// release frees the prefetch slot held by a claimed message
func (c *Consumer) release(id string) {
	if id, err := schema.NormalizeMessageId(id); err == nil {
		if _, ok := c.unsettled.LoadAndDelete(id); ok && c.slots != nil {
			<-c.slots
		}
	}
}

func (c *Consumer) closeListener(listener pg.Listener) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return listener.Close(ctx)
}
