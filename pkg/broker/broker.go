package broker

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	pg "github.com/mutablelogic/go-pgbroker"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	sql "github.com/mutablelogic/go-pgbroker/pkg/broker/sql"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Broker enqueues messages to the queue table and creates consumers which
// claim them. It is safe for concurrent use.
type Broker struct {
	opts
	conn    pg.PoolConn
	metrics *metrics
	results *Results

	mu     sync.RWMutex
	queues map[string]struct{}
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a broker, creating the schema, the state type and the queue
// table if they do not exist
func New(ctx context.Context, conn pg.PoolConn, opt ...Opt) (*Broker, error) {
	if conn == nil {
		return nil, pg.ErrBadParameter.With("connection is nil")
	}
	o, err := applyOpts(opt)
	if err != nil {
		return nil, err
	}
	if o.log == nil {
		o.log = logger.New(os.Stderr, logger.Text, false)
	}

	// Parse the statements
	queries, err := pg.NewQueries(strings.NewReader(sql.Queries))
	if err != nil {
		return nil, err
	}
	objects, err := pg.NewQueries(strings.NewReader(sql.Objects))
	if err != nil {
		return nil, err
	}

	self := &Broker{
		opts:    o,
		conn:    conn.WithQueries(queries).With("schema", o.ns).(pg.PoolConn),
		metrics: newMetrics(o.ns),
		queues:  make(map[string]struct{}),
	}
	if o.resultTTL > 0 {
		self.results = &Results{broker: self, ttl: o.resultTTL}
	}

	// Create objects while holding a lock, so brokers starting together
	// do not race on creating the type and table
	if err := self.conn.Tx(ctx, func(conn pg.Conn) error {
		for _, key := range objects.Keys() {
			if err := conn.Exec(ctx, objects.Get(key)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Namespace returns the schema which holds the queue table
func (broker *Broker) Namespace() string {
	return broker.ns
}

// Retention returns how long settled messages are kept
func (broker *Broker) Retention() time.Duration {
	return broker.retention
}

// Conn returns the connection, bound to the broker statements
func (broker *Broker) Conn() pg.PoolConn {
	return broker.conn
}

// Results returns the results backend, or nil if results are not enabled
func (broker *Broker) Results() *Results {
	return broker.results
}

// DeclareQueue records a queue and its delayed queue. Enqueue does not
// require a queue to be declared.
func (broker *Broker) DeclareQueue(queue string) error {
	if err := schema.ValidateQueueName(broker.ns, queue); err != nil {
		return errors.Join(ErrInvalidQueue, err)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	broker.queues[queue] = struct{}{}
	broker.queues[schema.DelayedQueueName(queue)] = struct{}{}
	return nil
}

// Queues returns the declared queues, including delayed queues, sorted by name
func (broker *Broker) Queues() []string {
	broker.mu.RLock()
	defer broker.mu.RUnlock()

	queues := make([]string, 0, len(broker.queues))
	for queue := range broker.queues {
		queues = append(queues, queue)
	}
	slices.Sort(queues)
	return queues
}

// Enqueue stores a message and notifies consumers when the transaction
// commits. A message with an existing id replaces the stored message and
// is queued again. With a delay, the message is stored on the delayed
// queue with its eta set. Returns the stored message.
func (broker *Broker) Enqueue(ctx context.Context, message *schema.Message, delay time.Duration) (*schema.Message, error) {
	message, err := broker.prepare(message, delay)
	if err != nil {
		return nil, err
	}

	ctx, endspan := broker.startSpan(ctx, "enqueue",
		attribute.String("queue", message.QueueName),
		attribute.String("message_id", message.MessageId),
	)

	var record schema.Record
	err = broker.conn.Insert(ctx, &record, schema.MessageEnqueue{Message: message})
	endspan(err)
	if err != nil {
		return nil, err
	}
	broker.metrics.enqueued.WithLabelValues(record.Queue).Inc()

	// Return success
	return &record.Message, nil
}

// EnqueueBatch stores messages in one round trip, within a single implicit
// transaction. Consumers are notified when it commits.
func (broker *Broker) EnqueueBatch(ctx context.Context, messages ...*schema.Message) ([]*schema.Message, error) {
	prepared := make([]*schema.Message, 0, len(messages))
	for _, message := range messages {
		message, err := broker.prepare(message, 0)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, message)
	}
	if len(prepared) == 0 {
		return nil, nil
	}

	ctx, endspan := broker.startSpan(ctx, "enqueue_batch",
		attribute.Int("count", len(prepared)),
	)

	records := make([]schema.Record, len(prepared))
	err := broker.conn.Bulk(ctx, func(conn pg.Conn) error {
		for i, message := range prepared {
			if err := conn.Insert(ctx, &records[i], schema.MessageEnqueue{Message: message}); err != nil {
				return err
			}
		}
		return nil
	})
	endspan(err)
	if err != nil {
		return nil, err
	}

	result := make([]*schema.Message, len(records))
	for i := range records {
		broker.metrics.enqueued.WithLabelValues(records[i].Queue).Inc()
		result[i] = &records[i].Message
	}
	return result, nil
}

// GetMessage returns a message row by id
func (broker *Broker) GetMessage(ctx context.Context, id string) (*schema.Record, error) {
	var record schema.Record
	if err := broker.conn.Get(ctx, &record, schema.MessageId(id)); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListMessages returns message rows, most recent first. The limit in the
// response is the one applied.
func (broker *Broker) ListMessages(ctx context.Context, req schema.MessageListRequest) (*schema.MessageList, error) {
	req.OffsetLimit.Clamp(schema.MessageListLimit)
	list := schema.MessageList{MessageListRequest: req}
	if err := broker.conn.List(ctx, &list, req); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListQueueStats returns the number of messages by queue and state. With a
// queue name, only that queue and its delayed queue are counted.
func (broker *Broker) ListQueueStats(ctx context.Context, queue string) (*schema.QueueStatsList, error) {
	var list schema.QueueStatsList
	if err := broker.conn.List(ctx, &list, schema.QueueStatsRequest{Queue: queue}); err != nil {
		return nil, err
	}
	return &list, nil
}

// Requeue returns messages to the queued state by id, and returns the
// number of rows changed. Consumers pick them up when they next load
// their backlog.
func (broker *Broker) Requeue(ctx context.Context, ids ...string) (uint64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, endspan := broker.startSpan(ctx, "requeue", attribute.Int("count", len(ids)))
	var count schema.Count
	err := broker.conn.Update(ctx, &count, schema.MessageRequeue(ids), nil)
	endspan(err)
	if err != nil {
		return 0, err
	}
	broker.metrics.requeued.Add(float64(count))
	return uint64(count), nil
}

// Purge deletes done and rejected messages which have not changed within
// the retention period, and returns the number deleted. Expired results
// are cleared at the same time.
func (broker *Broker) Purge(ctx context.Context, retention time.Duration) (uint64, error) {
	ctx, endspan := broker.startSpan(ctx, "purge", attribute.String("retention", retention.String()))

	var count schema.Count
	err := broker.conn.Delete(ctx, &count, schema.MessagePurge{Retention: retention})
	if err == nil && broker.results != nil {
		var expired schema.Count
		err = broker.conn.Update(ctx, &expired, schema.ResultPurge{}, nil)
	}
	endspan(err)
	if err != nil {
		return 0, err
	}
	broker.metrics.purged.Add(float64(count))
	return uint64(count), nil
}

// Run purges settled messages periodically until the context is cancelled
func (broker *Broker) Run(ctx context.Context) error {
	if broker.interval == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(broker.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := broker.Purge(ctx, broker.retention); err != nil {
				broker.log.Print(ctx, "purge error: ", err)
			} else if n > 0 {
				broker.log.With("count", n).Debug(ctx, "purged settled messages")
			}
		}
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// prepare returns a copy of the message with an id, timestamp and valid
// queue name, moved to the delayed queue when there is a delay
func (broker *Broker) prepare(message *schema.Message, delay time.Duration) (*schema.Message, error) {
	if message == nil {
		return nil, pg.ErrBadParameter.With("message is nil")
	}
	message = message.Copy()
	if message.MessageId == "" {
		message.MessageId = uuid.NewString()
	} else if id, err := schema.NormalizeMessageId(message.MessageId); err != nil {
		return nil, pg.ErrBadParameter.With(err)
	} else {
		message.MessageId = id
	}
	if message.MessageTimestamp == 0 {
		message.MessageTimestamp = time.Now().UnixMilli()
	}
	if err := schema.ValidateQueueName(broker.ns, schema.CanonicalQueueName(message.QueueName)); err != nil {
		return nil, errors.Join(ErrInvalidQueue, err)
	}
	if delay > 0 {
		message.QueueName = schema.DelayedQueueName(message.QueueName)
		message.Options.SetEta(time.Now().Add(delay))
	}
	return message, nil
}

func (broker *Broker) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if broker.tracer == nil {
		return ctx, func(error) {}
	}
	return otel.StartSpan(broker.tracer, ctx, spanName(broker.ns, op), attrs...)
}

func spanName(ns, op string) string {
	return ns + ".broker." + op
}
