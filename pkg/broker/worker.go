package broker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Actor processes a message. The value returned is stored as the result
// when results are enabled. Returning an error retries the message with
// backoff until the retry limit, after which it is rejected.
type Actor func(context.Context, *schema.Message) (any, error)

// Worker runs actors for messages consumed from the queues they are
// registered on
type Worker struct {
	broker *Broker
	opts   workerOpts

	mu     sync.RWMutex
	actors map[string]map[string]*actor
}

type actor struct {
	actorOpts
	fn Actor
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Timeout for each call to Next
	consumeTimeout = 5 * time.Second

	// Delay before a consumer is recreated after an error
	consumeRetry = time.Second

	// Time allowed to settle a message after the worker is cancelled
	settleTimeout = 30 * time.Second
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewWorker returns a worker for a broker
func NewWorker(broker *Broker, opt ...WorkerOpt) (*Worker, error) {
	if broker == nil {
		return nil, ErrClosed
	}
	o, err := applyWorkerOpts(opt)
	if err != nil {
		return nil, err
	}
	return &Worker{
		broker: broker,
		opts:   o,
		actors: make(map[string]map[string]*actor),
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterActor declares the queue and registers an actor by name on it
func (w *Worker) RegisterActor(queue, name string, fn Actor, opt ...ActorOpt) error {
	if fn == nil || name == "" {
		return fmt.Errorf("%w: %q", ErrUnknownActor, name)
	}
	o, err := applyActorOpts(opt)
	if err != nil {
		return err
	}
	if err := w.broker.DeclareQueue(queue); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.actors[queue] == nil {
		w.actors[queue] = make(map[string]*actor)
	}
	w.actors[queue][name] = &actor{actorOpts: o, fn: fn}

	return nil
}

// Run consumes from every queue with a registered actor, and runs actors
// on a fixed number of goroutines, until the context is cancelled. Messages
// claimed but not started when it is cancelled are requeued.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.RLock()
	queues := slices.Sorted(maps.Keys(w.actors))
	w.mu.RUnlock()
	if len(queues) == 0 {
		return fmt.Errorf("%w: no actors registered", ErrUnknownActor)
	}

	// Start the goroutines which run actors
	var workerWg, consumerWg sync.WaitGroup
	work := make(chan func(), w.opts.workers)
	for i := 0; i < w.opts.workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for fn := range work {
				fn()
			}
		}()
	}

	// Start one consumer per queue
	for _, queue := range queues {
		consumerWg.Add(1)
		go func(queue string) {
			defer consumerWg.Done()
			w.consume(ctx, queue, work)
		}(queue)
	}

	// Wait for consumers to stop, then for work in progress
	consumerWg.Wait()
	close(work)
	workerWg.Wait()

	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// consume claims messages and queues them for the workers. Delayed messages
// wait for their eta outside the pool. The consumer is recreated after an
// error.
func (w *Worker) consume(ctx context.Context, queue string, work chan<- func()) {
	log := w.broker.log.With("worker", w.opts.name, "queue", queue)

	var delayed sync.WaitGroup
	defer delayed.Wait()

	for ctx.Err() == nil {
		consumer, err := w.broker.Consume(queue, w.opts.workers, consumeTimeout)
		if err != nil {
			log.Print(ctx, err)
			return
		}

		for ctx.Err() == nil {
			message, err := consumer.Next(ctx)
			if errors.Is(err, ErrInvalidMessage) {
				log.Print(ctx, err)
				continue
			} else if err != nil {
				if ctx.Err() == nil {
					log.Print(ctx, "consumer error: ", err)
				}
				break
			} else if message != nil && schema.IsDelayedQueue(message.QueueName) {
				// A message waiting for its eta does not count against prefetch
				consumer.release(message.MessageId)
				delayed.Add(1)
				go func() {
					defer delayed.Done()
					w.schedule(ctx, consumer, message)
				}()
			} else if message != nil {
				work <- func() { w.process(ctx, consumer, message) }
			}
		}

		// Close the consumer, then wait before creating a new one
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		if err := consumer.Close(closeCtx); err != nil {
			log.Print(ctx, "close error: ", err)
		}
		cancel()

		select {
		case <-ctx.Done():
		case <-time.After(consumeRetry):
		}
	}
}

// process runs the actor for a message and settles it
func (w *Worker) process(ctx context.Context, consumer *Consumer, message *MessageProxy) {
	log := w.broker.log.With("worker", w.opts.name, "queue", message.QueueName, "message_id", message.MessageId)

	// Settle with a context which outlives cancellation of the worker
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	// Requeue when cancelled before starting
	if ctx.Err() != nil {
		if _, err := consumer.Requeue(settleCtx, message); err != nil {
			log.Print(ctx, "requeue error: ", err)
		}
		return
	}

	if err := w.run(ctx, settleCtx, consumer, message); err != nil {
		log.Print(ctx, err)
	}
}

// schedule waits until a delayed message is due, then enqueues it on the
// canonical queue with the same id and acks the delayed message. It is
// requeued if the worker is cancelled first.
func (w *Worker) schedule(ctx context.Context, consumer *Consumer, message *MessageProxy) {
	log := w.broker.log.With("worker", w.opts.name, "queue", message.QueueName, "message_id", message.MessageId)
	if err := w.delayed(ctx, consumer, message); err != nil {
		log.Print(ctx, err)
	}
}

func (w *Worker) delayed(ctx context.Context, consumer *Consumer, message *MessageProxy) error {
	if eta, ok := message.Options.Eta(); ok {
		timer := time.NewTimer(time.Until(eta))
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if ctx.Err() != nil {
		_, err := consumer.Requeue(settleCtx, message)
		return err
	}

	due := message.Message.Copy()
	due.QueueName = schema.CanonicalQueueName(due.QueueName)
	if _, err := w.broker.Enqueue(settleCtx, due, 0); err != nil {
		_, requeueErr := consumer.Requeue(settleCtx, message)
		return errors.Join(err, requeueErr)
	}
	return consumer.Ack(settleCtx, message)
}

// run calls the actor, then acks the message on success. On failure the
// message is enqueued again with a delay, or rejected when it has no
// retries left.
func (w *Worker) run(ctx, settleCtx context.Context, consumer *Consumer, message *MessageProxy) error {
	results := w.broker.Results()

	// Reject messages for unknown actors
	actor := w.actor(message.QueueName, message.ActorName)
	if actor == nil {
		err := fmt.Errorf("%w: %q on queue %q", ErrUnknownActor, message.ActorName, message.QueueName)
		if results != nil {
			err = errors.Join(err, results.Store(settleCtx, message.Message, nil, err))
		}
		return errors.Join(err, consumer.Nack(settleCtx, message))
	}

	// Run the actor
	ctx, endspan := w.broker.startSpan(ctx, "actor."+message.ActorName,
		attribute.String("worker", w.opts.name),
		attribute.String("queue", message.QueueName),
		attribute.String("message_id", message.MessageId),
	)
	value, err := call(ctx, actor.fn, message.Message)
	endspan(err)

	// Success
	if err == nil {
		var storeErr error
		if results != nil {
			storeErr = results.Store(settleCtx, message.Message, value, nil)
		}
		return errors.Join(storeErr, consumer.Ack(settleCtx, message))
	}

	// Retry
	retries := message.Options.Retries()
	limit := actor.maxRetries
	if n, ok := message.Options.MaxRetries(); ok {
		limit = n
	}
	if retries < limit {
		retry := message.Message.Copy()
		retry.Options.SetRetries(retries + 1)
		retry.Options.SetTraceback(err.Error())
		delay := backoff(retries+1, w.opts.minBackoff, w.opts.maxBackoff, nil)
		if _, enqueueErr := w.broker.Enqueue(settleCtx, retry, delay); enqueueErr != nil {
			return errors.Join(err, enqueueErr, consumer.Nack(settleCtx, message))
		}

		// The row is queued again, so the ack only releases the claim
		return consumer.Ack(settleCtx, message)
	}

	// Reject
	var storeErr error
	if results != nil {
		storeErr = results.Store(settleCtx, message.Message, nil, err)
	}
	return errors.Join(fmt.Errorf("rejected after %d retries: %w", retries, err), storeErr, consumer.Nack(settleCtx, message))
}

func (w *Worker) actor(queue, name string) *actor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.actors[schema.CanonicalQueueName(queue)][name]
}

// call runs an actor, recovering from a panic
func call(ctx context.Context, fn Actor, message *schema.Message) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, message)
}
