/*
Package broker provides a message broker which stores messages in a
PostgreSQL table and wakes consumers with LISTEN/NOTIFY.

# Broker

Create a broker on a connection pool. The schema, state type and queue
table are created if they do not exist:

	b, err := broker.New(ctx, pool,
		broker.WithNamespace("dramatiq"),
		broker.WithResults(time.Hour),
	)
	if err != nil {
		panic(err)
	}

	// Purge settled messages periodically
	go b.Run(ctx)

# Producing

Enqueue a message, optionally with a delay. Enqueuing a message with an
existing id replaces the stored message and queues it again:

	message, err := b.Enqueue(ctx, schema.NewMessage("emails", "send", []any{"user@example.com"}, nil), 0)

	// Delivered to the "emails.DQ" queue, and moved to "emails" when due
	message, err := b.Enqueue(ctx, message, time.Minute)

# Consuming

A consumer claims messages from a queue and its delayed queue. Next returns
nil when no message arrives within the timeout:

	consumer, err := b.Consume("emails", 10, 5*time.Second)
	defer consumer.Close(ctx)

	for {
		message, err := consumer.Next(ctx)
		if err != nil {
			return err
		} else if message == nil {
			continue
		}
		// ...
		consumer.Ack(ctx, message)
	}

# Workers

A worker runs actors for the queues they are registered on, retrying failed
messages with exponential backoff. Delayed messages and retries wait for
their eta outside the worker goroutines, and are moved to their queue when
due:

	worker, err := broker.NewWorker(b, broker.WithWorkers(4))
	worker.RegisterActor("emails", "send", func(ctx context.Context, message *schema.Message) (any, error) {
		return nil, nil
	})

	// Run blocks until the context is cancelled
	err = worker.Run(ctx)

# Subpackages

  - schema: Message types, queue naming and SQL binding
  - sql: Statements which create and query the queue table
  - httphandler: REST API handlers for operators
  - httpclient: Typed Go client for the REST API
*/
package broker
