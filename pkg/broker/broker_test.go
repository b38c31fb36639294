package broker_test

import (
	"context"
	"testing"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	broker "github.com/mutablelogic/go-pgbroker/pkg/broker"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	test "github.com/mutablelogic/go-pgbroker/pkg/test"
	prometheus "github.com/prometheus/client_golang/prometheus"
	assert "github.com/stretchr/testify/assert"
)

// Global connection variable
var conn test.Conn

// Start up a container and test the pool
func TestMain(m *testing.M) {
	test.Main(m, &conn)
}

////////////////////////////////////////////////////////////////////////////////
// BROKER LIFECYCLE TESTS

func Test_Broker_New(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()
	ctx := context.TODO()

	t.Run("DefaultNamespace", func(t *testing.T) {
		b, err := broker.New(ctx, conn)
		assert.NoError(err)
		assert.Equal(schema.SchemaName, b.Namespace())
		assert.Nil(b.Results())
	})

	t.Run("NilConnection", func(t *testing.T) {
		_, err := broker.New(ctx, nil)
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("InvalidNamespace", func(t *testing.T) {
		_, err := broker.New(ctx, conn, broker.WithNamespace("not-valid"))
		assert.ErrorIs(err, broker.ErrInvalidNamespace)
	})

	t.Run("CreateTwice", func(t *testing.T) {
		b1, err := broker.New(ctx, conn, broker.WithNamespace("test_new"))
		assert.NoError(err)
		b2, err := broker.New(ctx, conn, broker.WithNamespace("test_new"))
		assert.NoError(err)
		assert.Equal(b1.Namespace(), b2.Namespace())
	})

	t.Run("CreateConcurrently", func(t *testing.T) {
		errs := make(chan error, 4)
		for i := 0; i < cap(errs); i++ {
			go func() {
				_, err := broker.New(ctx, conn, broker.WithNamespace("test_concurrent"))
				errs <- err
			}()
		}
		for i := 0; i < cap(errs); i++ {
			assert.NoError(<-errs)
		}
	})

	t.Run("Results", func(t *testing.T) {
		b, err := broker.New(ctx, conn, broker.WithNamespace("test_new"), broker.WithResults(time.Minute))
		assert.NoError(err)
		if assert.NotNil(b.Results()) {
			assert.Equal(time.Minute, b.Results().TTL())
		}
	})
}

func Test_Broker_DeclareQueue(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()

	b, err := broker.New(context.TODO(), conn, broker.WithNamespace("test_declare"))
	if !assert.NoError(err) {
		t.FailNow()
	}

	assert.NoError(b.DeclareQueue("default"))
	assert.NoError(b.DeclareQueue("emails"))
	assert.Equal([]string{"default", "default.DQ", "emails", "emails.DQ"}, b.Queues())

	assert.ErrorIs(b.DeclareQueue(""), broker.ErrInvalidQueue)
	assert.ErrorIs(b.DeclareQueue("default.DQ"), broker.ErrInvalidQueue)
	assert.ErrorIs(b.DeclareQueue("not valid"), broker.ErrInvalidQueue)
}

////////////////////////////////////////////////////////////////////////////////
// PRODUCER TESTS

func Test_Broker_Enqueue(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()
	ctx := context.TODO()

	b, err := broker.New(ctx, conn, broker.WithNamespace("test_enqueue"))
	if !assert.NoError(err) {
		t.FailNow()
	}

	t.Run("Enqueue", func(t *testing.T) {
		message, err := b.Enqueue(ctx, schema.NewMessage("default", "add", []any{1.0, 2.0}, nil), 0)
		assert.NoError(err)
		assert.Equal("default", message.QueueName)

		record, err := b.GetMessage(ctx, message.MessageId)
		assert.NoError(err)
		assert.Equal(schema.StateQueued, record.State)
		assert.Equal("default", record.Queue)
		assert.Equal("add", record.Message.ActorName)
		assert.Equal([]any{1.0, 2.0}, record.Message.Args)
	})

	t.Run("AssignsId", func(t *testing.T) {
		message, err := b.Enqueue(ctx, &schema.Message{QueueName: "default", ActorName: "noop"}, 0)
		assert.NoError(err)
		assert.NoError(schema.ValidateMessageId(message.MessageId))
		assert.NotZero(message.MessageTimestamp)
	})

	t.Run("Upsert", func(t *testing.T) {
		message, err := b.Enqueue(ctx, schema.NewMessage("default", "first", nil, nil), 0)
		assert.NoError(err)

		message.ActorName = "second"
		_, err = b.Enqueue(ctx, message, 0)
		assert.NoError(err)

		record, err := b.GetMessage(ctx, message.MessageId)
		assert.NoError(err)
		assert.Equal("second", record.Message.ActorName)
		assert.Equal(schema.StateQueued, record.State)
	})

	t.Run("Delay", func(t *testing.T) {
		before := time.Now()
		message, err := b.Enqueue(ctx, schema.NewMessage("default", "later", nil, nil), time.Hour)
		assert.NoError(err)
		assert.Equal("default.DQ", message.QueueName)

		eta, ok := message.Options.Eta()
		assert.True(ok)
		assert.False(eta.Before(before.Add(time.Hour).Truncate(time.Millisecond)))

		record, err := b.GetMessage(ctx, message.MessageId)
		assert.NoError(err)
		assert.Equal("default.DQ", record.Queue)
	})

	t.Run("InvalidQueue", func(t *testing.T) {
		_, err := b.Enqueue(ctx, schema.NewMessage("not valid", "noop", nil, nil), 0)
		assert.ErrorIs(err, broker.ErrInvalidQueue)
	})

	t.Run("InvalidMessageId", func(t *testing.T) {
		_, err := b.Enqueue(ctx, &schema.Message{QueueName: "default", MessageId: "123"}, 0)
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("NilMessage", func(t *testing.T) {
		_, err := b.Enqueue(ctx, nil, 0)
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := b.GetMessage(ctx, "6a7d4bb2-5a9c-4b7e-9d0e-0e4a2a9d1f00")
		assert.ErrorIs(err, pg.ErrNotFound)
	})
}

func Test_Broker_EnqueueBatch(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()
	ctx := context.TODO()

	b, err := broker.New(ctx, conn, broker.WithNamespace("test_batch"))
	if !assert.NoError(err) {
		t.FailNow()
	}

	messages := make([]*schema.Message, 5)
	for i := range messages {
		messages[i] = schema.NewMessage("batch", "noop", []any{float64(i)}, nil)
	}
	result, err := b.EnqueueBatch(ctx, messages...)
	assert.NoError(err)
	if assert.Len(result, len(messages)) {
		for i, message := range result {
			assert.Equal(messages[i].MessageId, message.MessageId)
		}
	}

	list, err := b.ListMessages(ctx, schema.MessageListRequest{Queue: "batch"})
	assert.NoError(err)
	assert.Equal(uint64(len(messages)), list.Count)

	// Nothing to send
	result, err = b.EnqueueBatch(ctx)
	assert.NoError(err)
	assert.Empty(result)
}

////////////////////////////////////////////////////////////////////////////////
// OPERATOR TESTS

func Test_Broker_List(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()
	ctx := context.TODO()

	b, err := broker.New(ctx, conn, broker.WithNamespace("test_list"))
	if !assert.NoError(err) {
		t.FailNow()
	}
	for i := 0; i < 3; i++ {
		_, err := b.Enqueue(ctx, schema.NewMessage("a", "noop", nil, nil), 0)
		assert.NoError(err)
	}
	_, err = b.Enqueue(ctx, schema.NewMessage("b", "noop", nil, nil), 0)
	assert.NoError(err)
	_, err = b.Enqueue(ctx, schema.NewMessage("b", "noop", nil, nil), time.Hour)
	assert.NoError(err)

	t.Run("All", func(t *testing.T) {
		list, err := b.ListMessages(ctx, schema.MessageListRequest{})
		assert.NoError(err)
		assert.Equal(uint64(5), list.Count)
		assert.Len(list.Body, 5)

		// Most recent first
		assert.Equal("b.DQ", list.Body[0].Queue)
	})

	t.Run("Limit", func(t *testing.T) {
		limit := uint64(2)
		list, err := b.ListMessages(ctx, schema.MessageListRequest{OffsetLimit: pg.OffsetLimit{Offset: 1, Limit: &limit}})
		assert.NoError(err)
		assert.Equal(uint64(5), list.Count)
		assert.Len(list.Body, 2)
	})

	t.Run("Queue", func(t *testing.T) {
		list, err := b.ListMessages(ctx, schema.MessageListRequest{Queue: "a", State: schema.StateQueued})
		assert.NoError(err)
		assert.Equal(uint64(3), list.Count)
	})

	t.Run("InvalidState", func(t *testing.T) {
		_, err := b.ListMessages(ctx, schema.MessageListRequest{State: "unknown"})
		assert.Error(err)
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := b.ListQueueStats(ctx, "")
		assert.NoError(err)
		assert.Equal([]schema.QueueStats{
			{Queue: "a", State: schema.StateQueued, Count: 3},
			{Queue: "b", State: schema.StateQueued, Count: 1},
			{Queue: "b.DQ", State: schema.StateQueued, Count: 1},
		}, stats.Body)
	})

	t.Run("StatsByQueue", func(t *testing.T) {
		stats, err := b.ListQueueStats(ctx, "b")
		assert.NoError(err)
		assert.Len(stats.Body, 2)
	})
}

func Test_Broker_Requeue(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()
	ctx := context.TODO()

	b, err := broker.New(ctx, conn, broker.WithNamespace("test_requeue"))
	if !assert.NoError(err) {
		t.FailNow()
	}

	message, err := b.Enqueue(ctx, schema.NewMessage("default", "noop", nil, nil), 0)
	assert.NoError(err)

	// Already queued
	n, err := b.Requeue(ctx, message.MessageId)
	assert.NoError(err)
	assert.Zero(n)

	// Claim, then requeue
	consumer, err := b.Consume("default", 1, time.Second)
	assert.NoError(err)
	defer consumer.Close(ctx)
	proxy, err := consumer.Next(ctx)
	assert.NoError(err)
	if assert.NotNil(proxy) {
		record, err := b.GetMessage(ctx, proxy.MessageId)
		assert.NoError(err)
		assert.Equal(schema.StateConsumed, record.State)
	}

	n, err = b.Requeue(ctx, message.MessageId)
	assert.NoError(err)
	assert.Equal(uint64(1), n)

	record, err := b.GetMessage(ctx, message.MessageId)
	assert.NoError(err)
	assert.Equal(schema.StateQueued, record.State)

	// Nothing to requeue
	n, err = b.Requeue(ctx)
	assert.NoError(err)
	assert.Zero(n)
}

func Test_Broker_Purge(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()
	ctx := context.TODO()

	b, err := broker.New(ctx, conn, broker.WithNamespace("test_purge"))
	if !assert.NoError(err) {
		t.FailNow()
	}

	queued, err := b.Enqueue(ctx, schema.NewMessage("default", "noop", nil, nil), 0)
	assert.NoError(err)
	settled, err := b.Enqueue(ctx, schema.NewMessage("other", "noop", nil, nil), 0)
	assert.NoError(err)

	consumer, err := b.Consume("other", 0, time.Second)
	assert.NoError(err)
	defer consumer.Close(ctx)
	proxy, err := consumer.Next(ctx)
	assert.NoError(err)
	if assert.NotNil(proxy) {
		assert.NoError(consumer.Ack(ctx, proxy))
	}

	// Retention keeps the settled message
	n, err := b.Purge(ctx, time.Hour)
	assert.NoError(err)
	assert.Zero(n)

	// Without retention, only settled messages are deleted
	time.Sleep(10 * time.Millisecond)
	n, err = b.Purge(ctx, 0)
	assert.NoError(err)
	assert.Equal(uint64(1), n)

	_, err = b.GetMessage(ctx, settled.MessageId)
	assert.ErrorIs(err, pg.ErrNotFound)
	_, err = b.GetMessage(ctx, queued.MessageId)
	assert.NoError(err)
}

func Test_Broker_Run(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()

	b, err := broker.New(context.TODO(), conn, broker.WithNamespace("test_run"), broker.WithPurgeInterval(10*time.Millisecond))
	if !assert.NoError(err) {
		t.FailNow()
	}

	ctx, cancel := context.WithTimeout(context.TODO(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(b.Run(ctx))
}

func Test_Broker_Collectors(t *testing.T) {
	assert := assert.New(t)
	conn := conn.Begin(t)
	defer conn.Close()
	ctx := context.TODO()

	b, err := broker.New(ctx, conn, broker.WithNamespace("test_metrics"))
	if !assert.NoError(err) {
		t.FailNow()
	}
	_, err = b.Enqueue(ctx, schema.NewMessage("default", "noop", nil, nil), 0)
	assert.NoError(err)

	registry := prometheus.NewRegistry()
	for _, collector := range b.Collectors() {
		assert.NoError(registry.Register(collector))
	}

	families, err := registry.Gather()
	assert.NoError(err)
	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(names["pgbroker_enqueued_total"])
	assert.True(names["pgbroker_messages"])
}
