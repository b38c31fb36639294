package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Results stores the values returned by actors against their messages,
// for a limited time
type Results struct {
	broker *Broker
	ttl    time.Duration
}

// ResultError is an error returned by an actor, read back from the results
type ResultError = schema.ResultError

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// TTL returns the time a result is kept
func (r *Results) TTL() time.Duration {
	return r.ttl
}

// Store records the value, or the error if it is not nil, for a message
func (r *Results) Store(ctx context.Context, message *schema.Message, value any, err error) error {
	if message == nil {
		return pg.ErrBadParameter.With("message is nil")
	}

	result := schema.Result{Value: value}
	if err != nil {
		result = schema.Result{Error: resultError(err)}
	}

	ctx, endspan := r.broker.startSpan(ctx, "result.store", attribute.String("message_id", message.MessageId))
	var stored schema.Result
	err = r.broker.conn.Update(ctx, &stored, schema.ResultSet{
		MessageId: message.MessageId,
		Result:    result,
		TTL:       r.ttl,
	}, nil)
	endspan(err)

	return err
}

// Get returns the result for a message. With a wait greater than zero it
// blocks until the message is acked or nacked, up to the wait. Returns
// ErrResultMissing when there is no result and no wait, ErrResultTimeout
// when the wait expires, and a *ResultError when the actor failed.
func (r *Results) Get(ctx context.Context, message *schema.Message, wait time.Duration) (any, error) {
	if message == nil {
		return nil, pg.ErrBadParameter.With("message is nil")
	}
	id, err := schema.NormalizeMessageId(message.MessageId)
	if err != nil {
		return nil, pg.ErrBadParameter.With(err)
	}
	if wait <= 0 {
		value, ok, err := r.get(ctx, id)
		if err == nil && !ok {
			err = ErrResultMissing
		}
		return value, err
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	// Listen before reading, so an ack between the two is not missed
	listener := r.broker.conn.Listener()
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = listener.Close(ctx)
	}()
	channel := schema.Channel(r.broker.ns, schema.CanonicalQueueName(message.QueueName), schema.ChannelAck)
	if err := listener.Listen(ctx, channel); err != nil {
		return nil, timeout(ctx, err)
	}

	for {
		if value, ok, err := r.get(ctx, id); err != nil {
			return nil, timeout(ctx, err)
		} else if ok {
			return value, nil
		}

		// Wait for this message to be settled
		for {
			notification, err := listener.WaitForNotification(ctx)
			if err != nil {
				return nil, timeout(ctx, err)
			}
			if settled, err := schema.DecodeMessage(notification.Payload); err == nil && settled.MessageId == id {
				break
			}
		}
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// get reads a result, returning false when there is none
func (r *Results) get(ctx context.Context, id string) (any, bool, error) {
	var result schema.Result
	if err := r.broker.conn.Get(ctx, &result, schema.ResultGet(id)); errors.Is(err, pg.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	} else if result.Error != nil {
		return nil, true, result.Error
	}
	return result.Value, true, nil
}

// timeout replaces a context deadline with ErrResultTimeout
func timeout(ctx context.Context, err error) error {
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrResultTimeout
	}
	return err
}

func resultError(err error) *ResultError {
	var result *ResultError
	if errors.As(err, &result) {
		return result
	}
	return &ResultError{Type: strings.TrimPrefix(fmt.Sprintf("%T", err), "*"), Message: err.Error()}
}
