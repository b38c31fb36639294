package httpclient

import (
	"context"
	"time"

	// Packages
	client "github.com/mutablelogic/go-client"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ListQueueStats returns the number of messages by queue and state (GET /queue).
func (c *Client) ListQueueStats(ctx context.Context, opts ...Opt) (*schema.QueueStatsList, error) {
	req := client.NewRequest()

	// Apply options
	opt, err := applyOpts(opts...)
	if err != nil {
		return nil, err
	}

	// Perform request
	var response schema.QueueStatsList
	if err := c.DoWithContext(ctx, req, &response, client.OptPath("queue"), client.OptQuery(opt.Values)); err != nil {
		return nil, err
	}

	// Return the responses
	return &response, nil
}

// ListMessages returns messages, most recent first (GET /message).
func (c *Client) ListMessages(ctx context.Context, opts ...Opt) (*schema.MessageList, error) {
	req := client.NewRequest()

	// Apply options
	opt, err := applyOpts(opts...)
	if err != nil {
		return nil, err
	}

	// Perform request
	var response schema.MessageList
	if err := c.DoWithContext(ctx, req, &response, client.OptPath("message"), client.OptQuery(opt.Values)); err != nil {
		return nil, err
	}

	// Return the responses
	return &response, nil
}

// GetMessage returns a message by id (GET /message/{id}).
func (c *Client) GetMessage(ctx context.Context, id string) (*schema.Record, error) {
	if err := schema.ValidateMessageId(id); err != nil {
		return nil, err
	}
	req := client.NewRequest()

	// Perform request
	var response schema.Record
	if err := c.DoWithContext(ctx, req, &response, client.OptPath("message", id)); err != nil {
		return nil, err
	}

	// Return the responses
	return &response, nil
}

// Enqueue stores a message, delivered after an optional delay (POST /message).
func (c *Client) Enqueue(ctx context.Context, message *schema.Message, delay time.Duration) (*schema.Message, error) {
	payload := schema.MessageEnqueueRequest{Delay: delay}
	if message != nil {
		payload.Message = *message
	}

	req, err := client.NewJSONRequest(payload)
	if err != nil {
		return nil, err
	}

	// Perform request
	var response schema.Message
	if err := c.DoWithContext(ctx, req, &response, client.OptPath("message")); err != nil {
		return nil, err
	}

	// Return the responses
	return &response, nil
}

// Requeue returns messages to the queued state, and returns the number
// changed (POST /requeue).
func (c *Client) Requeue(ctx context.Context, ids ...string) (uint64, error) {
	req, err := client.NewJSONRequest(schema.MessageRequeueRequest{MessageIds: ids})
	if err != nil {
		return 0, err
	}

	// Perform request
	var response schema.CountResponse
	if err := c.DoWithContext(ctx, req, &response, client.OptPath("requeue")); err != nil {
		return 0, err
	}

	// Return the responses
	return response.Count, nil
}

// Purge deletes settled messages older than the retention, or the retention
// of the server when nil, and returns the number deleted (POST /purge).
func (c *Client) Purge(ctx context.Context, retention *time.Duration) (uint64, error) {
	req, err := client.NewJSONRequest(schema.MessagePurgeRequest{Retention: retention})
	if err != nil {
		return 0, err
	}

	// Perform request
	var response schema.CountResponse
	if err := c.DoWithContext(ctx, req, &response, client.OptPath("purge")); err != nil {
		return 0, err
	}

	// Return the responses
	return response.Count, nil
}
