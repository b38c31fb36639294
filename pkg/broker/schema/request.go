package schema

import "time"

////////////////////////////////////////////////////////////////////////////////
// TYPES

// MessageEnqueueRequest is a message to enqueue, delivered after an optional delay
type MessageEnqueueRequest struct {
	Message
	Delay time.Duration `json:"delay,omitempty"`
}

// MessageRequeueRequest returns messages to the queued state by id
type MessageRequeueRequest struct {
	MessageIds []string `json:"message_ids"`
}

// MessagePurgeRequest deletes settled messages older than the retention,
// which defaults to the retention of the broker
type MessagePurgeRequest struct {
	Retention *time.Duration `json:"retention,omitempty"`
}

// CountResponse is the number of messages changed by a request
type CountResponse struct {
	Count uint64 `json:"count"`
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (r MessageEnqueueRequest) String() string {
	return stringify(r)
}

func (r CountResponse) String() string {
	return stringify(r)
}
