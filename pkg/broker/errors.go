package broker

import "errors"

////////////////////////////////////////////////////////////////////////////////
// ERRORS

var (
	ErrClosed           = errors.New("consumer is closed")
	ErrInvalidQueue     = errors.New("invalid queue name")
	ErrInvalidNamespace = errors.New("invalid namespace")
	ErrResultMissing    = errors.New("result is missing")
	ErrResultTimeout    = errors.New("timed out waiting for result")
	ErrUnknownActor     = errors.New("unknown actor")
	ErrInvalidMessage   = errors.New("invalid message")
)
