package httpclient

import (
	"fmt"
	"net/url"

	// Packages
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	url.Values
}

// Opt is an option to set on the client request.
type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func applyOpts(opts ...Opt) (*opt, error) {
	o := new(opt)
	o.Values = make(url.Values)
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithOffsetLimit sets offset and limit query parameters.
func WithOffsetLimit(offset uint64, limit *uint64) Opt {
	return func(o *opt) error {
		if offset > 0 {
			o.Set("offset", fmt.Sprint(offset))
		}
		if limit != nil {
			o.Set("limit", fmt.Sprint(*limit))
		}
		return nil
	}
}

// WithQueue sets the queue query parameter.
func WithQueue(queue string) Opt {
	return func(o *opt) error {
		if queue != "" {
			o.Set("queue_name", queue)
		}
		return nil
	}
}

// WithState sets the state query parameter, which must be a valid state.
func WithState(state schema.State) Opt {
	return func(o *opt) error {
		if state == "" {
			return nil
		}
		if !state.Valid() {
			return fmt.Errorf("invalid state %q", state)
		}
		o.Set("state", string(state))
		return nil
	}
}
