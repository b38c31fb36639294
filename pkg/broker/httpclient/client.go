package httpclient

import (
	// Packages
	client "github.com/mutablelogic/go-client"
	pg "github.com/mutablelogic/go-pgbroker"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Client is a typed client for the broker REST API
type Client struct {
	*client.Client
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a client for the API at the endpoint url
func New(url string, opts ...client.ClientOpt) (*Client, error) {
	if url == "" {
		return nil, pg.ErrBadParameter.With("missing endpoint")
	}
	c, err := client.New(append(opts, client.OptEndpoint(url))...)
	if err != nil {
		return nil, err
	}
	return &Client{c}, nil
}
