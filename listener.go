package pg

import (
	"context"
	"errors"
	"sync"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Listener subscribes to notification channels on a dedicated connection,
// which is held outside of any transaction until the listener is closed.
type Listener interface {
	// Subscribe to one or more channels. The first call acquires
	// a connection from the pool.
	Listen(context.Context, ...string) error

	// Unsubscribe from one or more channels
	Unlisten(context.Context, ...string) error

	// Block until a notification arrives or the context is done. Buffered
	// notifications are returned first, even if the context is done.
	WaitForNotification(context.Context) (*Notification, error)

	// Unsubscribe from all channels and release the connection to the pool
	Close(context.Context) error
}

// Notification is a message received on a channel
type Notification struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload,omitempty"`
}

type listener struct {
	sync.Mutex
	pool *pgxpool.Pool
	conn *pgxpool.Conn
}

// Ensure interfaces are satisfied
var _ Listener = (*listener)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newListener(pool *pgxpool.Pool) *listener {
	return &listener{pool: pool}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (l *listener) Listen(ctx context.Context, channels ...string) error {
	l.Lock()
	defer l.Unlock()

	// Acquire the connection, which blocks when the pool is exhausted
	if l.conn == nil {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		l.conn = conn
	}

	for _, channel := range channels {
		if channel == "" {
			return ErrBadParameter.With("empty channel name")
		}
		if _, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return pgerror(err)
		}
	}

	// Return success
	return nil
}

func (l *listener) Unlisten(ctx context.Context, channels ...string) error {
	l.Lock()
	defer l.Unlock()

	if l.conn == nil {
		return nil
	}
	for _, channel := range channels {
		if _, err := l.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return pgerror(err)
		}
	}
	return nil
}

func (l *listener) WaitForNotification(ctx context.Context) (*Notification, error) {
	l.Lock()
	defer l.Unlock()

	if l.conn == nil {
		return nil, ErrNotAvailable.With("listener is not subscribed")
	}

	// Context errors are returned as-is so callers can tell a timeout apart
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}

	return &Notification{
		Channel: n.Channel,
		Payload: []byte(n.Payload),
	}, nil
}

func (l *listener) Close(ctx context.Context) error {
	l.Lock()
	defer l.Unlock()

	if l.conn == nil {
		return nil
	}

	// A connection which cannot be reset is closed, so the pool discards it
	// on release rather than handing out a connection with live subscriptions
	var result error
	if _, err := l.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		result = errors.Join(result, err, l.conn.Conn().Close(ctx))
	}
	l.conn.Release()
	l.conn = nil

	return result
}
