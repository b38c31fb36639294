package pg

import (
	"context"

	// Packages
	pgx "github.com/jackc/pgx/v5"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// bulkconn queues inserts into a batch. Other operations are not supported.
type bulkconn struct {
	conn  pgx.Tx
	batch *pgx.Batch
	bind  *Bind
}

// Ensure interfaces are satisfied
var _ Conn = (*bulkconn)(nil)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (conn *bulkconn) With(params ...any) Conn {
	return &bulkconn{conn.conn, conn.batch, conn.bind.Copy(params...)}
}

func (conn *bulkconn) WithQueries(queries ...*Queries) Conn {
	return &bulkconn{conn.conn, conn.batch, conn.bind.withQueries(queries...)}
}

func (conn *bulkconn) Tx(context.Context, func(Conn) error) error {
	return ErrNotImplemented.With("transaction within bulk operation")
}

func (conn *bulkconn) Bulk(context.Context, func(Conn) error) error {
	return ErrNotImplemented.With("nested bulk operation")
}

func (conn *bulkconn) Exec(context.Context, string) error {
	return ErrNotImplemented.With("exec within bulk operation")
}

// Queue an insert. The reader is called when the batch is sent.
func (conn *bulkconn) Insert(ctx context.Context, reader Reader, writer Writer) error {
	bind := conn.bind.Copy()
	query, err := writer.Insert(bind)
	if err != nil {
		return err
	}
	bind.queuerow(conn.batch, query, reader)
	return nil
}

func (conn *bulkconn) Update(context.Context, Reader, Selector, Writer) error {
	return ErrNotImplemented.With("update within bulk operation")
}

func (conn *bulkconn) Delete(context.Context, Reader, Selector) error {
	return ErrNotImplemented.With("delete within bulk operation")
}

func (conn *bulkconn) Get(context.Context, Reader, Selector) error {
	return ErrNotImplemented.With("get within bulk operation")
}

func (conn *bulkconn) List(context.Context, Reader, Selector) error {
	return ErrNotImplemented.With("list within bulk operation")
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// bulk sends queued statements in one round trip. Without an explicit
// transaction the server runs the batch as a single implicit transaction.
func bulk(ctx context.Context, tx pgx.Tx, bind *Bind, fn func(Conn) error) error {
	conn := &bulkconn{
		conn:  tx,
		batch: new(pgx.Batch),
		bind:  bind,
	}
	if err := fn(conn); err != nil {
		return pgerror(err)
	}

	// Nothing to send
	if conn.batch.Len() == 0 {
		return nil
	}

	return pgerror(conn.conn.SendBatch(ctx, conn.batch).Close())
}
