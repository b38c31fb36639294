package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Conn is the connection pool shared by the tests in a package. It is set
// by Main, and is nil when no database could be reached.
type Conn struct {
	pg.PoolConn
}

// TestConn is a connection handed to a single test. Closing it leaves the
// shared pool open.
type TestConn struct {
	pg.PoolConn
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	pgxContainer = "postgres:17-bookworm"
	pgxPort      = "5432/tcp"
	pgxDatabase  = "test"

	// Connect to this database instead of starting a container
	envURL = "PG_URL"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPgxContainer creates a new PostgreSQL container and connection pool.
// Optional searchPath parameter sets the schema search path for the connection.
func NewPgxContainer(ctx context.Context, name string, tracer pg.TraceFn, searchPath ...string) (*Container, pg.PoolConn, error) {
	container, err := NewContainer(ctx, name, pgxContainer,
		OptPostgres("postgres", "password", pgxDatabase),
		OptPostgresSetting("max_connections", "200"),
	)
	if err != nil {
		return nil, nil, err
	}

	host, _ := container.GetEnv("POSTGRES_HOST")
	port, err := container.PostgresPort(ctx)
	if err != nil {
		return nil, nil, errors.Join(err, container.Close(ctx))
	}

	pool, err := pg.NewPool(ctx,
		pg.WithCredentials("postgres", "password"),
		pg.WithDatabase(pgxDatabase),
		pg.WithHostPort(host, port),
		pg.WithApplicationName(name),
		pg.WithTrace(tracer),
		pg.WithSchemaSearchPath(searchPath...),
	)
	if err != nil {
		return nil, nil, errors.Join(err, container.Close(ctx))
	} else if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, errors.Join(err, container.Close(ctx))
	}

	// Return success
	return container, pool, nil
}

// Main sets up the shared connection, runs the tests and tears down. When
// PG_URL is set that database is used, otherwise a container is started.
// Tests which need the database are skipped when neither is available.
func Main(m *testing.M, conn *Conn) {
	os.Exit(run(m, conn))
}

func run(m *testing.M, conn *Conn) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	var tracer pg.TraceFn
	if testing.Verbose() {
		tracer = func(ctx context.Context, query string, args any, err error) {
			if err != nil {
				fmt.Fprintln(os.Stderr, "ERROR:", err)
			}
			fmt.Fprintln(os.Stderr, strings.TrimSpace(query), args)
		}
	}

	if url := os.Getenv(envURL); url != "" {
		pool, err := pg.NewPool(ctx, pg.WithURL(url), pg.WithTrace(tracer))
		if err == nil {
			err = pool.Ping(ctx)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, envURL+":", err)
			return 1
		}
		conn.PoolConn = pool
		defer pool.Close()
	} else if container, pool, err := NewPgxContainer(ctx, "pgbroker-test", tracer); err != nil {
		fmt.Fprintln(os.Stderr, "no database, skipping database tests:", err)
	} else {
		conn.PoolConn = pool
		defer func() {
			pool.Close()
			container.Close(context.Background())
		}()
	}

	return m.Run()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Begin returns the shared connection for a test, or skips the test when
// there is no database
func (c *Conn) Begin(t *testing.T) *TestConn {
	t.Helper()
	if c.PoolConn == nil {
		t.Skip("no database available")
	}
	return &TestConn{c.PoolConn}
}

// Close is a no-op, the shared pool is closed by Main
func (c *TestConn) Close() {}
