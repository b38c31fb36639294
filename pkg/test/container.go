package test

import (
	"context"
	"errors"
	"time"

	// Packages
	testcontainers "github.com/testcontainers/testcontainers-go"
	wait "github.com/testcontainers/testcontainers-go/wait"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Container is a running docker container
type Container struct {
	testcontainers.Container
	env map[string]string
}

// Opt sets a container option
type Opt func(*testcontainers.ContainerRequest) error

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	startupTimeout = 2 * time.Minute
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewContainer starts a container from an image, and waits for any wait
// strategies set by the options. The container is labelled with the name.
func NewContainer(ctx context.Context, name, image string, opts ...Opt) (*Container, error) {
	req := testcontainers.ContainerRequest{
		Image:  image,
		Env:    make(map[string]string),
		Labels: map[string]string{"name": name},
	}
	for _, opt := range opts {
		if err := opt(&req); err != nil {
			return nil, err
		}
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}

	// Record the host, so callers can connect
	host, err := container.Host(ctx)
	if err != nil {
		return nil, errors.Join(err, container.Terminate(ctx))
	}
	env := make(map[string]string, len(req.Env)+1)
	for k, v := range req.Env {
		env[k] = v
	}
	env["POSTGRES_HOST"] = host

	return &Container{container, env}, nil
}

// Close terminates the container
func (c *Container) Close(ctx context.Context) error {
	return c.Terminate(ctx)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// GetEnv returns an environment value set on the container
func (c *Container) GetEnv(key string) (string, bool) {
	v, ok := c.env[key]
	return v, ok
}

// PostgresPort returns the host port mapped to the server port
func (c *Container) PostgresPort(ctx context.Context) (string, error) {
	mapped, err := c.MappedPort(ctx, pgxPort)
	if err != nil {
		return "", err
	}
	return mapped.Port(), nil
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// OptEnv sets an environment variable
func OptEnv(key, value string) Opt {
	return func(req *testcontainers.ContainerRequest) error {
		req.Env[key] = value
		return nil
	}
}

// OptPostgres sets the superuser credentials and database, exposes the
// server port and waits until the server accepts connections
func OptPostgres(user, password, database string) Opt {
	return func(req *testcontainers.ContainerRequest) error {
		req.Env["POSTGRES_USER"] = user
		req.Env["POSTGRES_PASSWORD"] = password
		req.Env["POSTGRES_DB"] = database
		req.ExposedPorts = append(req.ExposedPorts, pgxPort)

		// The server restarts once after initialising the database
		req.WaitingFor = wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort(pgxPort),
		).WithDeadline(startupTimeout)
		return nil
	}
}

// OptPostgresSetting appends a server setting to the command line
func OptPostgresSetting(key, value string) Opt {
	return func(req *testcontainers.ContainerRequest) error {
		if len(req.Cmd) == 0 {
			req.Cmd = []string{"postgres"}
		}
		req.Cmd = append(req.Cmd, "-c", key+"="+value)
		return nil
	}
}
