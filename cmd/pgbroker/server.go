package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	broker "github.com/mutablelogic/go-pgbroker/pkg/broker"
	httphandler "github.com/mutablelogic/go-pgbroker/pkg/broker/httphandler"
	version "github.com/mutablelogic/go-pgbroker/pkg/version"
	httpserver "github.com/mutablelogic/go-server/pkg/httpserver"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	gootel "go.opentelemetry.io/otel"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type ServerCommands struct {
	RunServer RunServer `cmd:"" name:"run" help:"Run server." group:"SERVER"`
}

type RunServer struct {
	URL       string `arg:"" name:"url" help:"Database URL" default:""`
	Namespace string `name:"namespace" help:"Broker namespace, which is the schema holding the queue table" default:"dramatiq"`

	// Broker options
	Broker struct {
		Retention     time.Duration `name:"retention" help:"How long settled messages are kept" default:"720h"`
		PurgeInterval time.Duration `name:"purge-interval" help:"Period between purges of settled messages, zero to disable" default:"1h"`
		Results       time.Duration `name:"results" help:"Time results are kept, zero to disable results" default:"0"`
	} `embed:"" prefix:"broker."`

	// Postgres options
	PG struct {
		// Database options
		User     string `name:"user" env:"PG_USER" help:"Database user"`
		Password string `name:"password" env:"PG_PASSWORD" help:"Database password"`
		Schema   string `name:"schema" env:"PG_SCHEMA" help:"Database schema"`
		MaxConns int    `name:"max-conns" help:"Maximum number of connections in the pool" default:"10"`
	} `embed:"" prefix:"pg."`

	// TLS server options
	TLS struct {
		ServerName string `name:"name" help:"TLS server name"`
		CertFile   string `name:"cert" help:"TLS certificate file"`
		KeyFile    string `name:"key" help:"TLS key file"`
	} `embed:"" prefix:"tls."`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *RunServer) Run(ctx *Globals) error {
	tracer := gootel.Tracer(version.ExecName())
	log := logger.New(os.Stderr, logger.Text, ctx.Debug)

	opts := []pg.Opt{
		pg.WithURL(cmd.URL),
		pg.WithApplicationName(version.ExecName()),
		pg.WithMaxConns(cmd.PG.MaxConns),
		pg.WithTracer(tracer),
	}
	if cmd.PG.User != "" || cmd.PG.Password != "" {
		opts = append(opts, pg.WithCredentials(cmd.PG.User, cmd.PG.Password))
	}
	if cmd.PG.Schema != "" {
		opts = append(opts, pg.WithSchemaSearchPath(cmd.PG.Schema))
	}
	if ctx.Debug {
		opts = append(opts, pg.WithTrace(func(ctx context.Context, query string, args any, err error) {
			fmt.Println("PG TRACE:", query, args, err)
		}))
	}

	// Create a pool connection
	conn, err := pg.NewPool(ctx.ctx, opts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Ping the database
	if err := conn.Ping(ctx.ctx); err != nil {
		return err
	}

	// Create the broker
	brokerOpts := []broker.Opt{
		broker.WithNamespace(cmd.Namespace),
		broker.WithRetention(cmd.Broker.Retention),
		broker.WithPurgeInterval(cmd.Broker.PurgeInterval),
		broker.WithLogger(log),
		broker.WithTracer(tracer),
	}
	if cmd.Broker.Results > 0 {
		brokerOpts = append(brokerOpts, broker.WithResults(cmd.Broker.Results))
	}
	broker, err := broker.New(ctx.ctx, conn, brokerOpts...)
	if err != nil {
		return err
	}

	// Register HTTP handlers
	router := http.NewServeMux()
	httphandler.RegisterBackendHandlers(router, ctx.HTTP.Prefix, broker, nil)

	// Create a TLS config
	var tlsconfig *tls.Config
	if cmd.TLS.CertFile != "" || cmd.TLS.KeyFile != "" {
		tlsconfig, err = httpserver.TLSConfig(cmd.TLS.ServerName, true, cmd.TLS.CertFile, cmd.TLS.KeyFile)
		if err != nil {
			return err
		}
	}

	// Create a HTTP server
	server, err := httpserver.New(ctx.HTTP.Addr, router, tlsconfig)
	if err != nil {
		return err
	}

	// Run the purge loop and the server concurrently
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result error
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		result = errors.Join(result, err)
	}
	log.Print(ctx.ctx, version.ExecName(), " ", version.Version())

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := broker.Run(ctx.ctx); err != nil && !errors.Is(err, context.Canceled) {
			fail(fmt.Errorf("broker error: %w", err))
		}
		ctx.cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Print(ctx.ctx, "listening on ", ctx.HTTP.Addr+ctx.HTTP.Prefix)
		if err := server.Run(ctx.ctx); err != nil && !errors.Is(err, context.Canceled) {
			fail(fmt.Errorf("server error: %w", err))
		}
		ctx.cancel()
	}()

	// Wait for both to finish
	wg.Wait()

	// Terminated message
	if result == nil {
		log.Print(context.Background(), version.ExecName(), " terminated")
	}

	// Return any error
	return result
}
