package broker

import (
	"errors"
	"os"
	"runtime"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	server "github.com/mutablelogic/go-server"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for a broker
type Opt func(*opts) error

// WorkerOpt is a functional option for a worker
type WorkerOpt func(*workerOpts) error

// ActorOpt is a functional option for an actor
type ActorOpt func(*actorOpts) error

type opts struct {
	ns          string
	retention   time.Duration
	probability float64
	interval    time.Duration
	resultTTL   time.Duration
	log         server.Logger
	tracer      trace.Tracer
}

type workerOpts struct {
	name       string
	workers    int
	minBackoff time.Duration
	maxBackoff time.Duration
}

type actorOpts struct {
	maxRetries uint64
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Probability that a consumer which times out purges settled messages
	DefaultPurgeProbability = 1e-5

	DefaultMaxRetries = 20
	DefaultMinBackoff = 15 * time.Second
	DefaultMaxBackoff = 7 * 24 * time.Hour
)

var (
	ErrInvalidWorkers     = errors.New("workers must be >= 1")
	ErrInvalidRetention   = errors.New("retention must be > 0")
	ErrInvalidProbability = errors.New("probability must be between 0 and 1")
	ErrInvalidBackoff     = errors.New("backoff must be > 0 and min <= max")
	ErrInvalidInterval    = errors.New("interval must be >= 0")
	ErrInvalidTTL         = errors.New("ttl must be > 0")
)

////////////////////////////////////////////////////////////////////////////////
// BROKER OPTIONS

// WithNamespace sets the postgres schema which holds the queue table, and
// which prefixes notification channels. Defaults to "dramatiq".
func WithNamespace(ns string) Opt {
	return func(o *opts) error {
		if err := schema.ValidateNamespace(ns); err != nil {
			return errors.Join(ErrInvalidNamespace, err)
		}
		o.ns = ns
		return nil
	}
}

// WithRetention sets how long done and rejected messages are kept
func WithRetention(d time.Duration) Opt {
	return func(o *opts) error {
		if d <= 0 {
			return ErrInvalidRetention
		}
		o.retention = d
		return nil
	}
}

// WithPurgeProbability sets the probability that a consumer purges settled
// messages when Next times out. Zero disables it.
func WithPurgeProbability(p float64) Opt {
	return func(o *opts) error {
		if p < 0 || p > 1 {
			return ErrInvalidProbability
		}
		o.probability = p
		return nil
	}
}

// WithPurgeInterval sets the period between purges in Run. Zero disables
// the periodic purge.
func WithPurgeInterval(d time.Duration) Opt {
	return func(o *opts) error {
		if d < 0 {
			return ErrInvalidInterval
		}
		o.interval = d
		return nil
	}
}

// WithResults enables storing results, which expire after the ttl
func WithResults(ttl time.Duration) Opt {
	return func(o *opts) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		o.resultTTL = ttl
		return nil
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(log server.Logger) Opt {
	return func(o *opts) error {
		if log != nil {
			o.log = log
		}
		return nil
	}
}

// WithTracer sets the tracer for broker spans
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opts) error {
		o.tracer = tracer
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// WORKER OPTIONS

// WithWorkers sets the number of goroutines which run actors
func WithWorkers(n int) WorkerOpt {
	return func(o *workerOpts) error {
		if n < 1 {
			return ErrInvalidWorkers
		}
		o.workers = n
		return nil
	}
}

// WithWorkerName sets the name used in logs and spans. Defaults to the hostname.
func WithWorkerName(name string) WorkerOpt {
	return func(o *workerOpts) error {
		o.name = name
		return nil
	}
}

// WithMinBackoff sets the delay before the first retry
func WithMinBackoff(d time.Duration) WorkerOpt {
	return func(o *workerOpts) error {
		if d <= 0 {
			return ErrInvalidBackoff
		}
		o.minBackoff = d
		return nil
	}
}

// WithMaxBackoff caps the delay between retries
func WithMaxBackoff(d time.Duration) WorkerOpt {
	return func(o *workerOpts) error {
		if d <= 0 {
			return ErrInvalidBackoff
		}
		o.maxBackoff = d
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// ACTOR OPTIONS

// WithMaxRetries sets the number of retries before a failed message is
// rejected. A max_retries option on the message takes precedence.
func WithMaxRetries(n uint64) ActorOpt {
	return func(o *actorOpts) error {
		o.maxRetries = n
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) (opts, error) {
	o := opts{
		ns:          schema.SchemaName,
		retention:   schema.DefaultRetention,
		probability: DefaultPurgeProbability,
		interval:    schema.DefaultPurgeInterval,
	}
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return opts{}, err
		}
	}
	return o, nil
}

func applyWorkerOpts(opt []WorkerOpt) (workerOpts, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return workerOpts{}, err
	}

	o := workerOpts{
		name:       hostname,
		workers:    runtime.NumCPU(),
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
	}
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return workerOpts{}, err
		}
	}
	if o.minBackoff > o.maxBackoff {
		return workerOpts{}, ErrInvalidBackoff
	}
	return o, nil
}

func applyActorOpts(opt []ActorOpt) (actorOpts, error) {
	o := actorOpts{
		maxRetries: DefaultMaxRetries,
	}
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return actorOpts{}, err
		}
	}
	return o, nil
}
