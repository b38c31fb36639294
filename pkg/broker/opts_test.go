package broker

import (
	"testing"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	assert "github.com/stretchr/testify/assert"
)

func Test_Opts_001(t *testing.T) {
	assert := assert.New(t)

	o, err := applyOpts(nil)
	assert.NoError(err)
	assert.Equal(schema.SchemaName, o.ns)
	assert.Equal(schema.DefaultRetention, o.retention)
	assert.Equal(schema.DefaultPurgeInterval, o.interval)
	assert.Equal(DefaultPurgeProbability, o.probability)
	assert.Zero(o.resultTTL)
	assert.Nil(o.log)
}

func Test_Opts_002(t *testing.T) {
	assert := assert.New(t)

	o, err := applyOpts([]Opt{
		WithNamespace("test"),
		WithRetention(time.Hour),
		WithPurgeProbability(0),
		WithPurgeInterval(0),
		WithResults(time.Minute),
		WithLogger(nil),
	})
	assert.NoError(err)
	assert.Equal("test", o.ns)
	assert.Equal(time.Hour, o.retention)
	assert.Zero(o.probability)
	assert.Zero(o.interval)
	assert.Equal(time.Minute, o.resultTTL)
}

func Test_Opts_003(t *testing.T) {
	assert := assert.New(t)

	_, err := applyOpts([]Opt{WithNamespace("")})
	assert.ErrorIs(err, ErrInvalidNamespace)
	_, err = applyOpts([]Opt{WithNamespace("a.b")})
	assert.ErrorIs(err, ErrInvalidNamespace)
	_, err = applyOpts([]Opt{WithRetention(0)})
	assert.ErrorIs(err, ErrInvalidRetention)
	_, err = applyOpts([]Opt{WithPurgeProbability(1.5)})
	assert.ErrorIs(err, ErrInvalidProbability)
	_, err = applyOpts([]Opt{WithPurgeInterval(-time.Second)})
	assert.ErrorIs(err, ErrInvalidInterval)
	_, err = applyOpts([]Opt{WithResults(0)})
	assert.ErrorIs(err, ErrInvalidTTL)
}

func Test_Opts_004(t *testing.T) {
	assert := assert.New(t)

	o, err := applyWorkerOpts(nil)
	assert.NoError(err)
	assert.NotEmpty(o.name)
	assert.GreaterOrEqual(o.workers, 1)
	assert.Equal(DefaultMinBackoff, o.minBackoff)
	assert.Equal(DefaultMaxBackoff, o.maxBackoff)

	o, err = applyWorkerOpts([]WorkerOpt{WithWorkers(3), WithWorkerName("w"), WithMinBackoff(time.Second), WithMaxBackoff(time.Minute)})
	assert.NoError(err)
	assert.Equal(3, o.workers)
	assert.Equal("w", o.name)
	assert.Equal(time.Second, o.minBackoff)
	assert.Equal(time.Minute, o.maxBackoff)

	_, err = applyWorkerOpts([]WorkerOpt{WithMinBackoff(0)})
	assert.ErrorIs(err, ErrInvalidBackoff)
	_, err = applyWorkerOpts([]WorkerOpt{WithMinBackoff(time.Hour), WithMaxBackoff(time.Minute)})
	assert.ErrorIs(err, ErrInvalidBackoff)
}

func Test_Opts_005(t *testing.T) {
	assert := assert.New(t)

	o, err := applyActorOpts(nil)
	assert.NoError(err)
	assert.Equal(uint64(DefaultMaxRetries), o.maxRetries)

	o, err = applyActorOpts([]ActorOpt{WithMaxRetries(0)})
	assert.NoError(err)
	assert.Zero(o.maxRetries)
}
