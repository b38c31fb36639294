package pg_test

import (
	"strings"
	"testing"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	assert "github.com/stretchr/testify/assert"
)

func Test_Queries_001(t *testing.T) {
	assert := assert.New(t)

	queries, err := pg.NewQueries(strings.NewReader(`
ignored preamble
-- message.get
SELECT 1;

-- message.list
SELECT 2
FROM t;
`))
	assert.NoError(err)
	assert.Equal([]string{"message.get", "message.list"}, queries.Keys())
	assert.Equal("SELECT 1;", queries.Get("message.get"))
	assert.Equal("SELECT 2\nFROM t;", queries.Get("message.list"))
	assert.True(queries.Has("message.get"))
	assert.False(queries.Has("message.delete"))
	assert.Equal("", queries.Get("message.delete"))
}

func Test_Queries_002(t *testing.T) {
	assert := assert.New(t)

	_, err := pg.NewQueries(strings.NewReader("-- a\nSELECT 1\n-- a\nSELECT 2\n"))
	assert.ErrorIs(err, pg.ErrBadParameter)

	assert.Panics(func() {
		pg.MustQueries("-- a\n-- a\n")
	})
}

func Test_Queries_003(t *testing.T) {
	assert := assert.New(t)

	// Bound queries are substituted into other statements
	conn := pg.NewBind("schema", "test")
	queries := pg.MustQueries("-- q\nSELECT * FROM ${\"schema\"}.queue")
	for _, key := range queries.Keys() {
		conn.Set(key, queries.Get(key))
	}
	assert.Equal(`SELECT * FROM "test".queue`, conn.Query("q"))
}
