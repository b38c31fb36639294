package pg

import (
	"errors"
	"testing"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
	assert "github.com/stretchr/testify/assert"
)

func Test_Err_001(t *testing.T) {
	assert := assert.New(t)

	err := ErrNotFound.With("message ", "abc")
	assert.ErrorIs(err, ErrNotFound)
	assert.Equal("not found: message abc", err.Error())

	err = ErrBadParameter.Withf("queue %q", "x")
	assert.ErrorIs(err, ErrBadParameter)
	assert.Equal(`bad parameter: queue "x"`, err.Error())
	assert.Equal("error code 99", Err(99).Error())
}

func Test_Err_002(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(pgerror(nil))
	assert.ErrorIs(pgerror(pgx.ErrNoRows), ErrNotFound)

	unique := &pgconn.PgError{Code: sqlUniqueViolation}
	assert.ErrorIs(pgerror(unique), ErrConflict)
	assert.ErrorIs(pgerror(unique), unique)

	assert.ErrorIs(pgerror(&pgconn.PgError{Code: sqlCheckViolation}), ErrBadParameter)
	assert.ErrorIs(pgerror(&pgconn.PgError{Code: sqlUndefinedTable}), ErrNotAvailable)

	other := errors.New("other")
	assert.Equal(other, pgerror(other))
}
