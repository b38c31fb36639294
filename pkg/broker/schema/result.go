package schema

import (
	"encoding/json"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Result is the outcome of processing a message, either a value or an error
type Result struct {
	Value any          `json:"value"`
	Error *ResultError `json:"error,omitempty"`
}

// ResultError is an error returned by an actor
type ResultError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// ResultSet stores a result against a message for the TTL
type ResultSet struct {
	MessageId string
	Result    Result
	TTL       time.Duration
}

// ResultGet selects an unexpired result by message id
type ResultGet string

// ResultPurge clears expired results
type ResultPurge struct{}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (r Result) String() string {
	return stringify(r)
}

func (e *ResultError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}

////////////////////////////////////////////////////////////////////////////////
// READER

func (r *Result) Scan(row pg.Row) error {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return err
	}
	*r = Result{}
	return json.Unmarshal(data, r)
}

////////////////////////////////////////////////////////////////////////////////
// SELECTOR

func (r ResultSet) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if err := ValidateMessageId(r.MessageId); err != nil {
		return "", err
	}
	if r.TTL <= 0 {
		return "", httpresponse.ErrBadRequest.Withf("invalid result ttl %v", r.TTL)
	}
	data, err := json.Marshal(r.Result)
	if err != nil {
		return "", err
	}
	bind.Set("message_id", r.MessageId)
	bind.Set("result", string(data))
	bind.Set("ttl", r.TTL.Seconds())

	switch op {
	case pg.Update:
		return bind.Replace("${result.set}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported ResultSet operation %q", op)
	}
}

func (id ResultGet) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if err := ValidateMessageId(string(id)); err != nil {
		return "", err
	}
	bind.Set("message_id", string(id))

	switch op {
	case pg.Get:
		return bind.Replace("${result.get}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported ResultGet operation %q", op)
	}
}

func (ResultPurge) Select(bind *pg.Bind, op pg.Op) (string, error) {
	switch op {
	case pg.Update:
		return bind.Replace("${result.purge}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported ResultPurge operation %q", op)
	}
}
