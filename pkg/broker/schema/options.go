package schema

import (
	"encoding/json"
	"math"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Options are the message options. Numbers decoded from JSON are float64,
// so the accessors convert from any numeric type.
type Options map[string]any

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	optEta        = "eta"
	optRetries    = "retries"
	optMaxRetries = "max_retries"
	optTraceback  = "traceback"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Eta returns the time a delayed message becomes due
func (o Options) Eta() (time.Time, bool) {
	if ms, ok := number(o[optEta]); ok {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// SetEta sets the due time in milliseconds since the epoch
func (o Options) SetEta(t time.Time) {
	o[optEta] = t.UnixMilli()
}

// Retries returns the number of times the message has been retried
func (o Options) Retries() uint64 {
	if n, ok := number(o[optRetries]); ok && n > 0 {
		return uint64(n)
	}
	return 0
}

func (o Options) SetRetries(n uint64) {
	o[optRetries] = n
}

// MaxRetries returns the retry limit set on the message, if any
func (o Options) MaxRetries() (uint64, bool) {
	if n, ok := number(o[optMaxRetries]); ok && n >= 0 {
		return uint64(n), true
	}
	return 0, false
}

func (o Options) SetMaxRetries(n uint64) {
	o[optMaxRetries] = n
}

// Traceback returns the error recorded by the last failed attempt
func (o Options) Traceback() string {
	s, _ := o[optTraceback].(string)
	return s
}

func (o Options) SetTraceback(s string) {
	if s == "" {
		delete(o, optTraceback)
	} else {
		o[optTraceback] = s
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func number(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		if v > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}
