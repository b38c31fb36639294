package schema

import (
	"encoding/json"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Default namespace, which is the postgres schema the queue table lives in
	SchemaName = "dramatiq"

	// Suffix of the queue which holds delayed messages
	DelayedSuffix = ".DQ"

	// Channel suffixes
	ChannelEnqueue = "enqueue"
	ChannelAck     = "ack"

	// Postgres limits on channel names (NAMEDATALEN-1) and notification payloads
	MaxChannelLen = 63
	MaxPayloadLen = 7999

	// Maximum number of rows returned by a list
	MessageListLimit = 100

	// Garbage collection
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultPurgeInterval = time.Hour
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func stringify[T any](v T) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}
