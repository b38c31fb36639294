// Package sql embeds the statements which create and operate on the
// queue table. Statements are named with "-- key" separator lines and
// reference the schema with the ${"schema"} bind var.
package sql

import (
	_ "embed"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

//go:embed objects.sql
var Objects string

//go:embed queries.sql
var Queries string
