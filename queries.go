package pg

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queries is a set of named SQL statements. In the source text each statement
// follows a comment line naming it:
//
//	-- message.get
//	SELECT ... FROM ${"schema"}.message WHERE message_id = @message_id::uuid
//
// Binding a set of queries to a connection with WithQueries makes each
// statement available for substitution as ${message.get}.
type Queries struct {
	keys    []string
	queries map[string]string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	reQueryKey = regexp.MustCompile(`^--\s*([a-zA-Z0-9_.-]+)\s*$`)
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewQueries reads named statements. Text before the first key is ignored,
// and a key which appears twice is an error.
func NewQueries(r io.Reader) (*Queries, error) {
	self := &Queries{
		queries: make(map[string]string),
	}

	var key string
	var stmt strings.Builder
	flush := func() {
		if key != "" {
			self.queries[key] = strings.TrimSpace(stmt.String())
			self.keys = append(self.keys, key)
		}
		stmt.Reset()
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if match := reQueryKey.FindStringSubmatch(line); match != nil {
			flush()
			if _, exists := self.queries[match[1]]; exists || match[1] == key {
				return nil, ErrBadParameter.Withf("duplicate query %q", match[1])
			}
			key = match[1]
			continue
		}
		stmt.WriteString(line)
		stmt.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	// Return success
	return self, nil
}

// MustQueries reads named statements from a string and panics on error. It is
// intended for statements embedded in the binary.
func MustQueries(text string) *Queries {
	queries, err := NewQueries(strings.NewReader(text))
	if err != nil {
		panic(err)
	}
	return queries
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Keys returns the statement names in the order they were read.
func (q *Queries) Keys() []string {
	return q.keys
}

// Has returns true if a statement exists with the given name.
func (q *Queries) Has(key string) bool {
	_, exists := q.queries[key]
	return exists
}

// Get returns a statement by name, or an empty string.
func (q *Queries) Get(key string) string {
	return q.queries[key]
}
