package schema

import (
	"regexp"
	"strings"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// QueueStats is the number of rows in a queue with one state
type QueueStats struct {
	Queue string `json:"queue_name"`
	State State  `json:"state"`
	Count uint64 `json:"count"`
}

type QueueStatsRequest struct {
	Queue string `json:"queue_name,omitempty" help:"Queue name"`
}

type QueueStatsList struct {
	Body []QueueStats `json:"body,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	reQueueName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	reNamespace = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (q QueueStats) String() string {
	return stringify(q)
}

func (q QueueStatsList) String() string {
	return stringify(q)
}

////////////////////////////////////////////////////////////////////////////////
// NAMING

// ValidateNamespace checks a namespace can be used as a schema name and
// as the prefix of a notification channel
func ValidateNamespace(ns string) error {
	if !reNamespace.MatchString(ns) {
		return httpresponse.ErrBadRequest.Withf("invalid namespace %q", ns)
	}
	if len(Channel(ns, DelayedQueueName("q"), ChannelEnqueue)) > MaxChannelLen {
		return httpresponse.ErrBadRequest.Withf("namespace %q is too long", ns)
	}
	return nil
}

// ValidateQueueName checks a canonical queue name. The name must not carry
// the delayed suffix, and the channel of its delayed queue must fit within
// the postgres limit on identifiers.
func ValidateQueueName(ns, queue string) error {
	if !reQueueName.MatchString(queue) {
		return httpresponse.ErrBadRequest.Withf("invalid queue name %q", queue)
	}
	if IsDelayedQueue(queue) {
		return httpresponse.ErrBadRequest.Withf("queue name %q has the delayed suffix", queue)
	}
	if channel := Channel(ns, DelayedQueueName(queue), ChannelEnqueue); len(channel) > MaxChannelLen {
		return httpresponse.ErrBadRequest.Withf("queue name %q is too long for channel %q", queue, channel)
	}
	return nil
}

// IsDelayedQueue returns true if the queue holds delayed messages
func IsDelayedQueue(queue string) bool {
	return strings.HasSuffix(queue, DelayedSuffix)
}

// DelayedQueueName returns the delayed queue for a queue
func DelayedQueueName(queue string) string {
	return CanonicalQueueName(queue) + DelayedSuffix
}

// CanonicalQueueName strips the delayed suffix
func CanonicalQueueName(queue string) string {
	return strings.TrimSuffix(queue, DelayedSuffix)
}

// Channel returns the notification channel for an event on a queue
func Channel(ns, queue, event string) string {
	return ns + "." + queue + "." + event
}

////////////////////////////////////////////////////////////////////////////////
// READER

func (s *QueueStats) Scan(row pg.Row) error {
	return row.Scan(&s.Queue, &s.State, &s.Count)
}

func (l *QueueStatsList) Scan(row pg.Row) error {
	var stats QueueStats
	if err := stats.Scan(row); err != nil {
		return err
	}
	l.Body = append(l.Body, stats)
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// SELECTOR

func (r QueueStatsRequest) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if r.Queue != "" {
		bind.Set("queue_names", []string{CanonicalQueueName(r.Queue), DelayedQueueName(r.Queue)})
		bind.Set("where", `WHERE queue_name = ANY(@queue_names::text[])`)
	} else {
		bind.Set("where", "")
	}

	switch op {
	case pg.List:
		return bind.Replace("${queue.stats}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported QueueStatsRequest operation %q", op)
	}
}
