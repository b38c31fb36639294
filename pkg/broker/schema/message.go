package schema

import (
	"encoding/json"
	"strings"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	pg "github.com/mutablelogic/go-pgbroker"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Message is the document stored in the queue table and sent as the
// notification payload. Unknown options are preserved.
type Message struct {
	QueueName        string         `json:"queue_name"`
	ActorName        string         `json:"actor_name"`
	Args             []any          `json:"args"`
	Kwargs           map[string]any `json:"kwargs"`
	Options          Options        `json:"options"`
	MessageId        string         `json:"message_id"`
	MessageTimestamp int64          `json:"message_timestamp"`
}

// Record is a row of the queue table
type Record struct {
	Id        uint64    `json:"id"`
	Queue     string    `json:"queue_name"`
	MessageId string    `json:"message_id"`
	State     State     `json:"state"`
	Mtime     time.Time `json:"mtime"`
	Message   Message   `json:"message"`
}

// MessageId selects a row by message id. A get returns the row, and an
// update claims it when it is queued.
type MessageId string

type MessageListRequest struct {
	pg.OffsetLimit
	Queue string `json:"queue_name,omitempty" help:"Queue name"`
	State State  `json:"state,omitempty" help:"Message state"`
}

type MessageList struct {
	MessageListRequest
	Count uint64   `json:"count"`
	Body  []Record `json:"body,omitempty"`
}

// MessageEnqueue upserts a message and notifies consumers of its queue
type MessageEnqueue struct {
	*Message
}

// MessageSettle moves a message to the done or rejected state and
// notifies result waiters on the ack channel of its queue
type MessageSettle struct {
	*Message
	State State
}

// MessageRequeue moves messages back to the queued state
type MessageRequeue []string

// MessagePurge deletes settled messages older than the retention period
type MessagePurge struct {
	Retention time.Duration
}

// BacklogRequest selects the queued messages of one or more queues
type BacklogRequest []string

// Backlog holds raw message documents in insertion order
type Backlog [][]byte

// Count is the number of rows affected
type Count uint64

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewMessage returns a message for an actor on a queue with a new id
func NewMessage(queue, actor string, args []any, kwargs map[string]any) *Message {
	return &Message{
		QueueName:        queue,
		ActorName:        actor,
		Args:             args,
		Kwargs:           kwargs,
		Options:          make(Options),
		MessageId:        uuid.NewString(),
		MessageTimestamp: time.Now().UnixMilli(),
	}
}

// DecodeMessage decodes a document, which must carry a valid message id
func DecodeMessage(data []byte) (*Message, error) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, httpresponse.ErrBadRequest.Withf("invalid message: %v", err)
	}
	if err := ValidateMessageId(message.MessageId); err != nil {
		return nil, err
	}
	return &message, nil
}

// ValidateMessageId checks an id is a UUID
func ValidateMessageId(id string) error {
	_, err := NormalizeMessageId(id)
	return err
}

// NormalizeMessageId returns the id in the lowercase hyphenated form stored
// by the database
func NormalizeMessageId(id string) (string, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return "", httpresponse.ErrBadRequest.Withf("invalid message id %q", id)
	}
	return uid.String(), nil
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (m Message) String() string {
	return stringify(m)
}

func (r Record) String() string {
	return stringify(r)
}

func (l MessageList) String() string {
	return stringify(l)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Copy returns a copy of the message with its own options
func (m *Message) Copy() *Message {
	copy := *m
	copy.Options = make(Options, len(m.Options))
	for k, v := range m.Options {
		copy.Options[k] = v
	}
	return &copy
}

// Encode returns the document, with empty arguments encoded as [] and {}
func (m *Message) Encode() ([]byte, error) {
	copy := *m
	if copy.Args == nil {
		copy.Args = []any{}
	}
	if copy.Kwargs == nil {
		copy.Kwargs = map[string]any{}
	}
	if copy.Options == nil {
		copy.Options = Options{}
	}
	return json.Marshal(copy)
}

// Payload returns the notification payload for an encoded message. A document
// too large for a notification is replaced by one holding only the id and
// queue, and consumers load the rest from the table.
func (m *Message) Payload(data []byte) string {
	if len(data) <= MaxPayloadLen {
		return string(data)
	}
	stub, err := json.Marshal(struct {
		QueueName string `json:"queue_name"`
		MessageId string `json:"message_id"`
	}{m.QueueName, m.MessageId})
	if err != nil {
		return ""
	}
	return string(stub)
}

////////////////////////////////////////////////////////////////////////////////
// READER

func (r *Record) Scan(row pg.Row) error {
	_, err := r.scan(row)
	return err
}

func (r *Record) scan(row pg.Row) ([]byte, error) {
	var data []byte
	if err := row.Scan(&r.Id, &r.Queue, &r.MessageId, &r.State, &r.Mtime, &data); err != nil {
		return nil, err
	}
	r.Message = Message{}
	if err := json.Unmarshal(data, &r.Message); err != nil {
		return nil, err
	}
	return data, nil
}

func (l *MessageList) Scan(row pg.Row) error {
	var record Record
	if err := record.Scan(row); err != nil {
		return err
	}
	l.Body = append(l.Body, record)
	return nil
}

func (l *MessageList) ScanCount(row pg.Row) error {
	return row.Scan(&l.Count)
}

// Raw documents are kept so that a document which cannot be decoded is
// reported by the consumer rather than failing the whole backlog
func (b *Backlog) Scan(row pg.Row) error {
	var id uint64
	var queue, messageId, state string
	var mtime time.Time
	var data []byte
	if err := row.Scan(&id, &queue, &messageId, &state, &mtime, &data); err != nil {
		return err
	}
	*b = append(*b, data)
	return nil
}

func (c *Count) Scan(row pg.Row) error {
	var n int64
	if err := row.Scan(&n); err != nil {
		return err
	}
	*c = Count(n)
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// WRITER

func (m MessageEnqueue) Insert(bind *pg.Bind) (string, error) {
	if m.Message == nil {
		return "", httpresponse.ErrBadRequest.With("missing message")
	}
	if err := ValidateMessageId(m.MessageId); err != nil {
		return "", err
	}
	data, err := m.Encode()
	if err != nil {
		return "", err
	}

	bind.Set("queue_name", m.QueueName)
	bind.Set("message_id", m.MessageId)
	bind.Set("message", string(data))
	bind.Set("channel", Channel(namespace(bind), m.QueueName, ChannelEnqueue))
	bind.Set("payload", m.Payload(data))

	return bind.Replace("${message.enqueue}"), nil
}

func (m MessageEnqueue) Update(bind *pg.Bind) error {
	return httpresponse.ErrInternalError.With("unsupported MessageEnqueue operation")
}

////////////////////////////////////////////////////////////////////////////////
// SELECTOR

func (id MessageId) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if err := ValidateMessageId(string(id)); err != nil {
		return "", err
	}
	bind.Set("message_id", string(id))

	switch op {
	case pg.Get:
		return bind.Replace("${message.get}"), nil
	case pg.Update:
		return bind.Replace("${message.claim}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported MessageId operation %q", op)
	}
}

func (r MessageListRequest) Select(bind *pg.Bind, op pg.Op) (string, error) {
	var where []string
	if r.Queue != "" {
		bind.Set("queue_name", r.Queue)
		where = append(where, `queue_name = @queue_name`)
	}
	if r.State != "" {
		if !r.State.Valid() {
			return "", httpresponse.ErrBadRequest.Withf("invalid state %q", r.State)
		}
		bind.Set("state", string(r.State))
		where = append(where, `state::text = @state`)
	}
	if len(where) > 0 {
		bind.Set("where", "WHERE "+strings.Join(where, " AND "))
	} else {
		bind.Set("where", "")
	}
	r.OffsetLimit.Bind(bind, MessageListLimit)

	switch op {
	case pg.List:
		return bind.Replace("${message.list}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported MessageListRequest operation %q", op)
	}
}

func (m MessageSettle) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if m.Message == nil {
		return "", httpresponse.ErrBadRequest.With("missing message")
	}
	if err := ValidateMessageId(m.MessageId); err != nil {
		return "", err
	}
	data, err := m.Encode()
	if err != nil {
		return "", err
	}

	// A message moved to another queue since it was claimed is not settled
	bind.Set("queue_name", m.QueueName)
	bind.Set("message_id", m.MessageId)
	bind.Set("message", string(data))
	bind.Set("channel", Channel(namespace(bind), CanonicalQueueName(m.QueueName), ChannelAck))
	bind.Set("payload", m.Payload(data))

	switch {
	case op == pg.Update && m.State == StateDone:
		return bind.Replace("${message.ack}"), nil
	case op == pg.Update && m.State == StateRejected:
		return bind.Replace("${message.nack}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported MessageSettle operation %q to state %q", op, m.State)
	}
}

func (r MessageRequeue) Select(bind *pg.Bind, op pg.Op) (string, error) {
	for _, id := range r {
		if err := ValidateMessageId(id); err != nil {
			return "", err
		}
	}
	bind.Set("message_ids", []string(r))

	switch op {
	case pg.Update:
		return bind.Replace("${message.requeue}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported MessageRequeue operation %q", op)
	}
}

func (r MessagePurge) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if r.Retention < 0 {
		return "", httpresponse.ErrBadRequest.Withf("invalid retention %v", r.Retention)
	}
	bind.Set("retention", r.Retention.Seconds())

	switch op {
	case pg.Delete:
		return bind.Replace("${message.purge}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported MessagePurge operation %q", op)
	}
}

func (r BacklogRequest) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if len(r) == 0 {
		return "", httpresponse.ErrBadRequest.With("missing queue names")
	}
	bind.Set("queue_names", []string(r))

	switch op {
	case pg.List:
		return bind.Replace("${message.backlog}"), nil
	default:
		return "", httpresponse.ErrInternalError.Withf("unsupported BacklogRequest operation %q", op)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func namespace(bind *pg.Bind) string {
	if ns, ok := bind.Get("schema").(string); ok && ns != "" {
		return ns
	}
	return SchemaName
}
