package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	// Packages
	broker "github.com/mutablelogic/go-pgbroker/pkg/broker"
	httphandler "github.com/mutablelogic/go-pgbroker/pkg/broker/httphandler"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	test "github.com/mutablelogic/go-pgbroker/pkg/test"
	assert "github.com/stretchr/testify/assert"
)

// Global connection variable
var conn test.Conn

// Start up a container and test the pool
func TestMain(m *testing.M) {
	test.Main(m, &conn)
}

func newRouter(t *testing.T, ns string) (*http.ServeMux, *broker.Broker) {
	t.Helper()
	conn := conn.Begin(t)
	b, err := broker.New(context.TODO(), conn, broker.WithNamespace(ns), broker.WithPurgeProbability(0))
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	router := http.NewServeMux()
	httphandler.RegisterBackendHandlers(router, "/api", b, nil)
	return router, b
}

func do(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

////////////////////////////////////////////////////////////////////////////////
// MIDDLEWARE TESTS

func Test_Middleware_Wrap(t *testing.T) {
	assert := assert.New(t)

	var order []string
	middleware := httphandler.HTTPMiddlewareFuncs{
		func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, "first")
				next(w, r)
			}
		},
		func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, "second")
				next(w, r)
			}
		},
	}
	handler := middleware.Wrap(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal([]string{"first", "second", "handler"}, order)

	// No middleware
	var called bool
	httphandler.HTTPMiddlewareFuncs(nil).Wrap(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(called)
}

////////////////////////////////////////////////////////////////////////////////
// MESSAGE TESTS

func Test_Message_Enqueue(t *testing.T) {
	assert := assert.New(t)
	router, _ := newRouter(t, "test_http_enqueue")

	t.Run("Enqueue", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/message", map[string]any{
			"queue_name": "default",
			"actor_name": "add",
			"args":       []any{1, 2},
		})
		assert.Equal(http.StatusCreated, w.Code)

		var message schema.Message
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &message))
		assert.Equal("default", message.QueueName)
		assert.NoError(schema.ValidateMessageId(message.MessageId))

		// Get the message
		w = do(router, http.MethodGet, "/api/message/"+message.MessageId, nil)
		assert.Equal(http.StatusOK, w.Code)
		var record schema.Record
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &record))
		assert.Equal(schema.StateQueued, record.State)
		assert.Equal("add", record.Message.ActorName)
	})

	t.Run("Delay", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/message", map[string]any{
			"queue_name": "default",
			"actor_name": "add",
			"delay":      time.Hour,
		})
		assert.Equal(http.StatusCreated, w.Code)

		var message schema.Message
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &message))
		assert.Equal("default.DQ", message.QueueName)
	})

	t.Run("NotFound", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/message/6a7d4bb2-5a9c-4b7e-9d0e-0e4a2a9d1f00", nil)
		assert.Equal(http.StatusNotFound, w.Code)
	})

	t.Run("InvalidId", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/message/123", nil)
		assert.Equal(http.StatusBadRequest, w.Code)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		w := do(router, http.MethodDelete, "/api/message", nil)
		assert.Equal(http.StatusMethodNotAllowed, w.Code)
	})
}

func Test_Message_List(t *testing.T) {
	assert := assert.New(t)
	router, b := newRouter(t, "test_http_list")
	ctx := context.TODO()

	for i := 0; i < 3; i++ {
		_, err := b.Enqueue(ctx, schema.NewMessage("a", "noop", nil, nil), 0)
		assert.NoError(err)
	}
	_, err := b.Enqueue(ctx, schema.NewMessage("b", "noop", nil, nil), 0)
	assert.NoError(err)

	t.Run("All", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/message", nil)
		assert.Equal(http.StatusOK, w.Code)
		assert.Contains(w.Header().Get("Content-Type"), "application/json")

		var list schema.MessageList
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &list))
		assert.Equal(uint64(4), list.Count)
		assert.Len(list.Body, 4)
	})

	t.Run("Limit", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/message?limit=2", nil)
		assert.Equal(http.StatusOK, w.Code)

		var list schema.MessageList
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &list))
		assert.Equal(uint64(4), list.Count)
		assert.Len(list.Body, 2)
	})

	t.Run("Queue", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/message?queue_name=b", nil)
		assert.Equal(http.StatusOK, w.Code)

		var list schema.MessageList
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &list))
		assert.Equal(uint64(1), list.Count)
	})

	t.Run("Stats", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/queue", nil)
		assert.Equal(http.StatusOK, w.Code)

		var stats schema.QueueStatsList
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal([]schema.QueueStats{
			{Queue: "a", State: schema.StateQueued, Count: 3},
			{Queue: "b", State: schema.StateQueued, Count: 1},
		}, stats.Body)
	})
}

func Test_Message_Requeue(t *testing.T) {
	assert := assert.New(t)
	router, b := newRouter(t, "test_http_requeue")
	ctx := context.TODO()

	message, err := b.Enqueue(ctx, schema.NewMessage("default", "noop", nil, nil), 0)
	assert.NoError(err)

	consumer, err := b.Consume("default", 0, time.Second)
	assert.NoError(err)
	defer consumer.Close(ctx)
	claimed, err := consumer.Next(ctx)
	assert.NoError(err)
	assert.NotNil(claimed)

	w := do(router, http.MethodPost, "/api/requeue", schema.MessageRequeueRequest{MessageIds: []string{message.MessageId}})
	assert.Equal(http.StatusOK, w.Code)
	var response schema.CountResponse
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(uint64(1), response.Count)

	// Invalid id
	w = do(router, http.MethodPost, "/api/requeue", schema.MessageRequeueRequest{MessageIds: []string{"123"}})
	assert.Equal(http.StatusBadRequest, w.Code)
}

func Test_Message_Purge(t *testing.T) {
	assert := assert.New(t)
	router, b := newRouter(t, "test_http_purge")
	ctx := context.TODO()

	message, err := b.Enqueue(ctx, schema.NewMessage("default", "noop", nil, nil), 0)
	assert.NoError(err)
	consumer, err := b.Consume("default", 0, time.Second)
	assert.NoError(err)
	defer consumer.Close(ctx)
	claimed, err := consumer.Next(ctx)
	if assert.NoError(err) && assert.NotNil(claimed) {
		assert.NoError(consumer.Nack(ctx, claimed))
	}

	// The broker retention keeps the message
	w := do(router, http.MethodPost, "/api/purge", nil)
	assert.Equal(http.StatusOK, w.Code)
	var response schema.CountResponse
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &response))
	assert.Zero(response.Count)

	// Zero retention deletes it
	w = do(router, http.MethodPost, "/api/purge", map[string]any{"retention": 0})
	assert.Equal(http.StatusOK, w.Code)
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(uint64(1), response.Count)

	w = do(router, http.MethodGet, "/api/message/"+message.MessageId, nil)
	assert.Equal(http.StatusNotFound, w.Code)
}

////////////////////////////////////////////////////////////////////////////////
// METRICS TESTS

func Test_Metrics_Handler(t *testing.T) {
	assert := assert.New(t)
	router, b := newRouter(t, "test_http_metrics")

	_, err := b.Enqueue(context.TODO(), schema.NewMessage("default", "noop", nil, nil), 0)
	assert.NoError(err)

	t.Run("GetMetrics", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/metrics", nil)
		assert.Equal(http.StatusOK, w.Code)

		body := w.Body.String()
		assert.True(strings.Contains(body, "pgbroker_messages"))
		assert.True(strings.Contains(body, `queue="default"`))
		assert.True(strings.Contains(body, `namespace="test_http_metrics"`))
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/metrics", nil)
		assert.Equal(http.StatusMethodNotAllowed, w.Code)
	})
}
