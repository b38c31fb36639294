package httphandler

import (
	"net/http"

	// Packages
	broker "github.com/mutablelogic/go-pgbroker/pkg/broker"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterMessageHandlers registers HTTP handlers for listing, enqueuing,
// requeuing and purging messages
func RegisterMessageHandlers(router *http.ServeMux, prefix string, broker *broker.Broker, middleware HTTPMiddlewareFuncs) {
	// GET /message lists messages (with optional queue/state/offset/limit params)
	// POST /message enqueues a message
	router.HandleFunc(joinPath(prefix, "message"), middleware.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = messageList(w, r, broker)
		case http.MethodPost:
			_ = messageEnqueue(w, r, broker)
		default:
			_ = httpresponse.Error(w, httpresponse.Err(http.StatusMethodNotAllowed), r.Method)
		}
	}))

	router.HandleFunc(joinPath(prefix, "message/{id}"), middleware.Wrap(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		switch r.Method {
		case http.MethodGet:
			if err := schema.ValidateMessageId(id); err != nil {
				_ = httpresponse.Error(w, err)
				return
			}
			_ = messageGet(w, r, broker, id)
		default:
			_ = httpresponse.Error(w, httpresponse.Err(http.StatusMethodNotAllowed), r.Method)
		}
	}))

	router.HandleFunc(joinPath(prefix, "requeue"), middleware.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = messageRequeue(w, r, broker)
		default:
			_ = httpresponse.Error(w, httpresponse.Err(http.StatusMethodNotAllowed), r.Method)
		}
	}))

	router.HandleFunc(joinPath(prefix, "purge"), middleware.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = messagePurge(w, r, broker)
		default:
			_ = httpresponse.Error(w, httpresponse.Err(http.StatusMethodNotAllowed), r.Method)
		}
	}))
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func messageList(w http.ResponseWriter, r *http.Request, broker *broker.Broker) error {
	// Parse request
	var req schema.MessageListRequest
	if err := httprequest.Query(r.URL.Query(), &req); err != nil {
		return httpresponse.Error(w, err)
	}

	// List the messages
	response, err := broker.ListMessages(r.Context(), req)
	if err != nil {
		return httpresponse.Error(w, httperr(err))
	}

	// Return success
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), response)
}

func messageGet(w http.ResponseWriter, r *http.Request, broker *broker.Broker, id string) error {
	record, err := broker.GetMessage(r.Context(), id)
	if err != nil {
		return httpresponse.Error(w, httperr(err), id)
	}

	// Return success
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), record)
}

func messageEnqueue(w http.ResponseWriter, r *http.Request, broker *broker.Broker) error {
	// Parse request
	var req schema.MessageEnqueueRequest
	if err := httprequest.Read(r, &req); err != nil {
		return httpresponse.Error(w, err)
	}
	if req.Delay < 0 {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("invalid delay %v", req.Delay))
	}

	// Enqueue the message
	message, err := broker.Enqueue(r.Context(), &req.Message, req.Delay)
	if err != nil {
		return httpresponse.Error(w, httperr(err))
	}

	// Return success
	return httpresponse.JSON(w, http.StatusCreated, httprequest.Indent(r), message)
}

func messageRequeue(w http.ResponseWriter, r *http.Request, broker *broker.Broker) error {
	// Parse request
	var req schema.MessageRequeueRequest
	if err := httprequest.Read(r, &req); err != nil {
		return httpresponse.Error(w, err)
	}
	for _, id := range req.MessageIds {
		if err := schema.ValidateMessageId(id); err != nil {
			return httpresponse.Error(w, err)
		}
	}

	// Requeue the messages
	count, err := broker.Requeue(r.Context(), req.MessageIds...)
	if err != nil {
		return httpresponse.Error(w, httperr(err))
	}

	// Return success
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), schema.CountResponse{Count: count})
}

func messagePurge(w http.ResponseWriter, r *http.Request, broker *broker.Broker) error {
	// Parse request, an empty body purges with the broker retention
	var req schema.MessagePurgeRequest
	if r.ContentLength != 0 {
		if err := httprequest.Read(r, &req); err != nil {
			return httpresponse.Error(w, err)
		}
	}
	retention := broker.Retention()
	if req.Retention != nil {
		retention = *req.Retention
	}

	// Purge settled messages
	count, err := broker.Purge(r.Context(), retention)
	if err != nil {
		return httpresponse.Error(w, httperr(err))
	}

	// Return success
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), schema.CountResponse{Count: count})
}
