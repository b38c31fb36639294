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

// RegisterQueueHandlers registers a HTTP handler which returns the number of
// messages by queue and state
func RegisterQueueHandlers(router *http.ServeMux, prefix string, broker *broker.Broker, middleware HTTPMiddlewareFuncs) {
	router.HandleFunc(joinPath(prefix, "queue"), middleware.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = queueList(w, r, broker)
		default:
			_ = httpresponse.Error(w, httpresponse.Err(http.StatusMethodNotAllowed), r.Method)
		}
	}))
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func queueList(w http.ResponseWriter, r *http.Request, broker *broker.Broker) error {
	// Parse request
	var req schema.QueueStatsRequest
	if err := httprequest.Query(r.URL.Query(), &req); err != nil {
		return httpresponse.Error(w, err)
	}

	// List the queues
	response, err := broker.ListQueueStats(r.Context(), req.Queue)
	if err != nil {
		return httpresponse.Error(w, httperr(err))
	}

	// Return success
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), response)
}
