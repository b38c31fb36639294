package httphandler

import (
	"errors"
	"net/http"

	// Packages
	pg "github.com/mutablelogic/go-pgbroker"
	broker "github.com/mutablelogic/go-pgbroker/pkg/broker"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// HTTPMiddlewareFuncs wrap each handler, the first being the outermost
type HTTPMiddlewareFuncs []func(http.HandlerFunc) http.HandlerFunc

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterBackendHandlers registers all broker HTTP handlers on the provided
// router with the given path prefix. The broker must be non-nil.
func RegisterBackendHandlers(router *http.ServeMux, prefix string, broker *broker.Broker, middleware HTTPMiddlewareFuncs) {
	RegisterQueueHandlers(router, prefix, broker, middleware)
	RegisterMessageHandlers(router, prefix, broker, middleware)
	RegisterMetricsHandler(router, prefix, broker, middleware)
}

// Wrap returns the handler wrapped by the middleware
func (m HTTPMiddlewareFuncs) Wrap(handler http.HandlerFunc) http.HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		handler = m[i](handler)
	}
	return handler
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func joinPath(prefix, path string) string {
	return types.JoinPath(prefix, path)
}

// httperr converts pg and broker errors to appropriate HTTP errors.
// Returns the original error if it's already an httpresponse.Err.
func httperr(err error) error {
	if err == nil {
		return nil
	}

	// If already an HTTP error, return as-is
	var httpErr httpresponse.Err
	if errors.As(err, &httpErr) {
		return err
	}

	switch {
	case errors.Is(err, pg.ErrNotFound):
		return httpresponse.ErrNotFound.With(err.Error())
	case errors.Is(err, pg.ErrBadParameter), errors.Is(err, broker.ErrInvalidQueue):
		return httpresponse.ErrBadRequest.With(err.Error())
	case errors.Is(err, pg.ErrConflict):
		return httpresponse.ErrConflict.With(err.Error())
	case errors.Is(err, pg.ErrNotImplemented), errors.Is(err, pg.ErrNotAvailable):
		return httpresponse.ErrNotImplemented.With(err.Error())
	default:
		return httpresponse.ErrInternalError.With(err.Error())
	}
}
