package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/pixperk/zkmutex/pkg/types"
)

// maps domain errors to HTTP status codes
func toHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, types.ErrInvalidRoot), errors.Is(err, types.ErrInvalidPrefix):
		return http.StatusBadRequest

	case errors.Is(err, types.ErrNoNode):
		return http.StatusNotFound

	// the session is gone or reconnecting, retrying later may work
	case errors.Is(err, types.ErrSessionExpired), errors.Is(err, types.ErrConnectionClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}
