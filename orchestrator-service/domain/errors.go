package domain

import (
	"fmt"
	"net/http"

	"github.com/draftea/order-orchestrator/shared/retry"
	"github.com/pkg/errors"
)

var (
	ErrInvalidOrderRequest    = errors.New("invalid order request")
	ErrInvalidPaymentCallback = errors.New("invalid payment callback")
	ErrInstanceNotFound       = errors.New("workflow instance not found")
	ErrInstanceExists         = errors.New("workflow instance already exists")
	ErrInstanceTerminal       = errors.New("workflow instance already finished")
	ErrCancelNotAllowed       = errors.New("workflow can no longer be cancelled")
	ErrConcurrentModification = errors.New("workflow instance was modified concurrently")
	ErrInvalidTransition      = errors.New("invalid workflow transition")
)

// KindClientError marks a 4xx response that carried no error code.
const KindClientError = "client_error"

// RemoteError is a failed call to a collaborator service
type RemoteError struct {
	Op         string
	StatusCode int
	ErrKind    string
	Message    string
	Err        error
}

// NewRemoteError classifies a response status. Network failures, 5xx and
// 429 are transient; other 4xx take the body's error code when present.
func NewRemoteError(op string, statusCode int, errorCode, message string, err error) *RemoteError {
	kind := errorCode
	switch {
	case statusCode == 0, statusCode >= http.StatusInternalServerError, statusCode == http.StatusTooManyRequests:
		kind = retry.KindTransient
	case kind == "":
		kind = KindClientError
	}

	return &RemoteError{Op: op, StatusCode: statusCode, ErrKind: kind, Message: message, Err: err}
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: status %d (%s): %s", e.Op, e.StatusCode, e.ErrKind, e.Message)
	default:
		return fmt.Sprintf("%s: status %d (%s)", e.Op, e.StatusCode, e.ErrKind)
	}
}

func (e *RemoteError) Kind() string {
	return e.ErrKind
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
