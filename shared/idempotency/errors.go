package idempotency

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidCommandID = errors.New("command id must be a UUID")
	ErrRecordNotFound   = errors.New("idempotency record not found")
	ErrWaitTimeout      = errors.New("timed out waiting for in-flight command")
)

// DuplicateExecutionError is returned for a duplicate submission observed
// while the first one is still running, when the caller rejects duplicates.
type DuplicateExecutionError struct {
	CommandID string
}

func (e *DuplicateExecutionError) Error() string {
	return fmt.Sprintf("command %s is already being executed", e.CommandID)
}
