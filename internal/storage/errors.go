package storage

import (
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
)

// ErrUnprocessedItems is returned when the store accepted a call but left
// some put requests unprocessed, and the retry schedule ran out before they
// were all written.
var ErrUnprocessedItems = errors.New("store left items unprocessed")

// WriteError is a permanent failure to write one batch.
type WriteError struct {
	Table    string
	Source   string
	SeqNum   int64
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing batch %d of %s to table %s failed after %d attempt(s): %v",
		e.SeqNum, e.Source, e.Table, e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsResourceNotReady reports whether err means the table does not accept
// writes yet, typically because it is still being created.
func IsResourceNotReady(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ResourceNotFoundException"
	}
	return false
}
